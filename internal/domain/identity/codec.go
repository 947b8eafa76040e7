package identity

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EncodeSession serializes s as a JSON object.
func EncodeSession(s *Session) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("user_id")
	e.Str(s.UserID)
	e.FieldStart("display_name")
	e.Str(s.DisplayName)
	e.FieldStart("email")
	e.Str(s.Email)
	e.FieldStart("avatar_url")
	e.Str(s.AvatarURL)
	if !s.ExpiresAt.IsZero() {
		e.FieldStart("expires_at")
		e.Str(s.ExpiresAt.UTC().Format(time.RFC3339Nano))
	}
	e.ObjEnd()
	return e.Bytes()
}

// DecodeSession parses a session written by EncodeSession.
func DecodeSession(data []byte) (*Session, error) {
	var s Session
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			s.UserID, err = d.Str()
		case "display_name":
			s.DisplayName, err = d.Str()
		case "email":
			s.Email, err = d.Str()
		case "avatar_url":
			s.AvatarURL, err = d.Str()
		case "expires_at":
			var raw string
			if raw, err = d.Str(); err == nil {
				s.ExpiresAt, err = time.Parse(time.RFC3339Nano, raw)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if s.UserID == "" {
		return nil, errors.New("session without user id")
	}
	return &s, nil
}
