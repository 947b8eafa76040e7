// Package identity tracks who the shopper is signed in as.
//
// A Provider owns sessions and publishes changes to subscribers. A Container
// is the per-shopper view of that stream that the rest of the application
// reads from.
package identity

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidState is returned when a login callback carries a state that
	// does not match the one issued by BeginLogin.
	ErrInvalidState = errors.New("invalid login state")
	// ErrNoSession is returned by a SessionStore when no session is stored.
	ErrNoSession = errors.New("no session")
)

// Session is an authenticated identity.
type Session struct {
	UserID      string
	DisplayName string
	Email       string
	AvatarURL   string
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry at now. A zero
// ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Event is a session change. A nil Session means signed out.
type Event struct {
	Session *Session
}

// SignedIn reports whether the event carries a session.
func (e Event) SignedIn() bool { return e.Session != nil }

// SessionStore keeps sessions by shopper id.
type SessionStore interface {
	// GetSession returns ErrNoSession when nothing is stored.
	GetSession(ctx context.Context, shopperID string) (*Session, error)
	PutSession(ctx context.Context, shopperID string, s *Session) error
	DeleteSession(ctx context.Context, shopperID string) error
}

// Authenticator runs the interactive federated sign-in.
type Authenticator interface {
	// AuthCodeURL returns the URL the shopper is sent to for signing in.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for a verified session.
	Exchange(ctx context.Context, code string) (*Session, error)
}
