package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoSnapshot is returned by a Store when nothing is stored under a key.
var ErrNoSnapshot = errors.New("no cart snapshot")

// Store keeps serialized cart snapshots, one value per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// DefaultKeyPrefix prefixes every snapshot key.
const DefaultKeyPrefix = "shopnow-cart"

// Key returns the snapshot key of a shopper.
func Key(prefix, shopperID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + shopperID
}

// Snapshots encodes carts as JSON arrays of lines and moves them in and out
// of a Store.
type Snapshots struct {
	store Store
	lg    *zap.Logger
}

// NewSnapshots wraps store.
func NewSnapshots(store Store, lg *zap.Logger) *Snapshots {
	return &Snapshots{store: store, lg: lg}
}

// Restore loads the lines stored under key. It never fails: a missing
// snapshot yields no lines, and an unreadable one is logged, deleted, and
// treated as missing. The boolean reports whether a snapshot is in the
// store afterwards.
func (s *Snapshots) Restore(ctx context.Context, key string) ([]Line, bool) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNoSnapshot) {
		return nil, false
	}
	if err != nil {
		s.lg.Error("Load cart snapshot", zap.Error(err), zap.String("key", key))
		return nil, false
	}

	lines, err := DecodeLines(data)
	if err != nil {
		s.lg.Warn("Discarding corrupt cart snapshot",
			zap.Error(err),
			zap.String("key", key),
			zap.Int("size", len(data)),
		)
		if err := s.store.Delete(ctx, key); err != nil {
			s.lg.Error("Delete corrupt cart snapshot", zap.Error(err), zap.String("key", key))
			return nil, true
		}
		return nil, false
	}
	return lines, true
}

// Save stores lines under key.
func (s *Snapshots) Save(ctx context.Context, key string, lines []Line) error {
	if err := s.store.Put(ctx, key, EncodeLines(lines)); err != nil {
		return errors.Wrap(err, "put snapshot")
	}
	return nil
}

// Delete removes the snapshot stored under key.
func (s *Snapshots) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "delete snapshot")
	}
	return nil
}

// EncodeLines serializes lines as a JSON array. An empty cart encodes as [].
func EncodeLines(lines []Line) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(l.ID)
		e.FieldStart("title")
		e.Str(l.Title)
		e.FieldStart("price")
		e.Num(jx.Num(l.Price.String()))
		e.FieldStart("image")
		e.Str(l.Image)
		e.FieldStart("description")
		e.Str(l.Description)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

// DecodeLines parses a JSON array of lines. Lines with a quantity below 1
// are dropped and repeated product ids are merged, so the result always
// satisfies the cart invariants.
func DecodeLines(data []byte) ([]Line, error) {
	d := jx.DecodeBytes(data)
	if tt := d.Next(); tt != jx.Array {
		return nil, errors.Errorf("snapshot is %s, not an array", tt)
	}

	var lines []Line
	seen := map[int64]int{}
	if err := d.Arr(func(d *jx.Decoder) error {
		l, err := decodeLine(d)
		if err != nil {
			return err
		}
		if l.Quantity < 1 {
			return nil
		}
		if i, ok := seen[l.ID]; ok {
			lines[i].Quantity += l.Quantity
			return nil
		}
		seen[l.ID] = len(lines)
		lines = append(lines, l)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode lines")
	}
	if tt := d.Next(); tt != jx.Invalid {
		return nil, errors.Errorf("unexpected %s after snapshot", tt)
	}
	return lines, nil
}

func decodeLine(d *jx.Decoder) (Line, error) {
	var l Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			l.ID, err = d.Int64()
		case "title":
			l.Title, err = optionalStr(d)
		case "price":
			l.Price, err = decodePrice(d)
		case "image":
			l.Image, err = optionalStr(d)
		case "description":
			l.Description, err = optionalStr(d)
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return l, err
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if p.IsNegative() {
		return decimal.Zero, errors.Errorf("negative price %s", p)
	}
	return p, nil
}
