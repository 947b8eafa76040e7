// Package redis implements the cart snapshot and session stores on Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/identity"
)

var (
	_ cart.Store            = (*Store)(nil)
	_ identity.SessionStore = (*Store)(nil)
)

// DefaultSnapshotTTL keeps an untouched cart for a month.
const DefaultSnapshotTTL = 30 * 24 * time.Hour

// Store keeps snapshots under their cart key and sessions under
// "<sessionPrefix>:<shopper>".
type Store struct {
	client        redis.UniversalClient
	snapshotTTL   time.Duration
	sessionPrefix string
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotTTL sets the expiry refreshed on every snapshot write. Zero
// disables expiry.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(s *Store) { s.snapshotTTL = ttl }
}

// WithSessionPrefix sets the key prefix of sessions.
func WithSessionPrefix(prefix string) Option {
	return func(s *Store) { s.sessionPrefix = prefix }
}

// New creates a store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:        client,
		snapshotTTL:   DefaultSnapshotTTL,
		sessionPrefix: "shopnow-session",
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrNoSnapshot
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, s.snapshotTTL).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (s *Store) sessionKey(shopperID string) string {
	return s.sessionPrefix + ":" + shopperID
}

func (s *Store) GetSession(ctx context.Context, shopperID string) (*identity.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(shopperID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, identity.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return identity.DecodeSession(data)
}

// PutSession stores sess until its expiry.
func (s *Store) PutSession(ctx context.Context, shopperID string, sess *identity.Session) error {
	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.DeleteSession(ctx, shopperID)
		}
	}
	if err := s.client.Set(ctx, s.sessionKey(shopperID), identity.EncodeSession(sess), ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, shopperID string) error {
	if err := s.client.Del(ctx, s.sessionKey(shopperID)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
