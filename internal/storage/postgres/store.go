package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/identity"
)

const (
	cartExistsSQL = `SELECT EXISTS (SELECT 1 FROM carts WHERE key = $1)`

	getLinesSQL = `SELECT product_id, title, price, image, description, quantity
		FROM cart_lines WHERE cart_key = $1 ORDER BY position`

	putCartSQL = `INSERT INTO carts (key, updated_at) VALUES ($1, now())
		ON CONFLICT (key) DO UPDATE SET updated_at = EXCLUDED.updated_at`

	deleteLinesSQL = `DELETE FROM cart_lines WHERE cart_key = $1`

	deleteCartSQL = `DELETE FROM carts WHERE key = $1`

	getSessionSQL = `SELECT user_id, display_name, email, avatar_url, expires_at
		FROM sessions WHERE shopper_id = $1 AND (expires_at IS NULL OR expires_at > now())`

	putSessionSQL = `INSERT INTO sessions (shopper_id, user_id, display_name, email, avatar_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (shopper_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url,
			expires_at = EXCLUDED.expires_at`

	deleteSessionSQL = `DELETE FROM sessions WHERE shopper_id = $1`

	deleteExpiredSessionsSQL = `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

var (
	_ cart.Store            = (*Store)(nil)
	_ identity.SessionStore = (*Store)(nil)
)

// Store implements cart.Store and identity.SessionStore backed by PostgreSQL.
// Snapshots are kept as rows of cart_lines, one per line, and re-encoded on
// read.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, cartExistsSQL, key).Scan(&exists); err != nil {
		return nil, errors.Wrapf(err, "get snapshot %q", key)
	}
	if !exists {
		return nil, cart.ErrNoSnapshot
	}

	rows, err := s.pool.Query(ctx, getLinesSQL, key)
	if err != nil {
		return nil, errors.Wrapf(err, "get lines %q", key)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, errors.Wrapf(err, "get lines %q", key)
	}
	return cart.EncodeLines(lines), nil
}

// Put replaces the lines stored under key. data must be a snapshot written
// by cart.EncodeLines.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	lines, err := cart.DecodeLines(data)
	if err != nil {
		return errors.Wrapf(err, "put snapshot %q", key)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, putCartSQL, key); err != nil {
			return errors.Wrap(err, "upsert cart")
		}
		if _, err := tx.Exec(ctx, deleteLinesSQL, key); err != nil {
			return errors.Wrap(err, "delete lines")
		}
		if len(lines) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"cart_lines"},
			[]string{"cart_key", "position", "product_id", "title", "price", "image", "description", "quantity"},
			pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
				l := lines[i]
				return []any{key, i, l.ID, l.Title, l.Price, l.Image, l.Description, l.Quantity}, nil
			}),
		)
		if err != nil {
			return errors.Wrap(err, "copy lines")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "put snapshot %q", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteCartSQL, key); err != nil {
		return errors.Wrapf(err, "delete snapshot %q", key)
	}
	return nil
}

// GetSession returns identity.ErrNoSession for missing or expired sessions.
func (s *Store) GetSession(ctx context.Context, shopperID string) (*identity.Session, error) {
	rows, err := s.pool.Query(ctx, getSessionSQL, shopperID)
	if err != nil {
		return nil, errors.Wrapf(err, "get session %q", shopperID)
	}
	sess, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %q", shopperID)
	}
	return &sess, nil
}

func (s *Store) PutSession(ctx context.Context, shopperID string, sess *identity.Session) error {
	var expiresAt *time.Time
	if !sess.ExpiresAt.IsZero() {
		expiresAt = &sess.ExpiresAt
	}
	_, err := s.pool.Exec(ctx, putSessionSQL,
		shopperID, sess.UserID, sess.DisplayName, sess.Email, sess.AvatarURL, expiresAt,
	)
	if err != nil {
		return errors.Wrapf(err, "put session %q", shopperID)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, shopperID string) error {
	if _, err := s.pool.Exec(ctx, deleteSessionSQL, shopperID); err != nil {
		return errors.Wrapf(err, "delete session %q", shopperID)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and returns how
// many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteExpiredSessionsSQL)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired sessions")
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanSession(row pgx.CollectableRow) (identity.Session, error) {
	var (
		sess      identity.Session
		expiresAt *time.Time
	)
	err := row.Scan(&sess.UserID, &sess.DisplayName, &sess.Email, &sess.AvatarURL, &expiresAt)
	if expiresAt != nil {
		sess.ExpiresAt = *expiresAt
	}
	return sess, err
}

// scanLine reads a cart_lines row. price is NUMERIC and scans into
// decimal.Decimal through the codec registered in NewPool.
func scanLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.Title, &l.Price, &l.Image, &l.Description, &l.Quantity)
	return l, err
}
