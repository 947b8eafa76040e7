package shopper

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCookieName is the cookie carrying the shopper id.
const DefaultCookieName = "shopnow_shopper"

// CookieConfig configures the shopper cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

type idKey struct{}

// IDFromContext returns the shopper id stored by Middleware, or "".
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}

// WithID stores a shopper id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// Middleware makes sure every request carries a shopper id. A missing or
// malformed cookie is replaced with a fresh random id. The id is stored in
// the request context and added to the request logger.
func Middleware(cfg CookieConfig) func(http.Handler) http.Handler {
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 365 * 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(cfg.Name); err == nil && isValidID(c.Value) {
				id = c.Value
			} else {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.Name,
					Value:    id,
					Path:     "/",
					MaxAge:   int(cfg.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := WithID(r.Context(), id)
			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("shopper", id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil && len(v) == 36
}
