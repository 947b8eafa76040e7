package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/identity"
	"github.com/xenking/shopnow/internal/view"
)

// LoginPath starts the sign-in flow.
const LoginPath = "/auth/login"

const stateCookie = "oauth_state"

// Session renders the identity state of the shopper.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id := h.workspace(r).Identity
	writeJSON(w, http.StatusOK, view.NewSession(id.Status(), id.Session()))
}

// Login redirects to the identity provider. The state nonce is kept both in
// the shopper's container and in a short-lived cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, state := h.workspace(r).Identity.BeginLogin()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the sign-in. A cancelled or failed sign-in is logged and
// the shopper is sent back to the storefront with the session unchanged.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())
	q := r.URL.Query()
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	if e := q.Get("error"); e != "" {
		lg.Info("Sign in cancelled", zap.String("error", e))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	state := q.Get("state")
	if c, err := r.Cookie(stateCookie); err != nil || c.Value != state {
		writeError(w, http.StatusBadRequest, identity.ErrInvalidState.Error())
		return
	}

	if _, err := h.workspace(r).Identity.CompleteLogin(r.Context(), state, q.Get("code")); err != nil {
		if errors.Is(err, identity.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lg.Warn("Sign in failed", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout signs the shopper out.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id := h.workspace(r).Identity
	if err := id.Logout(r.Context()); err != nil {
		zctx.From(r.Context()).Error("Sign out", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sign out failed")
		return
	}
	writeJSON(w, http.StatusOK, view.NewSession(id.Status(), id.Session()))
}
