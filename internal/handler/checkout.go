package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/checkout"
	"github.com/xenking/shopnow/internal/domain/identity"
	"github.com/xenking/shopnow/internal/view"
)

// PendingResponse is served by the guard while the session is unresolved.
type PendingResponse struct {
	Status string `json:"status"`
}

// Guard lets only signed-in shoppers through. It waits up to the settle
// window for the first session event; if none arrives a neutral pending
// placeholder is served, and signed-out shoppers are sent to sign in.
func (h *Handler) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.SettleWindow)
		status := h.workspace(r).Identity.Wait(ctx)
		cancel()

		switch status {
		case identity.StatusAuthenticated:
			next.ServeHTTP(w, r)
		case identity.StatusUnauthenticated:
			http.Redirect(w, r, LoginPath, http.StatusFound)
		default:
			writeJSON(w, http.StatusAccepted, PendingResponse{Status: status.String()})
		}
	})
}

// CheckoutSummary renders the order breakdown of the shopper's cart.
func (h *Handler) CheckoutSummary(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(r)
	writeJSON(w, http.StatusOK, view.NewCheckoutSummary(h.checkout.Summarize(ws.Cart), ws.Identity.Session()))
}

// PlaceOrder confirms the order and empties the cart.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(r)
	conf, err := h.checkout.PlaceOrder(r.Context(), ws.Cart)
	if err != nil {
		if errors.Is(err, checkout.ErrEmptyCart) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zctx.From(r.Context()).Error("Place order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "place order failed")
		return
	}
	writeJSON(w, http.StatusCreated, view.NewConfirmation(conf))
}
