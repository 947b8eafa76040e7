// Package handler exposes the shopper workspaces over HTTP: JSON view models
// under /api, the sign-in flow under /auth, and the browser app.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/domain/checkout"
	"github.com/xenking/shopnow/internal/shopper"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebDir is the directory of the built browser app. When empty only the
	// API and auth routes are served.
	WebDir string
	// SettleWindow is how long the checkout guard waits for the first
	// session event before answering with a pending placeholder.
	SettleWindow time.Duration
	// SecureCookies marks the sign-in state cookie Secure.
	SecureCookies bool
	// Cookie configures the shopper cookie.
	Cookie shopper.CookieConfig
}

// Handler serves the storefront.
type Handler struct {
	cfg      Config
	registry *shopper.Registry
	source   catalog.Source
	checkout *checkout.Service
}

// New constructs a Handler with the required dependencies.
func New(
	cfg Config,
	registry *shopper.Registry,
	source catalog.Source,
	checkoutSvc *checkout.Service,
) *Handler {
	if cfg.SettleWindow <= 0 {
		cfg.SettleWindow = 2 * time.Second
	}
	return &Handler{
		cfg:      cfg,
		registry: registry,
		source:   source,
		checkout: checkoutSvc,
	}
}

// Routes returns the storefront router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(shopper.Middleware(h.cfg.Cookie))

	r.Route("/api", func(r chi.Router) {
		r.Get("/browse", h.Browse)
		r.Get("/categories", h.Categories)
		r.Get("/products", h.Products)
		r.Get("/products/{id}", h.Product)
		r.Get("/listing", h.Listing)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart)
			r.Delete("/", h.ClearCart)
			r.Post("/toggle", h.ToggleCart)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{id}", h.UpdateItem)
			r.Delete("/items/{id}", h.RemoveItem)
		})

		r.Get("/session", h.Session)

		r.Group(func(r chi.Router) {
			r.Use(h.Guard)
			r.Get("/checkout", h.CheckoutSummary)
			r.Post("/checkout", h.PlaceOrder)
		})
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
		r.Post("/logout", h.Logout)
	})

	if h.cfg.WebDir != "" {
		h.mountApp(r)
	}
	return r
}

// workspace returns the workspace of the shopper making the request.
func (h *Handler) workspace(r *http.Request) *shopper.Workspace {
	return h.registry.Get(r.Context(), shopper.IDFromContext(r.Context()))
}

// categories fetches the category list. A failure is logged and yields no
// categories.
func (h *Handler) categories(ctx context.Context) []catalog.Category {
	cats, err := h.source.Categories(ctx)
	if err != nil {
		zctx.From(ctx).Error("Fetch categories", zap.Error(err))
		return nil
	}
	return cats
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Code: status, Message: message})
}
