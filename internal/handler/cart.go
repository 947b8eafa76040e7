package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/view"
)

const maxBody = 1 << 16

// AddItemRequest is the body of POST /api/cart/items.
type AddItemRequest struct {
	ProductID int64 `json:"productId"`
}

// UpdateItemRequest is the body of PATCH /api/cart/items/{id}.
type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

// Cart renders the cart panel.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, view.NewCartPanel(h.workspace(r).Cart))
}

// AddItem adds one unit of a product. Product details come from the catalog,
// never from the request.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProductID < 1 {
		writeError(w, http.StatusBadRequest, "productId must be positive")
		return
	}

	p, err := h.source.Product(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zctx.From(r.Context()).Error("Fetch product", zap.Error(err), zap.Int64("product_id", req.ProductID))
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}

	c := h.workspace(r).Cart
	c.AddLine(r.Context(), cart.Product{
		ID:          p.ID,
		Title:       p.Title,
		Price:       p.Price,
		Image:       p.Image(),
		Description: p.Description,
	})
	writeJSON(w, http.StatusOK, view.NewCartPanel(c))
}

// UpdateItem sets the quantity of a line. Quantities below one are ignored
// and the cart is returned unchanged.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req UpdateItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c := h.workspace(r).Cart
	c.SetQuantity(r.Context(), id, req.Quantity)
	writeJSON(w, http.StatusOK, view.NewCartPanel(c))
}

// RemoveItem removes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	c := h.workspace(r).Cart
	c.RemoveLine(r.Context(), id)
	writeJSON(w, http.StatusOK, view.NewCartPanel(c))
}

// ClearCart empties the cart and deletes its snapshot.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c := h.workspace(r).Cart
	c.Clear(r.Context())
	writeJSON(w, http.StatusOK, view.NewCartPanel(c))
}

// ToggleCart opens or closes the cart panel. An optional ?open=true|false
// sets the state instead of flipping it.
func (h *Handler) ToggleCart(w http.ResponseWriter, r *http.Request) {
	c := h.workspace(r).Cart
	switch r.URL.Query().Get("open") {
	case "true":
		c.SetVisibility(true)
	case "false":
		c.SetVisibility(false)
	default:
		c.ToggleVisibility()
	}
	writeJSON(w, http.StatusOK, view.NewCartPanel(c))
}
