package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/view"
)

// Browse renders the landing page. Categories and the listing are fetched
// concurrently.
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ws := h.workspace(r)

	var (
		cats   []catalog.Category
		result catalog.Result
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		cats = h.categories(ctx)
		return nil
	})
	g.Go(func() error {
		result = ws.Listing.Load(ctx, q)
		return nil
	})
	_ = g.Wait()

	writeJSON(w, http.StatusOK, view.Browse{
		NavBar:     view.NewNavBar(ws.Cart.Count(), ws.Identity.Status(), ws.Identity.Session()),
		Categories: view.NewCategoryStrip(cats, selectedCategory(q)),
		Grid:       view.NewProductGrid(result.Page, cats),
		Cart:       view.NewCartPanel(ws.Cart),
	})
}

// Categories lists the catalog categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view.NewCategoryStrip(h.categories(r.Context()), selectedCategory(q)))
}

// Products loads a listing page into the shopper's listing and renders it. A
// response overtaken by a newer request is still returned but marked with the
// X-Listing-Stale header.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ws := h.workspace(r)

	var (
		cats   []catalog.Category
		result catalog.Result
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		if q.SearchText == "" && selectedCategory(q) != 0 {
			cats = h.categories(ctx)
		}
		return nil
	})
	g.Go(func() error {
		result = ws.Listing.Load(ctx, q)
		return nil
	})
	_ = g.Wait()

	if result.Stale {
		w.Header().Set("X-Listing-Stale", "true")
	}
	writeJSON(w, http.StatusOK, view.NewProductGrid(result.Page, cats))
}

// Listing renders the shopper's current listing state without fetching.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	st := h.workspace(r).Listing.State()
	var cats []catalog.Category
	if st.Query.SearchText == "" && selectedCategory(st.Query) != 0 {
		cats = h.categories(r.Context())
	}
	writeJSON(w, http.StatusOK, view.NewListingGrid(st, cats))
}

// Product renders a single product.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	p, err := h.source.Product(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		zctx.From(r.Context()).Error("Fetch product", zap.Error(err), zap.Int64("product_id", id))
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}

	inCart := 0
	for _, l := range h.workspace(r).Cart.Lines() {
		if l.ID == id {
			inCart = l.Quantity
		}
	}
	writeJSON(w, http.StatusOK, view.NewProductDetail(*p, inCart))
}

func selectedCategory(q catalog.Query) int64 {
	if q.CategoryID != 0 {
		return q.CategoryID
	}
	return q.StripCategoryID
}

// parseQuery reads a listing query from URL parameters: q, category (the
// category strip), categoryId (the filter form), price_min, price_max, page
// and limit.
func parseQuery(v url.Values) (catalog.Query, error) {
	var (
		q   catalog.Query
		err error
	)
	q.SearchText = strings.TrimSpace(v.Get("q"))
	if q.StripCategoryID, err = optionalID(v, "category"); err != nil {
		return q, err
	}
	if q.CategoryID, err = optionalID(v, "categoryId"); err != nil {
		return q, err
	}
	if q.PriceMin, err = optionalPrice(v, "price_min"); err != nil {
		return q, err
	}
	if q.PriceMax, err = optionalPrice(v, "price_max"); err != nil {
		return q, err
	}
	if q.Page, err = optionalInt(v, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = optionalInt(v, "limit"); err != nil {
		return q, err
	}
	if q.Page > catalog.MaxPage {
		return q, errors.Errorf("page must not exceed %d", catalog.MaxPage)
	}
	if q.Limit > catalog.MaxLimit {
		return q, errors.Errorf("limit must not exceed %d", catalog.MaxLimit)
	}
	return q.Normalize(), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func optionalID(v url.Values, name string) (int64, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	id, err := parseID(s)
	if err != nil {
		return 0, errors.Errorf("invalid %s", name)
	}
	return id, nil
}

func optionalInt(v url.Values, name string) (int, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s", name)
	}
	return n, nil
}

func optionalPrice(v url.Values, name string) (decimal.NullDecimal, error) {
	s := v.Get(name)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}, errors.Errorf("invalid %s", name)
	}
	return decimal.NewNullDecimal(d), nil
}
