package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/domain/checkout"
	"github.com/xenking/shopnow/internal/domain/identity"
	"github.com/xenking/shopnow/internal/shopper"
	"github.com/xenking/shopnow/internal/storage/memory"
	"github.com/xenking/shopnow/internal/view"
)

const (
	shopperID = "6f1c1f3e-9a2b-4c4d-8e5f-0a1b2c3d4e5f"
	timeout   = time.Second
	tick      = 5 * time.Millisecond
)

// --- Mock implementations ---

type fakeSource struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	cats     []catalog.Category
	requests []catalog.Request
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		products: map[int64]catalog.Product{
			1: {ID: 1, Title: "Mug", Price: decimal.NewFromInt(10), Images: []string{"https://img/1"}},
			2: {ID: 2, Title: "Lamp", Price: decimal.RequireFromString("4.5"), Category: catalog.Category{ID: 3, Name: "Furniture"}},
		},
		cats: []catalog.Category{{ID: 3, Name: "Furniture"}},
	}
}

func (f *fakeSource) Products(_ context.Context, req catalog.Request) ([]catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return []catalog.Product{f.products[1], f.products[2]}, nil
}

func (f *fakeSource) Product(_ context.Context, id int64) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (f *fakeSource) Categories(context.Context) ([]catalog.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cats, f.err
}

func (f *fakeSource) lastRequest() catalog.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeAuth struct{}

func (fakeAuth) AuthCodeURL(state string) string {
	return "https://idp.example/auth?state=" + url.QueryEscape(state)
}

func (fakeAuth) Exchange(_ context.Context, code string) (*identity.Session, error) {
	if code != "good" {
		return nil, errors.New("bad code")
	}
	return &identity.Session{UserID: "u-1", DisplayName: "Alice Smith", Email: "alice@example.com"}, nil
}

// blockingStore holds session lookups until release is closed.
type blockingStore struct {
	*memory.Store
	release chan struct{}
}

func (b *blockingStore) GetSession(ctx context.Context, id string) (*identity.Session, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Store.GetSession(ctx, id)
}

// --- Helpers ---

type testEnv struct {
	h      http.Handler
	source *fakeSource
	store  *memory.Store
}

func newEnv(t *testing.T, sessions identity.SessionStore, cfg Config) *testEnv {
	t.Helper()
	lg := zap.NewNop()
	store := memory.New()
	if sessions == nil {
		sessions = store
	}
	src := newFakeSource()

	registry, err := shopper.NewRegistry(
		shopper.Config{IdleTTL: time.Minute},
		cart.NewSnapshots(store, lg),
		identity.NewProvider(sessions, fakeAuth{}, lg),
		src,
		lg,
	)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	if cfg.SettleWindow == 0 {
		cfg.SettleWindow = timeout
	}
	h := New(cfg, registry, src, checkout.NewService(checkout.DefaultRates, lg))
	return &testEnv{h: h.Routes(), source: src, store: store}
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: shopper.DefaultCookieName, Value: shopperID})
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func signIn(t *testing.T, store *memory.Store) {
	t.Helper()
	require.NoError(t, store.PutSession(context.Background(), shopperID, &identity.Session{
		UserID:      "u-1",
		DisplayName: "Alice Smith",
	}))
}

// --- Tests ---

func TestRoutes_IssuesShopperCookie(t *testing.T) {
	env := newEnv(t, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	w := httptest.NewRecorder()
	env.h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, shopper.DefaultCookieName, cookies[0].Name)

	panel := decode[view.CartPanel](t, w)
	assert.Equal(t, "0 items", panel.Label)
	assert.Equal(t, "Your cart is empty", panel.Empty)
}

func TestCart_Lifecycle(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodPost, "/api/cart/items", `{"productId":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/cart/items", `{"productId":1}`)
	panel := decode[view.CartPanel](t, w)
	assert.True(t, panel.Open)
	assert.Equal(t, 2, panel.Count)
	assert.Equal(t, "20.00", panel.Total)
	assert.Equal(t, "1 item", panel.Label)

	w = env.do(t, http.MethodPatch, "/api/cart/items/1", `{"quantity":3}`)
	panel = decode[view.CartPanel](t, w)
	assert.Equal(t, "30.00", panel.Total)

	w = env.do(t, http.MethodPatch, "/api/cart/items/1", `{"quantity":0}`)
	panel = decode[view.CartPanel](t, w)
	assert.Equal(t, 3, panel.Count, "sub-1 quantity is ignored")

	w = env.do(t, http.MethodPost, "/api/cart/toggle", "")
	panel = decode[view.CartPanel](t, w)
	assert.False(t, panel.Open)

	w = env.do(t, http.MethodDelete, "/api/cart/items/1", "")
	panel = decode[view.CartPanel](t, w)
	assert.Empty(t, panel.Lines)
	assert.Equal(t, "0.00", panel.Total)
}

func TestCart_PersistsSnapshot(t *testing.T) {
	env := newEnv(t, nil, Config{})

	env.do(t, http.MethodPost, "/api/cart/items", `{"productId":2}`)

	data, err := env.store.Get(context.Background(), cart.Key(cart.DefaultKeyPrefix, shopperID))
	require.NoError(t, err)
	lines, err := cart.DecodeLines(data)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Lamp", lines[0].Title)

	w := env.do(t, http.MethodDelete, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err = env.store.Get(context.Background(), cart.Key(cart.DefaultKeyPrefix, shopperID))
	assert.ErrorIs(t, err, cart.ErrNoSnapshot)
}

func TestCart_AddItemErrors(t *testing.T) {
	env := newEnv(t, nil, Config{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "malformed body", body: `{`, code: http.StatusBadRequest},
		{name: "missing product", body: `{}`, code: http.StatusBadRequest},
		{name: "unknown product", body: `{"productId":99}`, code: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/cart/items", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestProducts_BuildsRequest(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/api/products?q=mug&category=3&page=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	req := env.source.lastRequest()
	assert.Equal(t, catalog.KindSearch, req.Kind)
	assert.Equal(t, "mug", req.Params.Get("title"))
	assert.Equal(t, "12", req.Params.Get("offset"))

	grid := decode[view.ProductGrid](t, w)
	assert.Equal(t, "Search Results", grid.Title)
	assert.Equal(t, 2, grid.Page)
	assert.True(t, grid.HasPrev)
	assert.False(t, grid.HasNext)
	assert.Len(t, grid.Products, 2)
}

func TestProducts_CategoryTitle(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/api/products?category=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, catalog.KindCategory, env.source.lastRequest().Kind)
	assert.Equal(t, "Furniture", decode[view.ProductGrid](t, w).Title)

	w = env.do(t, http.MethodGet, "/api/listing", "")
	grid := decode[view.ProductGrid](t, w)
	assert.Equal(t, "Furniture", grid.Title)
	assert.False(t, grid.Loading)
}

func TestProducts_InvalidQuery(t *testing.T) {
	env := newEnv(t, nil, Config{})

	for _, q := range []string{
		"page=x", "category=-1", "price_min=abc", "limit=1000",
		"page=10001", "page=9223372036854775807",
	} {
		w := env.do(t, http.MethodGet, "/api/products?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestProducts_UpstreamFailureRendersEmptyGrid(t *testing.T) {
	env := newEnv(t, nil, Config{})
	env.source.err = errors.New("boom")

	w := env.do(t, http.MethodGet, "/api/products?price_min=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	grid := decode[view.ProductGrid](t, w)
	assert.Empty(t, grid.Products)
	assert.Equal(t, "No products found with these filters", grid.Empty)
}

func TestProduct(t *testing.T) {
	env := newEnv(t, nil, Config{})
	env.do(t, http.MethodPost, "/api/cart/items", `{"productId":2}`)

	w := env.do(t, http.MethodGet, "/api/products/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[view.ProductDetail](t, w)
	assert.Equal(t, "4.50", detail.Price)
	assert.Equal(t, "Furniture", detail.Category)
	assert.Equal(t, 1, detail.InCart)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/products/42", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/products/abc", "").Code)
}

func TestBrowse(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/api/browse", "")
	require.Equal(t, http.StatusOK, w.Code)

	page := decode[view.Browse](t, w)
	assert.Equal(t, "Featured", page.Grid.Title)
	assert.Len(t, page.Categories.Categories, 1)
	assert.Equal(t, 0, page.NavBar.CartCount)
	assert.Equal(t, "0 items", page.Cart.Label)
}

func TestGuard_RedirectsSignedOut(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/api/checkout", "")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestGuard_PendingPlaceholder(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	env := newEnv(t, &blockingStore{Store: memory.New(), release: release}, Config{SettleWindow: 20 * time.Millisecond})

	w := env.do(t, http.MethodGet, "/api/checkout", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decode[PendingResponse](t, w).Status)
}

func TestCheckout_SummaryAndOrder(t *testing.T) {
	env := newEnv(t, nil, Config{})
	signIn(t, env.store)

	env.do(t, http.MethodPost, "/api/cart/items", `{"productId":1}`)
	env.do(t, http.MethodPost, "/api/cart/items", `{"productId":1}`)

	w := env.do(t, http.MethodGet, "/api/checkout", "")
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[view.CheckoutSummary](t, w)
	assert.Equal(t, "20.00", sum.Subtotal)
	assert.Equal(t, "10.00", sum.Shipping)
	assert.Equal(t, "1.60", sum.Tax)
	assert.Equal(t, "31.60", sum.Total)
	require.NotNil(t, sum.User)
	assert.Equal(t, "Alice", sum.User.FirstName)

	w = env.do(t, http.MethodPost, "/api/checkout", "")
	require.Equal(t, http.StatusCreated, w.Code)
	conf := decode[view.Confirmation](t, w)
	assert.Equal(t, "31.60", conf.Total)
	assert.Equal(t, checkout.SuccessMessage, conf.Message)

	panel := decode[view.CartPanel](t, env.do(t, http.MethodGet, "/api/cart", ""))
	assert.Empty(t, panel.Lines)

	w = env.do(t, http.MethodPost, "/api/checkout", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAuth_LoginCallbackLogout(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCk *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			stateCk = c
		}
	}
	require.NotNil(t, stateCk)
	assert.Equal(t, state, stateCk.Value)

	w = env.do(t, http.MethodGet, "/auth/callback?code=good&state="+url.QueryEscape(state), "", stateCk)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	sess := decode[view.Session](t, env.do(t, http.MethodGet, "/api/session", ""))
	assert.Equal(t, "authenticated", sess.Status)
	require.NotNil(t, sess.User)
	assert.Equal(t, "Alice", sess.User.FirstName)

	w = env.do(t, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	sess = decode[view.Session](t, w)
	assert.Equal(t, "unauthenticated", sess.Status)
	assert.Nil(t, sess.User)
}

func TestAuth_CallbackRejectsStateMismatch(t *testing.T) {
	env := newEnv(t, nil, Config{})
	env.do(t, http.MethodGet, "/auth/login", "")

	w := env.do(t, http.MethodGet, "/auth/callback?code=good&state=forged", "",
		&http.Cookie{Name: stateCookie, Value: "forged"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	sess := decode[view.Session](t, env.do(t, http.MethodGet, "/api/session", ""))
	assert.NotEqual(t, "authenticated", sess.Status)
}

func TestAuth_CallbackFailureKeepsSession(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/auth/callback?error=access_denied", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/auth/login", "")
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	w = env.do(t, http.MethodGet, "/auth/callback?code=bad&state="+url.QueryEscape(state), "",
		&http.Cookie{Name: stateCookie, Value: state})
	assert.Equal(t, http.StatusFound, w.Code)

	require.Eventually(t, func() bool {
		sess := decode[view.Session](t, env.do(t, http.MethodGet, "/api/session", ""))
		return sess.Status == "unauthenticated"
	}, timeout, tick)
}

func TestApp_ServesAndRedirects(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>shop</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))
	env := newEnv(t, nil, Config{WebDir: dir})

	w := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shop")

	w = env.do(t, http.MethodGet, "/product/7", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/no/such/page", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/checkout", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestAPI_UnknownRouteIsJSON(t *testing.T) {
	env := newEnv(t, nil, Config{})

	w := env.do(t, http.MethodGet, "/api/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}
