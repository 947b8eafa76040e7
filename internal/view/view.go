// Package view turns container state into the JSON documents rendered by the
// storefront. Money is formatted with two decimals here and nowhere else.
package view

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/domain/checkout"
	"github.com/xenking/shopnow/internal/domain/identity"
)

const (
	summaryLen    = 80
	noDescription = "No description available"
	emptyCart     = "Your cart is empty"
)

// Money formats an amount with two decimals.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ItemLabel returns "1 item" or "N items".
func ItemLabel(n int) string {
	if n == 1 {
		return "1 item"
	}
	return strconv.Itoa(n) + " items"
}

// Summarize cuts s to 80 runes followed by "...".
func Summarize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return noDescription
	}
	if utf8.RuneCountInString(s) <= summaryLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:summaryLen])) + "..."
}

// User is the signed-in shopper as shown in the navigation bar.
type User struct {
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Session is the identity part of the page.
type Session struct {
	Status string `json:"status"`
	User   *User  `json:"user,omitempty"`
}

// NewSession renders the session. No user data is shown unless the status
// is authenticated, so a pending container never flashes a signed-out or
// signed-in view.
func NewSession(status identity.Status, s *identity.Session) Session {
	v := Session{Status: status.String()}
	if status != identity.StatusAuthenticated || s == nil {
		return v
	}
	first := "User"
	if fields := strings.Fields(s.DisplayName); len(fields) > 0 {
		first = fields[0]
	}
	v.User = &User{
		Name:      s.DisplayName,
		FirstName: first,
		Email:     s.Email,
		AvatarURL: s.AvatarURL,
	}
	return v
}

// NavBar is the navigation bar.
type NavBar struct {
	CartCount int     `json:"cartCount"`
	Session   Session `json:"session"`
}

// NewNavBar renders the navigation bar.
func NewNavBar(cartCount int, status identity.Status, s *identity.Session) NavBar {
	return NavBar{CartCount: cartCount, Session: NewSession(status, s)}
}

// Category is one entry of the category strip.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CategoryStrip lists categories with the selected one highlighted.
type CategoryStrip struct {
	Categories []Category `json:"categories"`
	SelectedID int64      `json:"selectedId,omitempty"`
}

// NewCategoryStrip renders the category strip.
func NewCategoryStrip(categories []catalog.Category, selected int64) CategoryStrip {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		out = append(out, Category{ID: c.ID, Name: c.Name, Image: c.Image})
	}
	return CategoryStrip{Categories: out, SelectedID: selected}
}

// ProductCard is a product in the grid.
type ProductCard struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Price   string `json:"price"`
	Image   string `json:"image,omitempty"`
	Summary string `json:"summary"`
}

// ProductGrid is the product listing.
type ProductGrid struct {
	Title    string        `json:"title"`
	Products []ProductCard `json:"products"`
	Page     int           `json:"page"`
	HasPrev  bool          `json:"hasPrev"`
	HasNext  bool          `json:"hasNext"`
	Loading  bool          `json:"loading,omitempty"`
	Empty    string        `json:"empty,omitempty"`
}

// NewProductGrid renders a listing page. categories resolve the title of a
// category listing.
func NewProductGrid(p catalog.Page, categories []catalog.Category) ProductGrid {
	g := ProductGrid{
		Title:    PageTitle(p.Query, categories),
		Products: make([]ProductCard, 0, len(p.Products)),
		Page:     max(p.Query.Page, 1),
		HasNext:  p.HasNext,
	}
	g.HasPrev = g.Page > 1
	for _, pr := range p.Products {
		g.Products = append(g.Products, ProductCard{
			ID:      pr.ID,
			Title:   pr.Title,
			Price:   Money(pr.Price),
			Image:   pr.Image(),
			Summary: Summarize(pr.Description),
		})
	}
	if len(g.Products) == 0 {
		if p.Query.SearchText != "" {
			g.Empty = `No products found matching "` + p.Query.SearchText + `"`
		} else {
			g.Empty = "No products found with these filters"
		}
	}
	return g
}

// NewListingGrid renders the listing state of a shopper, including the
// loading flag of an in-flight request.
func NewListingGrid(st catalog.State, categories []catalog.Category) ProductGrid {
	g := NewProductGrid(st.Page, categories)
	g.Loading = st.Loading
	return g
}

// PageTitle names a listing: "Search Results" while searching, the category
// name while a category is selected, "Featured" otherwise.
func PageTitle(q catalog.Query, categories []catalog.Category) string {
	if q.SearchText != "" {
		return "Search Results"
	}
	id := q.CategoryID
	if id == 0 {
		id = q.StripCategoryID
	}
	if id == 0 {
		return "Featured"
	}
	for _, c := range categories {
		if c.ID == id {
			return c.Name
		}
	}
	return "Category"
}

// ProductDetail is the single product page.
type ProductDetail struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Price       string   `json:"price"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	Category    string   `json:"category,omitempty"`
	InCart      int      `json:"inCart"`
}

// NewProductDetail renders a product. inCart is the quantity already in the
// shopper's cart.
func NewProductDetail(p catalog.Product, inCart int) ProductDetail {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return ProductDetail{
		ID:          p.ID,
		Title:       p.Title,
		Price:       Money(p.Price),
		Description: p.Description,
		Images:      images,
		Category:    p.Category.Name,
		InCart:      inCart,
	}
}

// CartLine is a line of the cart panel or the checkout summary.
type CartLine struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Image    string `json:"image,omitempty"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	Subtotal string `json:"subtotal"`
}

func newLines(lines []cart.Line) []CartLine {
	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, CartLine{
			ID:       l.ID,
			Title:    l.Title,
			Image:    l.Image,
			Price:    Money(l.Price),
			Quantity: l.Quantity,
			Subtotal: Money(l.Subtotal()),
		})
	}
	return out
}

// CartPanel is the slide-out cart.
type CartPanel struct {
	Open  bool       `json:"open"`
	Label string     `json:"label"`
	Count int        `json:"count"`
	Lines []CartLine `json:"lines"`
	Total string     `json:"total"`
	Empty string     `json:"empty,omitempty"`
}

// NewCartPanel renders the cart. The label counts lines, not units.
func NewCartPanel(c *cart.Cart) CartPanel {
	lines := c.Lines()
	p := CartPanel{
		Open:  c.IsOpen(),
		Label: ItemLabel(len(lines)),
		Count: c.Count(),
		Lines: newLines(lines),
		Total: Money(c.Total()),
	}
	if len(lines) == 0 {
		p.Empty = emptyCart
	}
	return p
}

// CheckoutSummary is the checkout page.
type CheckoutSummary struct {
	Label    string     `json:"label"`
	Lines    []CartLine `json:"lines"`
	Subtotal string     `json:"subtotal"`
	Shipping string     `json:"shipping"`
	Tax      string     `json:"tax"`
	Total    string     `json:"total"`
	User     *User      `json:"user,omitempty"`
}

// NewCheckoutSummary renders a checkout summary.
func NewCheckoutSummary(s checkout.Summary, user *identity.Session) CheckoutSummary {
	v := CheckoutSummary{
		Label:    ItemLabel(len(s.Lines)),
		Lines:    newLines(s.Lines),
		Subtotal: Money(s.Subtotal),
		Shipping: Money(s.Shipping),
		Tax:      Money(s.Tax),
		Total:    Money(s.Total),
	}
	if user != nil {
		v.User = NewSession(identity.StatusAuthenticated, user).User
	}
	return v
}

// Confirmation is shown after an order is placed.
type Confirmation struct {
	ID       string    `json:"id"`
	Total    string    `json:"total"`
	PlacedAt time.Time `json:"placedAt"`
	Message  string    `json:"message"`
}

// NewConfirmation renders an order confirmation.
func NewConfirmation(c *checkout.Confirmation) Confirmation {
	return Confirmation{
		ID:       c.ID.String(),
		Total:    Money(c.Total),
		PlacedAt: c.PlacedAt,
		Message:  c.Message,
	}
}

// Browse is the landing page: navigation, categories and the first listing.
type Browse struct {
	NavBar     NavBar        `json:"navbar"`
	Categories CategoryStrip `json:"categories"`
	Grid       ProductGrid   `json:"grid"`
	Cart       CartPanel     `json:"cart"`
}
