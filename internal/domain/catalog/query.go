package catalog

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 12

// Upper bounds of a query, keeping (Page-1)*Limit far from overflow.
const (
	MaxLimit = 100
	MaxPage  = 10_000
)

// Kind tells which upstream listing a request targets.
type Kind int

const (
	// KindFiltered is the general product listing with optional price and
	// category filters.
	KindFiltered Kind = iota
	// KindSearch matches products by title text.
	KindSearch
	// KindCategory is a category's dedicated product list.
	KindCategory
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindCategory:
		return "category"
	default:
		return "filtered"
	}
}

// Query describes what the shopper wants to see.
type Query struct {
	// SearchText filters by product title and overrides every other filter.
	SearchText string
	// StripCategoryID is the category picked from the category strip.
	StripCategoryID int64
	// CategoryID is the category picked in the filter form.
	CategoryID int64
	PriceMin   decimal.NullDecimal
	PriceMax   decimal.NullDecimal
	// Page is 1-based.
	Page  int
	Limit int
}

// Normalize fills defaults for page and limit and clamps them to MaxPage
// and MaxLimit.
func (q Query) Normalize() Query {
	q.Page = min(max(q.Page, 1), MaxPage)
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	q.Limit = min(q.Limit, MaxLimit)
	return q
}

// Offset returns the zero-based item offset of the page.
func (q Query) Offset() int {
	q = q.Normalize()
	return (q.Page - 1) * q.Limit
}

// Request is an upstream listing request.
type Request struct {
	Kind Kind
	// CategoryID is set for KindCategory.
	CategoryID int64
	Limit      int
	Offset     int
	Params     url.Values
}

// Path returns the upstream path relative to the catalog base URL.
func (r Request) Path() string {
	if r.Kind == KindCategory {
		return "categories/" + strconv.FormatInt(r.CategoryID, 10) + "/products"
	}
	return "products"
}

// BuildRequest turns a query into exactly one upstream request. Search text
// wins over everything; a strip category wins over the filter form unless
// the form sets its own category; otherwise price bounds and the form
// category are combined.
func BuildRequest(q Query) Request {
	q = q.Normalize()
	req := Request{
		Limit:  q.Limit,
		Offset: q.Offset(),
		Params: url.Values{},
	}
	req.Params.Set("limit", strconv.Itoa(req.Limit))
	if req.Offset > 0 {
		req.Params.Set("offset", strconv.Itoa(req.Offset))
	}

	switch {
	case q.SearchText != "":
		req.Kind = KindSearch
		req.Params.Set("title", q.SearchText)
	case q.StripCategoryID != 0 && q.CategoryID == 0:
		req.Kind = KindCategory
		req.CategoryID = q.StripCategoryID
	default:
		req.Kind = KindFiltered
		if q.PriceMin.Valid {
			req.Params.Set("price_min", q.PriceMin.Decimal.String())
		}
		if q.PriceMax.Valid {
			req.Params.Set("price_max", q.PriceMax.Decimal.String())
		}
		if q.CategoryID != 0 {
			req.CategoryID = q.CategoryID
			req.Params.Set("categoryId", strconv.FormatInt(q.CategoryID, 10))
		}
	}
	return req
}

// HasNext reports whether another page may exist. The catalog service returns
// no total count, so a full page is taken as a hint that more items follow.
func HasNext(returned, limit int) bool {
	return limit > 0 && returned >= limit
}
