package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist upstream.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as served by the upstream catalog service.
type Product struct {
	ID          int64
	Title       string
	Price       decimal.Decimal
	Description string
	Images      []string
	Category    Category
}

// Image returns the first product image, or an empty string.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Category groups products in the catalog.
type Category struct {
	ID    int64
	Name  string
	Image string
}

// Source is the port to the external catalog service.
type Source interface {
	// Products executes a listing request built by BuildRequest.
	Products(ctx context.Context, req Request) ([]Product, error)
	// Product returns a single product or ErrNotFound.
	Product(ctx context.Context, id int64) (*Product, error)
	// Categories returns every category.
	Categories(ctx context.Context) ([]Category, error)
}
