// Package cart implements the shopper's cart: an ordered set of product lines
// kept in memory and mirrored to a snapshot store after every change.
package cart

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Product is what gets added to the cart.
type Product struct {
	ID          int64
	Title       string
	Price       decimal.Decimal
	Image       string
	Description string
}

// Line is a product with its quantity. Quantity is always at least 1.
type Line struct {
	Product
	Quantity int
}

// Subtotal returns price × quantity for the line.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart holds one shopper's lines in insertion order plus the visibility of
// the cart panel. It is safe for concurrent use.
type Cart struct {
	key       string
	snapshots *Snapshots
	lg        *zap.Logger

	mu    sync.Mutex
	lines []Line
	open  bool
	// persisted is true while a snapshot exists in the store.
	persisted bool
}

// Restore creates the cart stored under key, or an empty cart when nothing
// usable is stored.
func Restore(ctx context.Context, key string, snapshots *Snapshots, lg *zap.Logger) *Cart {
	lines, ok := snapshots.Restore(ctx, key)
	return &Cart{
		key:       key,
		snapshots: snapshots,
		lg:        lg,
		lines:     lines,
		persisted: ok,
	}
}

// AddLine adds one unit of p, merging with an existing line for the same
// product, and opens the cart panel.
func (c *Cart) AddLine(ctx context.Context, p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = true
	if i := c.indexOf(p.ID); i >= 0 {
		c.lines[i].Quantity++
	} else {
		c.lines = append(c.lines, Line{Product: p, Quantity: 1})
	}
	c.persist(ctx)
}

// RemoveLine deletes the line for id. Removing a missing line is a no-op.
func (c *Cart) RemoveLine(ctx context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.persist(ctx)
}

// SetQuantity replaces the quantity of the line for id. Quantities below 1
// are rejected without touching the line; use RemoveLine to drop it.
func (c *Cart) SetQuantity(ctx context.Context, id int64, n int) {
	if n < 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 || c.lines[i].Quantity == n {
		return
	}
	c.lines[i].Quantity = n
	c.persist(ctx)
}

// Clear empties the cart and deletes the stored snapshot.
func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = nil
	if !c.persisted {
		return
	}
	if err := c.snapshots.Delete(ctx, c.key); err != nil {
		c.lg.Error("Delete cart snapshot", zap.Error(err), zap.String("key", c.key))
		return
	}
	c.persisted = false
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// Total returns Σ(price × quantity) without rounding.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Count returns Σ(quantity).
func (c *Cart) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// IsOpen reports whether the cart panel is visible.
func (c *Cart) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// ToggleVisibility flips the cart panel visibility.
func (c *Cart) ToggleVisibility() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = !c.open
}

// SetVisibility shows or hides the cart panel.
func (c *Cart) SetVisibility(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *Cart) indexOf(id int64) int {
	for i := range c.lines {
		if c.lines[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the lines to the store. An empty cart that was never
// stored is not written. Must be called with c.mu held.
func (c *Cart) persist(ctx context.Context) {
	if len(c.lines) == 0 && !c.persisted {
		return
	}
	if err := c.snapshots.Save(ctx, c.key, c.lines); err != nil {
		c.lg.Error("Save cart snapshot", zap.Error(err), zap.String("key", c.key))
		return
	}
	c.persisted = true
}
