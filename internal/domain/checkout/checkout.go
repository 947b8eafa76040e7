// Package checkout computes the order summary and places orders from a cart.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/cart"
)

// ErrEmptyCart is returned when placing an order for an empty cart.
var ErrEmptyCart = errors.New("cart is empty")

// SuccessMessage is shown to the shopper after an order is placed.
const SuccessMessage = "Order placed successfully!"

// Rates are the fees applied on top of the cart total.
type Rates struct {
	Shipping decimal.Decimal
	TaxRate  decimal.Decimal
}

// DefaultRates is a flat 10.00 shipping fee and 8% tax.
var DefaultRates = Rates{
	Shipping: decimal.NewFromInt(10),
	TaxRate:  decimal.RequireFromString("0.08"),
}

// Summary is the breakdown shown before placing an order. Amounts are not
// rounded.
type Summary struct {
	Lines    []cart.Line
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Confirmation is returned for a placed order.
type Confirmation struct {
	ID       uuid.UUID
	Total    decimal.Decimal
	PlacedAt time.Time
	Message  string
}

// Cart is the part of the cart checkout needs.
type Cart interface {
	Lines() []cart.Line
	Total() decimal.Decimal
	Clear(ctx context.Context)
}

// Service summarizes carts and places orders.
type Service struct {
	rates Rates
	lg    *zap.Logger
	now   func() time.Time
}

// NewService creates a checkout service.
func NewService(rates Rates, lg *zap.Logger) *Service {
	return &Service{rates: rates, lg: lg, now: time.Now}
}

// Summarize computes the order breakdown for c.
func (s *Service) Summarize(c Cart) Summary {
	subtotal := c.Total()
	tax := subtotal.Mul(s.rates.TaxRate)
	return Summary{
		Lines:    c.Lines(),
		Subtotal: subtotal,
		Shipping: s.rates.Shipping,
		Tax:      tax,
		Total:    subtotal.Add(s.rates.Shipping).Add(tax),
	}
}

// PlaceOrder confirms the order for c and clears the cart. Nothing is sent
// anywhere: the confirmation only exists in the response.
func (s *Service) PlaceOrder(ctx context.Context, c Cart) (*Confirmation, error) {
	sum := s.Summarize(c)
	if len(sum.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	conf := &Confirmation{
		ID:       uuid.New(),
		Total:    sum.Total,
		PlacedAt: s.now(),
		Message:  SuccessMessage,
	}
	c.Clear(ctx)

	s.lg.Info("Order placed",
		zap.Stringer("order_id", conf.ID),
		zap.String("total", conf.Total.StringFixed(2)),
		zap.Int("lines", len(sum.Lines)),
	)
	return conf, nil
}
