package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/cart"
)

// --- Mock implementations ---

type mockCart struct {
	lines   []cart.Line
	cleared int
}

func (m *mockCart) Lines() []cart.Line { return m.lines }

func (m *mockCart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (m *mockCart) Clear(context.Context) {
	m.cleared++
	m.lines = nil
}

func line(id int64, price string, qty int) cart.Line {
	return cart.Line{
		Product:  cart.Product{ID: id, Title: "item", Price: decimal.RequireFromString(price)},
		Quantity: qty,
	}
}

// --- Tests ---

func TestSummarize(t *testing.T) {
	svc := NewService(DefaultRates, zap.NewNop())
	c := &mockCart{lines: []cart.Line{line(1, "10", 2)}}

	sum := svc.Summarize(c)

	assert.Equal(t, "20.00", sum.Subtotal.StringFixed(2))
	assert.Equal(t, "10.00", sum.Shipping.StringFixed(2))
	assert.Equal(t, "1.60", sum.Tax.StringFixed(2))
	assert.Equal(t, "31.60", sum.Total.StringFixed(2))
	assert.Len(t, sum.Lines, 1)
}

func TestSummarize_RoundsOnlyAtPresentation(t *testing.T) {
	svc := NewService(DefaultRates, zap.NewNop())
	c := &mockCart{lines: []cart.Line{line(1, "0.99", 3)}}

	sum := svc.Summarize(c)

	assert.Equal(t, "0.2376", sum.Tax.String())
	assert.Equal(t, "13.2076", sum.Total.String())
	assert.Equal(t, "13.21", sum.Total.StringFixed(2))
}

func TestPlaceOrder(t *testing.T) {
	svc := NewService(DefaultRates, zap.NewNop())
	c := &mockCart{lines: []cart.Line{line(1, "10", 2)}}

	conf, err := svc.PlaceOrder(context.Background(), c)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, conf.ID)
	assert.Equal(t, SuccessMessage, conf.Message)
	assert.Equal(t, "31.60", conf.Total.StringFixed(2))
	assert.False(t, conf.PlacedAt.IsZero())
	assert.Equal(t, 1, c.cleared)
	assert.Empty(t, c.lines)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	svc := NewService(DefaultRates, zap.NewNop())
	c := &mockCart{}

	_, err := svc.PlaceOrder(context.Background(), c)

	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, c.cleared)
}
