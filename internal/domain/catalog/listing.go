package catalog

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Page is the outcome of one listing load.
type Page struct {
	Query    Query
	Kind     Kind
	Products []Product
	HasNext  bool
}

// State is a snapshot of the listing as presented to the shopper.
type State struct {
	Page
	Loading bool
	// Seq is the sequence number of the request the page came from.
	Seq uint64
}

// Result is returned from Load.
type Result struct {
	Page
	// Stale is set when a newer load was issued before this one finished;
	// the page was not applied to the listing state.
	Stale bool
}

// Listing is the product listing of one shopper: it issues catalog requests,
// tracks the loading flag, and keeps the latest page.
type Listing struct {
	source Source
	lg     *zap.Logger
	stale  metric.Int64Counter

	mu     sync.Mutex
	issued uint64
	state  State
}

// ListingOption configures a Listing.
type ListingOption func(*Listing)

// WithStaleCounter counts discarded out-of-order responses.
func WithStaleCounter(c metric.Int64Counter) ListingOption {
	return func(l *Listing) { l.stale = c }
}

// NewListing creates a listing backed by source.
func NewListing(source Source, lg *zap.Logger, opts ...ListingOption) *Listing {
	l := &Listing{source: source, lg: lg}
	for _, o := range opts {
		o(l)
	}
	if l.stale == nil {
		l.stale, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	return l
}

// Load fetches the page described by q. Upstream failures yield an empty
// page and are only logged. A response that arrives after a newer Load was
// issued is returned to the caller but not applied to the listing state.
func (l *Listing) Load(ctx context.Context, q Query) Result {
	q = q.Normalize()
	req := BuildRequest(q)

	l.mu.Lock()
	l.issued++
	seq := l.issued
	l.state.Loading = true
	l.mu.Unlock()

	products, err := l.source.Products(ctx, req)
	if err != nil {
		l.lg.Error("Fetch products",
			zap.Error(err),
			zap.Stringer("kind", req.Kind),
			zap.String("path", req.Path()),
		)
		products = nil
	}

	page := Page{
		Query:    q,
		Kind:     req.Kind,
		Products: products,
		HasNext:  HasNext(len(products), req.Limit),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.issued {
		l.stale.Add(ctx, 1)
		l.lg.Debug("Discarding stale listing response",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", l.issued),
		)
		return Result{Page: page, Stale: true}
	}
	l.state = State{Page: page, Seq: seq}
	return Result{Page: page}
}

// State returns the current listing state.
func (l *Listing) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state
	s.Products = append([]Product(nil), s.Products...)
	return s
}
