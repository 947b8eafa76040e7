// Package shopper keeps the per-shopper workspaces: the cart, the identity
// container and the product listing of every active shopper.
package shopper

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/catalog"
	"github.com/xenking/shopnow/internal/domain/identity"
)

// Workspace is the state of one shopper.
type Workspace struct {
	ID       string
	Cart     *cart.Cart
	Identity *identity.Container
	Listing  *catalog.Listing

	lastSeen time.Time
}

// Config configures a Registry.
type Config struct {
	// IdleTTL is how long an untouched workspace is kept in memory. The cart
	// snapshot and session outlive it in their stores.
	IdleTTL time.Duration
	// KeyPrefix prefixes cart snapshot keys.
	KeyPrefix     string
	MeterProvider metric.MeterProvider
}

// Registry creates workspaces on first use and evicts idle ones.
type Registry struct {
	cfg       Config
	snapshots *cart.Snapshots
	provider  *identity.Provider
	source    catalog.Source
	lg        *zap.Logger
	now       func() time.Time

	active metric.Int64UpDownCounter
	stale  metric.Int64Counter

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry creates a registry.
func NewRegistry(
	cfg Config,
	snapshots *cart.Snapshots,
	provider *identity.Provider,
	source catalog.Source,
	lg *zap.Logger,
) (*Registry, error) {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = noop.NewMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("shopnow/shopper")
	active, err := meter.Int64UpDownCounter("shopnow.workspaces.active",
		metric.WithDescription("Workspaces held in memory"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "active counter")
	}
	stale, err := meter.Int64Counter("shopnow.listing.stale_responses",
		metric.WithDescription("Catalog responses discarded because a newer request was issued"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "stale counter")
	}

	return &Registry{
		cfg:        cfg,
		snapshots:  snapshots,
		provider:   provider,
		source:     source,
		lg:         lg,
		now:        time.Now,
		active:     active,
		stale:      stale,
		workspaces: make(map[string]*Workspace),
	}, nil
}

// Get returns the workspace of id, restoring it on first use.
func (r *Registry) Get(ctx context.Context, id string) *Workspace {
	if ws := r.touch(id); ws != nil {
		return ws
	}

	// Restore outside the lock; a concurrent Get for the same id may win. A
	// cancelled request must not leave the shopper with an empty cart.
	ws := r.create(context.WithoutCancel(ctx), id)

	r.mu.Lock()
	if existing, ok := r.workspaces[id]; ok {
		existing.lastSeen = r.now()
		r.mu.Unlock()
		ws.Identity.Close()
		return existing
	}
	ws.lastSeen = r.now()
	r.workspaces[id] = ws
	r.mu.Unlock()

	r.active.Add(ctx, 1)
	r.lg.Debug("Workspace created", zap.String("shopper", id))
	return ws
}

func (r *Registry) touch(id string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[id]
	if !ok {
		return nil
	}
	ws.lastSeen = r.now()
	return ws
}

func (r *Registry) create(ctx context.Context, id string) *Workspace {
	lg := r.lg.With(zap.String("shopper", id))
	return &Workspace{
		ID:       id,
		Cart:     cart.Restore(ctx, cart.Key(r.cfg.KeyPrefix, id), r.snapshots, lg),
		Identity: identity.NewContainer(r.provider, id, lg),
		Listing:  catalog.NewListing(r.source, lg, catalog.WithStaleCounter(r.stale)),
	}
}

// Len returns the number of workspaces in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Evict drops workspaces idle for longer than IdleTTL at now and returns how
// many were dropped.
func (r *Registry) Evict(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var evicted []*Workspace
	for id, ws := range r.workspaces {
		if now.Sub(ws.lastSeen) >= r.cfg.IdleTTL {
			evicted = append(evicted, ws)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range evicted {
		ws.Identity.Close()
	}
	if n := len(evicted); n > 0 {
		r.active.Add(ctx, int64(-n))
		r.lg.Debug("Evicted idle workspaces", zap.Int("count", n))
	}
	return len(evicted)
}

// Run evicts idle workspaces every IdleTTL/2 until ctx is done, then closes
// every workspace.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(r.cfg.IdleTTL/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case now := <-ticker.C:
			r.Evict(ctx, now)
		}
	}
}

// Close unsubscribes every workspace from the session stream and forgets it.
func (r *Registry) Close() {
	r.mu.Lock()
	workspaces := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range workspaces {
		ws.Identity.Close()
	}
}
