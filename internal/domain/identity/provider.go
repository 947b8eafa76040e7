package identity

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Provider owns the sessions of all shoppers and publishes every change to
// the subscribers of that shopper.
type Provider struct {
	store SessionStore
	auth  Authenticator
	lg    *zap.Logger

	now           func() time.Time
	replayTimeout time.Duration

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	timers map[string]*expiry
	closed bool
}

type expiry struct {
	timer *time.Timer
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// WithReplayTimeout bounds the store lookup done for a new subscriber.
func WithReplayTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.replayTimeout = d }
}

// NewProvider creates a provider backed by store and auth.
func NewProvider(store SessionStore, auth Authenticator, lg *zap.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		store:         store,
		auth:          auth,
		lg:            lg,
		now:           time.Now,
		replayTimeout: 5 * time.Second,
		subs:          make(map[string]map[*Subscription]struct{}),
		timers:        make(map[string]*expiry),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Subscription is a registered listener on one shopper's session stream.
type Subscription struct {
	p         *Provider
	shopperID string
	fn        func(Event)

	mu        sync.Mutex
	delivered bool
	closed    bool
}

// Unsubscribe stops delivery. After it returns fn is not called again.
// Calling it more than once is safe.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.p.remove(s)
}

// deliver calls fn unless the subscription is closed. A replay is dropped
// when a live event already reached the subscriber.
func (s *Subscription) deliver(ev Event, replay bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (replay && s.delivered) {
		return
	}
	s.delivered = true
	s.fn(ev)
}

// Subscribe registers fn for session changes of shopperID. The current
// session (possibly absent) is delivered asynchronously as the first event.
// Events for one subscription are delivered one at a time; fn must not call
// Unsubscribe.
func (p *Provider) Subscribe(shopperID string, fn func(Event)) *Subscription {
	sub := &Subscription{p: p, shopperID: shopperID, fn: fn}

	p.mu.Lock()
	set, ok := p.subs[shopperID]
	if !ok {
		set = make(map[*Subscription]struct{})
		p.subs[shopperID] = set
	}
	set[sub] = struct{}{}
	p.mu.Unlock()

	go p.replay(sub)
	return sub
}

func (p *Provider) replay(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), p.replayTimeout)
	defer cancel()

	s, err := p.current(ctx, sub.shopperID)
	if err != nil {
		p.lg.Error("Restore session", zap.Error(err), zap.String("shopper", sub.shopperID))
	}
	sub.deliver(Event{Session: s}, true)
}

// current loads the stored session, dropping it when already expired.
func (p *Provider) current(ctx context.Context, shopperID string) (*Session, error) {
	s, err := p.store.GetSession(ctx, shopperID)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	if s.Expired(p.now()) {
		if err := p.store.DeleteSession(ctx, shopperID); err != nil {
			p.lg.Warn("Delete expired session", zap.Error(err), zap.String("shopper", shopperID))
		}
		return nil, nil
	}
	p.scheduleExpiry(shopperID, s)
	return s, nil
}

func (p *Provider) remove(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.subs[sub.shopperID]
	delete(set, sub)
	if len(set) > 0 {
		return
	}
	delete(p.subs, sub.shopperID)
	if e, ok := p.timers[sub.shopperID]; ok {
		e.timer.Stop()
		delete(p.timers, sub.shopperID)
	}
}

// AuthCodeURL returns the sign-in URL for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.auth.AuthCodeURL(state)
}

// SignIn exchanges code for a session, stores it, and publishes it.
func (p *Provider) SignIn(ctx context.Context, shopperID, code string) (*Session, error) {
	s, err := p.auth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchange")
	}
	if err := p.store.PutSession(ctx, shopperID, s); err != nil {
		return nil, errors.Wrap(err, "put session")
	}
	p.scheduleExpiry(shopperID, s)
	p.publish(shopperID, Event{Session: s})
	return s, nil
}

// SignOut deletes the shopper's session and publishes the sign-out.
func (p *Provider) SignOut(ctx context.Context, shopperID string) error {
	p.stopExpiry(shopperID)
	if err := p.store.DeleteSession(ctx, shopperID); err != nil {
		return errors.Wrap(err, "delete session")
	}
	p.publish(shopperID, Event{})
	return nil
}

// Close stops all expiry timers. Subscriptions stay registered but receive
// no further expiry events.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, e := range p.timers {
		e.timer.Stop()
		delete(p.timers, id)
	}
}

func (p *Provider) publish(shopperID string, ev Event) {
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.subs[shopperID]))
	for sub := range p.subs[shopperID] {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		e := ev
		if ev.Session != nil {
			s := *ev.Session
			e.Session = &s
		}
		sub.deliver(e, false)
	}
}

func (p *Provider) scheduleExpiry(shopperID string, s *Session) {
	if s.ExpiresAt.IsZero() {
		return
	}
	d := s.ExpiresAt.Sub(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if e, ok := p.timers[shopperID]; ok {
		e.timer.Stop()
	}
	e := &expiry{}
	e.timer = time.AfterFunc(d, func() { p.expire(shopperID, e) })
	p.timers[shopperID] = e
}

func (p *Provider) stopExpiry(shopperID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.timers[shopperID]; ok {
		e.timer.Stop()
		delete(p.timers, shopperID)
	}
}

func (p *Provider) expire(shopperID string, e *expiry) {
	p.mu.Lock()
	if p.timers[shopperID] != e {
		// Replaced by a newer session or stopped.
		p.mu.Unlock()
		return
	}
	delete(p.timers, shopperID)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.replayTimeout)
	defer cancel()
	if err := p.store.DeleteSession(ctx, shopperID); err != nil {
		p.lg.Warn("Delete expired session", zap.Error(err), zap.String("shopper", shopperID))
	}
	p.lg.Debug("Session expired", zap.String("shopper", shopperID))
	p.publish(shopperID, Event{})
}
