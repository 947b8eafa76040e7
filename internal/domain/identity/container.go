package identity

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the container's view of the session.
type Status int

const (
	// StatusPending means no session event has been received yet.
	StatusPending Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "pending"
	}
}

// Container holds the session of one shopper. It subscribes to the provider
// once on creation and stays subscribed until Close.
type Container struct {
	provider  *Provider
	shopperID string
	lg        *zap.Logger
	sub       *Subscription

	ready     chan struct{}
	readyOnce sync.Once

	mu         sync.Mutex
	received   bool
	session    *Session
	loginState string
}

// NewContainer subscribes to the session stream of shopperID.
func NewContainer(p *Provider, shopperID string, lg *zap.Logger) *Container {
	c := &Container{
		provider:  p,
		shopperID: shopperID,
		lg:        lg,
		ready:     make(chan struct{}),
	}
	c.sub = p.Subscribe(shopperID, c.handle)
	return c
}

func (c *Container) handle(ev Event) {
	c.mu.Lock()
	c.received = true
	c.session = ev.Session
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
}

// Status returns the current status.
func (c *Container) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

func (c *Container) status() Status {
	switch {
	case !c.received:
		return StatusPending
	case c.session != nil:
		return StatusAuthenticated
	default:
		return StatusUnauthenticated
	}
}

// Session returns a copy of the current session, or nil when pending or
// signed out.
func (c *Container) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Ready is closed once the first session event has been received.
func (c *Container) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the first event arrives or ctx is done, then returns the
// status at that moment.
func (c *Container) Wait(ctx context.Context) Status {
	select {
	case <-c.ready:
	case <-ctx.Done():
	}
	return c.Status()
}

// BeginLogin starts an interactive sign-in and returns the provider URL
// along with the state nonce the callback must echo back.
func (c *Container) BeginLogin() (authURL, state string) {
	state = uuid.NewString()

	c.mu.Lock()
	c.loginState = state
	c.mu.Unlock()

	return c.provider.AuthCodeURL(state), state
}

// CompleteLogin finishes the sign-in started by BeginLogin. On failure the
// session is left unchanged.
func (c *Container) CompleteLogin(ctx context.Context, state, code string) (*Session, error) {
	c.mu.Lock()
	expected := c.loginState
	c.loginState = ""
	c.mu.Unlock()

	if expected == "" || state != expected {
		return nil, ErrInvalidState
	}

	s, err := c.provider.SignIn(ctx, c.shopperID, code)
	if err != nil {
		c.lg.Warn("Sign in failed", zap.Error(err), zap.String("shopper", c.shopperID))
		return nil, errors.Wrap(err, "sign in")
	}
	c.lg.Info("Signed in", zap.String("shopper", c.shopperID), zap.String("user", s.UserID))
	return s, nil
}

// Logout clears the session.
func (c *Container) Logout(ctx context.Context) error {
	if err := c.provider.SignOut(ctx, c.shopperID); err != nil {
		return errors.Wrap(err, "sign out")
	}
	return nil
}

// Close unsubscribes from the session stream.
func (c *Container) Close() {
	c.sub.Unsubscribe()
}
