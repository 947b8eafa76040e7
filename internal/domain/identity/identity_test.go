package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

// --- Mock implementations ---

type mockStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	// block, when set, delays GetSession until closed.
	block chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{sessions: map[string]Session{}}
}

func (m *mockStore) GetSession(_ context.Context, id string) (*Session, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (m *mockStore) PutSession(_ context.Context, id string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = *s
	return nil
}

func (m *mockStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockStore) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

type mockAuth struct {
	session *Session
	err     error
}

func (m *mockAuth) AuthCodeURL(state string) string {
	return "https://idp.example/auth?state=" + state
}

func (m *mockAuth) Exchange(_ context.Context, code string) (*Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if code != "good" {
		return nil, errors.New("bad code")
	}
	s := *m.session
	return &s, nil
}

// --- Helpers ---

func alice() *Session {
	return &Session{UserID: "u-1", DisplayName: "Alice", Email: "alice@example.com"}
}

func waitStatus(t *testing.T, c *Container, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, timeout, tick)
}

// --- Tests ---

func TestContainer_PendingUntilFirstEvent(t *testing.T) {
	store := newMockStore()
	store.block = make(chan struct{})
	p := NewProvider(store, &mockAuth{}, zap.NewNop())

	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()

	assert.Equal(t, StatusPending, c.Status())
	assert.Nil(t, c.Session())
	select {
	case <-c.Ready():
		t.Fatal("ready before first event")
	default:
	}

	close(store.block)
	<-c.Ready()
	assert.Equal(t, StatusUnauthenticated, c.Status())
}

func TestContainer_RestoresStoredSession(t *testing.T) {
	store := newMockStore()
	store.sessions["shopper"] = *alice()
	p := NewProvider(store, &mockAuth{}, zap.NewNop())

	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.Equal(t, StatusAuthenticated, c.Wait(ctx))
	assert.Equal(t, "Alice", c.Session().DisplayName)
}

func TestContainer_WaitHonorsContext(t *testing.T) {
	store := newMockStore()
	store.block = make(chan struct{})
	defer close(store.block)
	p := NewProvider(store, &mockAuth{}, zap.NewNop())
	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Equal(t, StatusPending, c.Wait(ctx))
}

func TestContainer_LoginLogout(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	p := NewProvider(store, &mockAuth{session: alice()}, zap.NewNop())
	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()
	<-c.Ready()

	authURL, state := c.BeginLogin()
	assert.Contains(t, authURL, state)

	s, err := c.CompleteLogin(ctx, state, "good")
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
	waitStatus(t, c, StatusAuthenticated)
	assert.True(t, store.has("shopper"))

	require.NoError(t, c.Logout(ctx))
	waitStatus(t, c, StatusUnauthenticated)
	assert.Nil(t, c.Session())
	assert.False(t, store.has("shopper"))
}

func TestContainer_LoginRejectsState(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockStore(), &mockAuth{session: alice()}, zap.NewNop())
	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()
	<-c.Ready()

	_, err := c.CompleteLogin(ctx, "anything", "good")
	require.ErrorIs(t, err, ErrInvalidState)

	_, state := c.BeginLogin()
	_, err = c.CompleteLogin(ctx, state+"x", "good")
	require.ErrorIs(t, err, ErrInvalidState)

	// The nonce is single use.
	_, err = c.CompleteLogin(ctx, state, "good")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusUnauthenticated, c.Status())
}

func TestContainer_FailedLoginLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockStore(), &mockAuth{session: alice()}, zap.NewNop())
	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()
	<-c.Ready()

	_, state := c.BeginLogin()
	_, err := c.CompleteLogin(ctx, state, "cancelled")

	require.Error(t, err)
	assert.Equal(t, StatusUnauthenticated, c.Status())
}

func TestProvider_SharedStream(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockStore(), &mockAuth{session: alice()}, zap.NewNop())
	a := NewContainer(p, "shopper", zap.NewNop())
	defer a.Close()
	b := NewContainer(p, "shopper", zap.NewNop())
	defer b.Close()
	other := NewContainer(p, "other", zap.NewNop())
	defer other.Close()
	<-a.Ready()
	<-b.Ready()
	<-other.Ready()

	_, state := a.BeginLogin()
	_, err := a.CompleteLogin(ctx, state, "good")
	require.NoError(t, err)

	waitStatus(t, b, StatusAuthenticated)
	assert.Equal(t, StatusUnauthenticated, other.Status())
}

func TestProvider_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockStore(), &mockAuth{session: alice()}, zap.NewNop())

	var mu sync.Mutex
	var events []Event
	sub := p.Subscribe("shopper", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, timeout, tick)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, err := p.SignIn(ctx, "shopper", "good")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.False(t, events[0].SignedIn())
}

func TestProvider_ExpiryPublishesSignOut(t *testing.T) {
	ctx := context.Background()
	s := alice()
	s.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	store := newMockStore()
	p := NewProvider(store, &mockAuth{session: s}, zap.NewNop())
	defer p.Close()
	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()
	<-c.Ready()

	_, state := c.BeginLogin()
	_, err := c.CompleteLogin(ctx, state, "good")
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, c.Status())

	waitStatus(t, c, StatusUnauthenticated)
	assert.False(t, store.has("shopper"))
}

func TestProvider_ExpiredSessionNotRestored(t *testing.T) {
	store := newMockStore()
	s := alice()
	s.ExpiresAt = time.Now().Add(-time.Minute)
	store.sessions["shopper"] = *s
	p := NewProvider(store, &mockAuth{}, zap.NewNop())

	c := NewContainer(p, "shopper", zap.NewNop())
	defer c.Close()
	<-c.Ready()

	assert.Equal(t, StatusUnauthenticated, c.Status())
	assert.False(t, store.has("shopper"))
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, (&Session{}).Expired(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Second)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now}).Expired(now))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "authenticated", StatusAuthenticated.String())
	assert.Equal(t, "unauthenticated", StatusUnauthenticated.String())
}
