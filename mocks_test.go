package authsync_test

import (
	"context"
	"sync"
	"time"

	authsync "github.com/goliatone/go-auth-sync"
	"github.com/stretchr/testify/mock"
)

// MockSessionStore implements authsync.SessionStore. Listeners are kept so
// tests can drive provider events with Emit.
type MockSessionStore struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]authsync.AuthStateListener
	nextID    int
}

func (m *MockSessionStore) GetSession(ctx context.Context) (*authsync.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*authsync.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) OnAuthStateChange(listener authsync.AuthStateListener) authsync.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = map[int]authsync.AuthStateListener{}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	return authsync.SubscriptionFunc(func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	})
}

func (m *MockSessionStore) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSessionStore) Emit(event authsync.AuthEvent, session *authsync.Session) {
	m.mu.Lock()
	listeners := make([]authsync.AuthStateListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()
	for _, l := range listeners {
		l(event, session)
	}
}

func (m *MockSessionStore) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// MockProfileMutator implements authsync.ProfileMutator
type MockProfileMutator struct {
	mock.Mock
}

func (m *MockProfileMutator) MutateProfile(ctx context.Context, identityID string, fields authsync.ProfileFields) error {
	args := m.Called(ctx, identityID, fields)
	return args.Error(0)
}

// stubResolver answers resolution calls with fn, counting invocations.
type stubResolver struct {
	mu       sync.Mutex
	calls    int
	sessions []*authsync.Session
	fn       func(call int, session *authsync.Session) (*authsync.IdentityContext, error)
}

func (r *stubResolver) ResolveIdentityContext(ctx context.Context, session *authsync.Session) (*authsync.IdentityContext, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.sessions = append(r.sessions, session)
	fn := r.fn
	r.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(n, session)
}

func (r *stubResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *stubResolver) LastSession() *authsync.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

// backoffRecorder records every requested delay. Timers fire immediately
// unless hold is set, in which case they fire on release.
type backoffRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	hold    bool
	pending []chan time.Time
}

func (b *backoffRecorder) After(d time.Duration) <-chan time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays = append(b.delays, d)
	ch := make(chan time.Time, 1)
	if b.hold {
		b.pending = append(b.pending, ch)
		return ch
	}
	ch <- time.Time{}
	return ch
}

func (b *backoffRecorder) Delays() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.delays...)
}

func (b *backoffRecorder) Release() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, ch := range pending {
		ch <- time.Time{}
	}
}

// activityRecorder collects activity events.
type activityRecorder struct {
	mu     sync.Mutex
	events []authsync.ActivityEvent
}

func (a *activityRecorder) Record(_ context.Context, event authsync.ActivityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *activityRecorder) Count(t authsync.ActivityEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

func confirmedSession(userID string) *authsync.Session {
	return &authsync.Session{
		UserID:         userID,
		Email:          userID + "@example.com",
		EmailConfirmed: true,
		AccessToken:    "token-" + userID,
	}
}

func workerContext(userID string) *authsync.IdentityContext {
	return &authsync.IdentityContext{
		User: &authsync.ContextUser{
			ID:       userID,
			Email:    userID + "@example.com",
			FullName: "Worker " + userID,
			Role:     string(authsync.RoleWorker),
			Verified: true,
		},
		WorkerStats: authsync.WorkerStats{"completed_jobs": 12},
	}
}

func customerContext(userID string) *authsync.IdentityContext {
	return &authsync.IdentityContext{
		User: &authsync.ContextUser{
			ID:       userID,
			FullName: "Customer " + userID,
			Role:     string(authsync.RoleCustomer),
		},
	}
}
