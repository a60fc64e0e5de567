package authsync

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-auth-sync/internal/broadcast"
)

// Engine turns provider session events into a published Identity. All state
// changes happen on a single goroutine that drains an internal queue. Provider
// calls run off that goroutine and report back tagged with the generation
// they were started for; results for an older generation are dropped.
type Engine struct {
	store    SessionStore
	resolver IdentityResolver

	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
	maxRetries   int
	retryStep    time.Duration
	callTimeout  time.Duration

	inbox     chan engineMsg
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	snap     Snapshot
	watchers *broadcast.Broadcaster[Snapshot]

	// owned by the loop goroutine
	generation uint64
	session    *Session
	inflight   bool
	signingOut bool
	trigger    AuthEvent
	sub        Subscription
}

type engineMsg interface{}

type msgAuthEvent struct {
	event   AuthEvent
	session *Session
}

type msgSessionLoaded struct {
	gen     uint64
	session *Session
	err     error
}

type msgResolved struct {
	gen     uint64
	attempt int
	session *Session
	result  *IdentityContext
	err     error
}

type msgRetryDue struct {
	gen     uint64
	attempt int
}

type msgRefresh struct{}

type msgSigningOut struct {
	ack chan struct{}
}

type msgSignedOut struct {
	err error
	ack chan struct{}
}

// NewEngine builds a SessionSyncEngine. Call Start to begin processing.
func NewEngine(store SessionStore, resolver IdentityResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		resolver:     resolver,
		activitySink: noopActivitySink{},
		now:          time.Now,
		after:        time.After,
		maxRetries:   DefaultMaxRetries,
		retryStep:    DefaultRetryStep,
		callTimeout:  DefaultCallTimeout,
		inbox:        make(chan engineMsg, 64),
		done:         make(chan struct{}),
		watchers:     broadcast.New[Snapshot](),
		snap: Snapshot{
			State:        StateUninitialized,
			Loading:      true,
			Initializing: true,
		},
	}
	e.provider, e.logger = ResolveLogger("authsync.engine", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.watchers.Publish(e.snap.clone())
	return e
}

// Start subscribes to provider events and loads the existing session. It is
// safe to call more than once.
func (e *Engine) Start(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() {
		started = true
		e.ctx, e.cancel = context.WithCancel(ctx)
		e.sub = e.store.OnAuthStateChange(func(event AuthEvent, session *Session) {
			_ = e.post(e.ctx, msgAuthEvent{event: event, session: session})
		})
		go e.run()
	})
	if !started {
		return nil
	}
	return e.post(ctx, msgRefresh{})
}

// Stop unsubscribes from the provider and stops the loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			close(e.done)
			e.watchers.Close()
			return
		}
		e.cancel()
		<-e.done
	})
}

// Done is closed once the engine loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Snapshot returns a copy of the current published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.clone()
}

// CurrentIdentity returns the resolved identity or nil.
func (e *Engine) CurrentIdentity() *Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Identity.Clone()
}

// WorkerStats returns the stats attached to a worker identity.
func (e *Engine) WorkerStats() WorkerStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.WorkerStats.Clone()
}

// State returns the current state machine state.
func (e *Engine) State() SyncState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.State
}

// IsLoading is true while a resolution or sign-out is pending.
func (e *Engine) IsLoading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Loading
}

// IsInitializing is true until the first resolution cycle settles.
func (e *Engine) IsInitializing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Initializing
}

// NeedsEmailVerification is true while the session email is unconfirmed.
func (e *Engine) NeedsEmailVerification() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.NeedsEmailVerification
}

// Refresh re-enters resolution with the latest known session. Calls made
// while a resolution is in flight collapse into it.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.post(ctx, msgRefresh{})
}

// SignOut marks the engine as loading, asks the provider to end the session
// and moves to Anonymous. The provider call is best-effort: its error is
// returned but the local state is cleared regardless.
func (e *Engine) SignOut(ctx context.Context) error {
	ack := make(chan struct{})
	if err := e.post(ctx, msgSigningOut{ack: ack}); err != nil {
		return err
	}
	if err := e.wait(ctx, ack); err != nil {
		return err
	}

	var perr error
	if err := e.store.SignOut(ctx); err != nil {
		perr = &ProviderError{Operation: "sign_out", Err: err}
		e.logger.Warn("provider sign out failed, clearing local session", "error", err)
	}

	ack = make(chan struct{})
	if err := e.post(ctx, msgSignedOut{err: perr, ack: ack}); err != nil {
		return err
	}
	if err := e.wait(ctx, ack); err != nil {
		return err
	}
	return perr
}

func (e *Engine) post(ctx context.Context, msg engineMsg) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	if e.ctx == nil {
		return ErrEngineStopped
	}
	select {
	case e.inbox <- msg:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-e.ctx.Done():
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) wait(ctx context.Context, ack chan struct{}) error {
	select {
	case <-ack:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer func() {
		if e.sub != nil {
			e.sub.Unsubscribe()
		}
		e.watchers.Close()
		close(e.done)
	}()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

func (e *Engine) handle(msg engineMsg) {
	switch m := msg.(type) {
	case msgAuthEvent:
		e.onAuthEvent(m)
	case msgSessionLoaded:
		e.onSessionLoaded(m)
	case msgResolved:
		e.onResolved(m)
	case msgRetryDue:
		e.onRetryDue(m)
	case msgRefresh:
		e.onRefresh()
	case msgSigningOut:
		e.signingOut = true
		e.publish(e.current())
		close(m.ack)
	case msgSignedOut:
		e.signingOut = false
		if e.session == nil && e.current().State == StateAnonymous {
			// the provider already reported SIGNED_OUT
			next := e.current()
			next.LastError = m.err
			e.publish(next)
		} else {
			e.onSignedOut(EventSignedOut, m.err)
		}
		close(m.ack)
	default:
		e.logger.Error("unknown engine message", "message", m)
	}
}

func (e *Engine) onAuthEvent(m msgAuthEvent) {
	e.logger.Debug("auth state change", "event", m.event, "generation", e.generation)

	switch m.event {
	case EventSignedOut:
		e.onSignedOut(m.event, nil)
	case EventInitialSession, EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		if m.session == nil {
			e.onSignedOut(m.event, nil)
			return
		}
		e.session = copySession(m.session)
		e.begin(m.event)
	default:
		e.logger.Warn("ignoring unknown auth event", "event", m.event)
	}
}

func (e *Engine) onRefresh() {
	if e.inflight {
		e.logger.Debug("refresh collapsed into in-flight resolution", "generation", e.generation)
		return
	}
	if e.session != nil {
		e.begin(e.trigger)
		return
	}
	e.loadSession()
}

// loadSession queries the provider for an existing session.
func (e *Engine) loadSession() {
	e.generation++
	gen := e.generation
	e.inflight = true

	next := e.current()
	next.Generation = gen
	next.Attempt = 0
	if next.State == StateUninitialized {
		e.publish(next)
	} else {
		next.State = StateResolving
		e.transition(next)
	}

	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.callTimeout)
		defer cancel()
		session, err := e.store.GetSession(ctx)
		_ = e.post(e.ctx, msgSessionLoaded{gen: gen, session: session, err: err})
	}()
}

func (e *Engine) onSessionLoaded(m msgSessionLoaded) {
	if m.gen != e.generation {
		e.logger.Debug("discarding stale session load", "generation", m.gen, "current", e.generation)
		return
	}
	e.inflight = false

	if m.err != nil {
		e.logger.Error("failed to load provider session", "error", m.err)
		e.clear(StateAnonymous, EventInitialSession, wrapFailure(ErrTerminalResolution, &ProviderError{Operation: "get_session", Err: m.err}, nil))
		return
	}

	if m.session == nil {
		e.clear(StateAnonymous, EventInitialSession, nil)
		return
	}

	e.session = copySession(m.session)
	e.begin(EventInitialSession)
}

// begin starts a fresh resolution cycle for the latest session. Every cycle
// gets a new generation and a zero retry counter.
func (e *Engine) begin(trigger AuthEvent) {
	e.generation++
	gen := e.generation
	e.trigger = trigger

	session := e.session
	if session == nil {
		e.inflight = false
		e.clear(StateAnonymous, trigger, nil)
		return
	}

	if !session.EmailConfirmed {
		e.inflight = false
		from := e.current().State
		next := Snapshot{
			State:                  StateUnverified,
			Generation:             gen,
			NeedsEmailVerification: true,
		}
		if e.transition(next) {
			e.record(ActivityEvent{
				EventType:  ActivityEventEmailUnverified,
				IdentityID: session.UserID,
				Trigger:    trigger,
				FromState:  from,
				ToState:    StateUnverified,
				Generation: gen,
			})
		}
		return
	}

	next := e.current()
	if next.Identity != nil && next.Identity.ID != session.UserID {
		next.Identity = nil
		next.WorkerStats = nil
	}
	next.State = StateResolving
	next.Generation = gen
	next.Attempt = 0
	next.NeedsEmailVerification = false
	next.LastError = nil
	e.transition(next)

	e.inflight = true
	e.resolve(gen, 0, session)
}

func (e *Engine) resolve(gen uint64, attempt int, session *Session) {
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.callTimeout)
		defer cancel()
		result, err := e.resolver.ResolveIdentityContext(ctx, session)
		_ = e.post(e.ctx, msgResolved{gen: gen, attempt: attempt, session: session, result: result, err: err})
	}()
}

func (e *Engine) onResolved(m msgResolved) {
	if m.gen != e.generation {
		e.logger.Debug("discarding stale resolution", "generation", m.gen, "current", e.generation, "attempt", m.attempt)
		return
	}

	if m.err != nil {
		e.onResolutionFailure(m)
		return
	}

	e.inflight = false
	from := e.current().State

	if m.result.Empty() {
		// The profile is not provisioned yet. Keep whatever identity we hold
		// and wait for the next provider event or an explicit refresh.
		next := e.current()
		next.State = StateAwaitingProfile
		next.LastError = nil
		if e.transition(next) {
			e.record(ActivityEvent{
				EventType:  ActivityEventContextEmpty,
				IdentityID: m.session.UserID,
				Trigger:    e.trigger,
				FromState:  from,
				ToState:    StateAwaitingProfile,
				Attempt:    m.attempt,
				Generation: m.gen,
			})
		}
		return
	}

	identity, stats, err := m.result.ToIdentity(m.session)
	if err != nil {
		e.logger.Error("identity context rejected", "error", err, "user_id", m.session.UserID)
		e.clear(StateAnonymous, e.trigger, err)
		return
	}

	next := Snapshot{
		State:       StateResolved,
		Identity:    identity,
		WorkerStats: stats,
		Attempt:     m.attempt,
		Generation:  m.gen,
	}
	if e.transition(next) {
		e.record(ActivityEvent{
			EventType:  ActivityEventIdentityResolved,
			IdentityID: identity.ID,
			Trigger:    e.trigger,
			FromState:  from,
			ToState:    StateResolved,
			Attempt:    m.attempt,
			Generation: m.gen,
			Metadata: map[string]any{
				"role": identity.Role,
			},
		})
	}
}

func (e *Engine) onResolutionFailure(m msgResolved) {
	from := e.current().State

	if m.attempt >= e.maxRetries {
		e.inflight = false
		e.logger.Error("identity resolution abandoned", "error", m.err, "attempts", m.attempt+1, "generation", m.gen)
		terminal := wrapFailure(ErrTerminalResolution, m.err, map[string]any{
			"attempts": m.attempt + 1,
		})
		e.record(ActivityEvent{
			EventType:  ActivityEventResolutionAbandoned,
			IdentityID: m.session.UserID,
			Trigger:    e.trigger,
			FromState:  from,
			ToState:    StateAnonymous,
			Attempt:    m.attempt,
			Generation: m.gen,
		})
		e.clear(StateAnonymous, e.trigger, terminal)
		return
	}

	retry := m.attempt + 1
	delay := time.Duration(retry) * e.retryStep
	e.logger.Warn("identity resolution failed, retrying", "error", m.err, "attempt", retry, "delay", delay)

	next := e.current()
	next.State = StateRetrying
	next.Attempt = retry
	next.LastError = wrapFailure(ErrTransientResolution, m.err, map[string]any{
		"attempt": retry,
	})
	if e.transition(next) {
		e.record(ActivityEvent{
			EventType:  ActivityEventResolutionRetry,
			IdentityID: m.session.UserID,
			Trigger:    e.trigger,
			FromState:  from,
			ToState:    StateRetrying,
			Attempt:    retry,
			Generation: m.gen,
			Metadata: map[string]any{
				"delay_ms": delay.Milliseconds(),
			},
		})
	}

	gen := m.gen
	timer := e.after(delay)
	go func() {
		select {
		case <-timer:
			_ = e.post(e.ctx, msgRetryDue{gen: gen, attempt: retry})
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) onRetryDue(m msgRetryDue) {
	if m.gen != e.generation {
		e.logger.Debug("discarding stale retry", "generation", m.gen, "current", e.generation)
		return
	}
	if e.session == nil {
		e.inflight = false
		e.clear(StateAnonymous, e.trigger, nil)
		return
	}
	e.resolve(m.gen, m.attempt, e.session)
}

func (e *Engine) onSignedOut(trigger AuthEvent, cause error) {
	// bump the generation so anything still in flight is discarded
	e.generation++
	e.session = nil
	e.inflight = false

	identityID := ""
	if id := e.current().Identity; id != nil {
		identityID = id.ID
	}
	from := e.current().State

	e.clear(StateAnonymous, trigger, cause)
	e.record(ActivityEvent{
		EventType:  ActivityEventSignedOut,
		IdentityID: identityID,
		Trigger:    trigger,
		FromState:  from,
		ToState:    StateAnonymous,
		Generation: e.generation,
	})
}

// clear drops the identity and moves to a state without one.
func (e *Engine) clear(state SyncState, trigger AuthEvent, cause error) {
	prev := e.current()
	next := Snapshot{
		State:      state,
		Generation: e.generation,
		LastError:  cause,
	}
	if !e.transition(next) {
		return
	}
	if prev.Identity != nil {
		e.record(ActivityEvent{
			EventType:  ActivityEventIdentityCleared,
			IdentityID: prev.Identity.ID,
			Trigger:    trigger,
			FromState:  prev.State,
			ToState:    state,
			Generation: e.generation,
		})
	}
}

func (e *Engine) current() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// transition validates and publishes next. Derived flags are computed here.
func (e *Engine) transition(next Snapshot) bool {
	prev := e.current()
	if err := ValidateTransition(prev.State, next.State); err != nil {
		e.logger.Error("rejected sync state transition", "error", err, "from", prev.State, "to", next.State)
		return false
	}

	next.Initializing = prev.Initializing && !next.State.IsSettled()
	e.publish(next)
	return true
}

func (e *Engine) publish(next Snapshot) {
	next.Loading = next.State.IsLoading() || e.signingOut
	if next.Generation == 0 {
		next.Generation = e.generation
	}

	e.mu.Lock()
	e.snap = next
	e.mu.Unlock()

	e.watchers.Publish(next.clone())
}

func (e *Engine) record(event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	if err := e.activitySink.Record(e.ctx, event); err != nil {
		e.logger.Warn("engine activity sink error", "error", err)
	}
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
