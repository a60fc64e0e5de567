package authsync

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventIdentityResolved    ActivityEventType = "session.identity.resolved"
	ActivityEventIdentityCleared     ActivityEventType = "session.identity.cleared"
	ActivityEventResolutionRetry     ActivityEventType = "session.resolution.retry"
	ActivityEventResolutionAbandoned ActivityEventType = "session.resolution.abandoned"
	ActivityEventContextEmpty        ActivityEventType = "session.context.empty"
	ActivityEventEmailUnverified     ActivityEventType = "session.email.unverified"
	ActivityEventSignedOut           ActivityEventType = "session.signed_out"
	ActivityEventProfileUpdated      ActivityEventType = "session.profile.updated"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	IdentityID string
	Trigger    AuthEvent
	FromState  SyncState
	ToState    SyncState
	Attempt    int
	Generation uint64
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans an event out to every sink, returning the first error.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
