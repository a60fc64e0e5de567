// Package activitymap flattens session activity events into a record shape
// that audit stores and feeds can consume without importing authsync.
package activitymap

import (
	"cmp"
	"context"
	"maps"
	"strings"
	"time"

	authsync "github.com/goliatone/go-auth-sync"
)

const (
	// MetadataKeyTrigger stores the provider event that caused the change.
	MetadataKeyTrigger = "trigger"
	// MetadataKeyFromState stores the sync state before the change.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the sync state after the change.
	MetadataKeyToState = "to_state"
	// MetadataKeyAttempt stores the resolution attempt.
	MetadataKeyAttempt = "attempt"
	// MetadataKeyGeneration stores the resolution generation.
	MetadataKeyGeneration = "generation"
)

const (
	defaultChannel    = "session"
	defaultObjectType = "identity"
	defaultActorID    = "system"
)

// Normalized is one activity record: who did what to which identity.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option tunes Normalize.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(authsync.ActivityEvent) string
}

// Normalize converts an authsync.ActivityEvent into a generic normalized shape.
func Normalize(event authsync.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := cmp.Or(strings.TrimSpace(event.IdentityID), options.actorFallback)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink returns an authsync.ActivitySink that normalizes every event and hands
// it to emit.
func Sink(emit func(context.Context, Normalized) error, opts ...Option) authsync.ActivitySink {
	return authsync.ActivitySinkFunc(func(ctx context.Context, event authsync.ActivityEvent) error {
		if emit == nil {
			return nil
		}
		return emit(ctx, Normalize(event, opts...))
	})
}

// LogSink writes normalized events to logger at info level.
func LogSink(logger authsync.Logger, opts ...Option) authsync.ActivitySink {
	_, logger = authsync.ResolveLogger("authsync.activity", nil, logger)
	return Sink(func(_ context.Context, n Normalized) error {
		logger.Info(n.Verb,
			"actor_id", n.ActorID,
			"object_type", n.ObjectType,
			"object_id", n.ObjectID,
			"channel", n.Channel,
			"metadata", n.Metadata,
		)
		return nil
	}, opts...)
}

// WithDefaultChannel replaces the "session" channel.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType replaces the "identity" object type.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver derives the object id from the event. The identity
// id is used otherwise.
func WithObjectIDResolver(resolver func(authsync.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no identity.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{channel: defaultChannel, objectType: defaultObjectType, actorFallback: defaultActorID}
}

func resolveObjectID(event authsync.ActivityEvent, resolver func(authsync.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.IdentityID)
}

func normalizeMetadata(event authsync.ActivityEvent) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = maps.Clone(event.Metadata)
	}
	// explicit metadata wins over derived keys
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	if event.Trigger != "" {
		set(MetadataKeyTrigger, string(event.Trigger))
	}
	if event.FromState != "" {
		set(MetadataKeyFromState, string(event.FromState))
	}
	if event.ToState != "" {
		set(MetadataKeyToState, string(event.ToState))
	}
	if event.Attempt > 0 {
		set(MetadataKeyAttempt, event.Attempt)
	}
	if event.Generation > 0 {
		set(MetadataKeyGeneration, event.Generation)
	}

	return metadata
}
