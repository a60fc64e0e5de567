package authsync

import "time"

const (
	// DefaultMaxRetries is the number of retries after the first failed resolution.
	DefaultMaxRetries = 3
	// DefaultRetryStep is the linear backoff unit: retry n waits n*step.
	DefaultRetryStep = time.Second
	// DefaultCallTimeout bounds a single provider round-trip.
	DefaultCallTimeout = 15 * time.Second
)

// EngineOption customizes Engine construction.
type EngineOption func(*Engine)

// WithEngineClock injects a custom clock (useful for tests).
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithBackoffTimer overrides how the engine waits between retries.
func WithBackoffTimer(after func(time.Duration) <-chan time.Time) EngineOption {
	return func(e *Engine) {
		if after != nil {
			e.after = after
		}
	}
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryStep overrides the linear backoff unit.
func WithRetryStep(step time.Duration) EngineOption {
	return func(e *Engine) {
		if step > 0 {
			e.retryStep = step
		}
	}
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithEngineActivitySink sets the ActivitySink used to publish session events.
func WithEngineActivitySink(sink ActivitySink) EngineOption {
	return func(e *Engine) {
		e.activitySink = normalizeActivitySink(sink)
	}
}

// WithEngineLogger overrides the engine logger.
func WithEngineLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.provider, e.logger = ResolveLogger("authsync.engine", nil, logger)
		}
	}
}

// WithEngineLoggerProvider resolves the engine logger from a provider.
func WithEngineLoggerProvider(provider LoggerProvider) EngineOption {
	return func(e *Engine) {
		if provider != nil {
			e.provider, e.logger = ResolveLogger("authsync.engine", provider, e.logger)
		}
	}
}
