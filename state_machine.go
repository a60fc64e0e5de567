package authsync

// SyncState is a state of the session synchronization state machine.
type SyncState string

const (
	StateUninitialized SyncState = "uninitialized"
	StateResolving     SyncState = "resolving"
	// StateAwaitingProfile is the empty-context wait: resolution returned no
	// profile and the engine waits for the next provider event or refresh.
	StateAwaitingProfile SyncState = "awaiting_profile"
	StateRetrying        SyncState = "retrying"
	StateResolved        SyncState = "resolved"
	StateUnverified      SyncState = "unverified"
	StateAnonymous       SyncState = "anonymous"
)

// AllStates returns every SyncState.
func AllStates() []SyncState {
	return []SyncState{
		StateUninitialized,
		StateResolving,
		StateAwaitingProfile,
		StateRetrying,
		StateResolved,
		StateUnverified,
		StateAnonymous,
	}
}

// IsLoading reports whether the state has a resolution pending.
func (s SyncState) IsLoading() bool {
	switch s {
	case StateUninitialized, StateResolving, StateRetrying:
		return true
	default:
		return false
	}
}

// IsSettled reports whether a resolution cycle finished in this state.
func (s SyncState) IsSettled() bool {
	switch s {
	case StateResolved, StateUnverified, StateAnonymous, StateAwaitingProfile:
		return true
	default:
		return false
	}
}

var syncTransitions = map[SyncState]map[SyncState]struct{}{
	StateUninitialized: {
		StateResolving:  {},
		StateUnverified: {},
		StateAnonymous:  {},
	},
	StateResolving: {
		StateResolving:       {},
		StateResolved:        {},
		StateAwaitingProfile: {},
		StateRetrying:        {},
		StateUnverified:      {},
		StateAnonymous:       {},
	},
	StateAwaitingProfile: {
		StateResolving:  {},
		StateUnverified: {},
		StateAnonymous:  {},
	},
	StateRetrying: {
		StateRetrying:        {},
		StateResolving:       {},
		StateResolved:        {},
		StateAwaitingProfile: {},
		StateUnverified:      {},
		StateAnonymous:       {},
	},
	StateResolved: {
		StateResolving:  {},
		StateUnverified: {},
		StateAnonymous:  {},
	},
	StateUnverified: {
		StateResolving:  {},
		StateUnverified: {},
		StateAnonymous:  {},
	},
	StateAnonymous: {
		StateResolving:  {},
		StateUnverified: {},
		StateAnonymous:  {},
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to SyncState) bool {
	if allowed, ok := syncTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for illegal moves.
func ValidateTransition(from, to SyncState) error {
	if CanTransition(from, to) {
		return nil
	}
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": from,
		"to":   to,
	})
}
