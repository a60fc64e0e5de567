// Package authsync keeps the signed in identity of a client in step with its
// authentication session and the profile data held by the backend.
//
// Session sync:
//   - Engine subscribes to a SessionStore and resolves every session through an
//     IdentityResolver. Each resolution carries a generation token; results
//     from a superseded generation are discarded, so a sign out or a new sign
//     in always wins over a slow backend.
//   - Resolver failures are retried with a linear backoff (1s, 2s, 3s by
//     default). Once the retry budget is spent the engine settles as
//     Anonymous and reports ErrTerminalResolution.
//   - A confirmed session whose profile is not materialized yet settles in
//     AwaitingProfile. A session with an unconfirmed email settles in
//     Unverified without calling the resolver.
//
// Notifications:
//   - BindFeed attaches a notification feed to the resolved identity and
//     disposes it whenever the identity changes or clears.
//
// Activity sinks:
//   - ActivitySink receives lifecycle events (resolutions, retries, sign outs,
//     profile updates). Sinks run best-effort; errors are logged and never
//     change the engine state.
package authsync
