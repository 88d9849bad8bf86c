// Package eventbus provides a small synchronous publish/subscribe registry.
//
// A [Bus] decouples producers of state changes (pollers, schedulers, HTTP
// handlers) from the observers that react to them (stores, metrics, user
// callbacks). Events are identified by name; payloads are untyped and
// consumers narrow them with [Listen].
//
// The main operations are:
//
//   - [Bus.On]: persistent subscription, returns an unsubscribe function
//   - [Bus.Once]: subscription removed after its first delivery
//   - [Bus.Emit]: synchronous, in-order delivery to every subscriber
//
// # Dispatch semantics
//
// Emit takes a snapshot of the subscriber list when dispatch starts. Handlers
// that subscribe, unsubscribe or emit again (re-entrantly) while a dispatch is
// running never corrupt the list being iterated: new subscriptions are seen by
// the next Emit, removed subscriptions are skipped if their turn has not come
// yet, and a nested Emit runs to completion against its own snapshot before the
// outer dispatch resumes.
//
// A handler that panics is isolated. The panic is recovered and logged with a
// correlation ID and stack trace, and the remaining handlers still run.
//
// There is no package-level bus. Create one with [New] at process start and
// pass it to the components that need it; [Bus.Clear] drops every subscription.
package eventbus
