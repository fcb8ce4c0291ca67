// Package stepsession runs ordered, multi-step verification sessions.
//
// A session is created with the step list for its risk level and advances one
// step per valid submission. It is deleted on completion, on expiry (lazily on
// access or by [Manager.Sweep]), or after too many invalid submissions.
//
// # Architecture boundaries
//
// Session state lives behind [Store]. All mutation goes through [Store.Update],
// which gives the callback exclusive access to one session: a striped mutex in
// [MemoryStore], WATCH/MULTI optimistic transactions in [RedisStore].
//
// # What this package must NOT do
//
//   - Retain submitted passwords or biometric material in session state.
//   - Let two submissions for the same session interleave.
package stepsession
