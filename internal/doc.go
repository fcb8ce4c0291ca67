// Package internal contains helpers that are private to the step-up module:
// nonce generation, nonce storage keys, and session identifiers.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - keylock: per-key mutex striping for in-process stores
//   - stepsession: multi-step verification session state machine and stores
//   - tracker: rolling verification history and failure escalation
//
// # What this package must NOT do
//
//   - Export types that appear in the public API.
//   - Be imported by any package outside this module.
package internal
