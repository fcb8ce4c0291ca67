// Package stepup decides when a user action needs additional verification and
// drives that verification to completion.
//
// A request is scored against the user's categorized behavioral baseline
// (package risk), mapped to a discrete [risk.Level], and then answered either
// with a single-round nonce challenge (package challenge) or a multi-step
// verification session. Challenge outcomes feed a per-user history that
// enforces cooldowns and escalates repeated failures; session steps are
// self-asserted and only track progress.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// stepup is the public surface. It exposes [Engine], [Builder], [Config], and
// the value types exchanged by the five verification operations. History,
// session and challenge storage live under internal/ and are selected by the
// Builder: in-process maps by default, Redis when a client is supplied.
//
// # What this package must NOT do
//
//   - Fail open. Any scoring failure degrades to MEDIUM scrutiny.
//   - Persist raw behavioral measurements. Baselines hold categories only.
//   - Keep package-level mutable state. Every table is owned by an Engine.
package stepup
