// Package risk scores how unusual an action looks against a user's stored
// behavioral baseline and maps the score onto a discrete verification [Level].
//
// Scoring is a pure function of the baseline, the observed [Snapshot], and the
// configured weights. Baselines only ever hold categorized buckets and a
// navigation hash; [BuildBaseline] is the single place raw enrollment
// measurements are turned into categories.
//
// # Architecture boundaries
//
// The [BaselineStore] is a collaborator interface. Persistence technology is the
// caller's concern; [MemoryBaselineStore] exists for tests and local development.
//
// # What this package must NOT do
//
//   - Return an error from [Engine.Assess]. Failures degrade to a conservative
//     MEDIUM assessment tagged calculation_error.
//   - Persist assessments or snapshots.
package risk
