// Package factor defines the closed set of verification factor types shared by
// challenges and verification sessions.
//
// # Architecture boundaries
//
// factor is a leaf package. It carries no behavior beyond naming and parsing, so
// both the challenge verifier and the session step validators can switch over
// [Type] exhaustively without importing each other.
//
// # What this package must NOT do
//
//   - Grow open-ended registration of new factor types at runtime.
//   - Import any other package from this module.
package factor
