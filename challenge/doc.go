// Package challenge builds and verifies single-use, multi-factor step-up
// challenges.
//
// A [Factory] shapes a [Challenge] from the user's enrolled identity profile
// and, optionally, a risk level. A [Verifier] checks a [Response] against that
// challenge with one rule per factor type, then writes verified factor data back
// to the profile on a best-effort basis.
//
// # Architecture boundaries
//
// Identity profiles are reached only through the [ProfileStore] collaborator.
// Nonce single-use bookkeeping and attempt ceilings belong to the caller that
// stores issued challenges; Verify itself is stateless.
//
// # What this package must NOT do
//
//   - Use a package-level random source. Randomness is injected.
//   - Fail a successful verification because a profile write-back failed.
package challenge
