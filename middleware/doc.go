// Package middleware exposes HTTP adapters over stepup.Engine.
//
// # Guards
//
//   - [RequireStepUp] rejects requests without a step-up token asserting at
//     least the given level.
//   - [RequireMedium] and [RequireStrong] fix the level for common routes.
//   - [RequestContext] copies the client IP and User-Agent into the request
//     context, where the engine reads them for audit records and browser
//     family matching.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token parsing and
// level comparison are delegated to Engine.VerifyStepUpToken.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs directly.
//   - Start verification flows. A rejected request carries the required level
//     in the X-Step-Up-Required header so the client can begin one.
package middleware
