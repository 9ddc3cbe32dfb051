// Package middleware adapts the engine to HTTP servers.
//
// # Guards
//
//   - [RequireAccess] verifies the access token from the cookie or the
//     Authorization header and stores its claims in the request context.
//   - [RateLimit] consumes one token-bucket token per request and sets the
//     X-RateLimit headers. Mounted after RequireAccess it keys by user, and
//     [WithTier] picks that user's subscription tier.
//
// [EchoRequireAccess] and [EchoRateLimit] are the echo equivalents.
//
// This package translates HTTP semantics into engine calls. It does not
// parse tokens or touch stores itself.
package middleware
