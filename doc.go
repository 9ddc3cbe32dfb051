// Package authcore is the login orchestrator for the SportsAI backend.
//
// An [Engine] composes the component packages into the account use cases:
// password login with a failed-attempt throttle and a two-factor gate,
// signup, refresh with rotation-on-use, logout, device session management,
// OAuth login, and password reset. Build one with [New]:
//
//	engine, err := authcore.New().
//		WithConfig(authcore.DefaultConfig()).
//		WithStore(memory.New()).
//		Build()
//
// Every method returns either a result value or an [*Error] whose [Kind]
// maps onto an HTTP status. Request metadata (client IP, user agent) is
// read from the context; attach it with [WithClientIP] and [WithUserAgent].
package authcore
