// Package middleware provides HTTP middleware for caller identity and rate
// limiting.
//
// IdentityMiddleware trusts headers set by the upstream identity proxy and
// must only be mounted behind it:
//
//	router.Use(middleware.IdentityMiddleware("X-Actor-ID", "X-Portal-Account-ID"))
//
// RateLimitMiddleware protects unauthenticated token endpoints from
// enumeration and PIN guessing. Limits are shared across instances when
// backed by Redis:
//
//	limiter := middleware.NewRedisLimiter(client, middleware.PINRateLimitConfig(), "gatehouse:ratelimit:pin")
//	pinRoute.Use(middleware.NewRateLimitMiddleware(limiter, log).Handler)
package middleware
