// Package httputil provides HTTP utilities for the JSON envelope used by every
// API route.
//
// # Envelope
//
// Successful responses are {"ok": true, ...fields}:
//
//	httputil.WriteSuccess(w, httputil.M{"user": user})
//
// Failures are {"ok": false, "error": message, "details"?: ...} and are
// produced from *Error values:
//
//	httputil.WriteAPIError(w, r, httputil.Conflict("Пользователь с таким email уже существует"))
//	httputil.WriteAPIError(w, r, httputil.ValidationError(issues))
//
// Any other error is written as a 500 with a generic message and its cause
// is logged through the request logger.
//
// Rate limit denials also carry a Retry-After header and the retryAfter and
// resetTime fields:
//
//	httputil.WriteAPIError(w, r, httputil.RateLimited(time.Until(resetAt), resetAt))
//
// # Middleware
//
//	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		proxies.Middleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.TimeoutMiddleware(15*time.Second),
//		httputil.MaxBytesMiddleware(6<<20),
//	)
package httputil
