// Package restcore is a reusable execution core for building clients against
// REST-style HTTP APIs. It turns logical requests into HTTP traffic under
// concurrency, rate-limit and retry constraints, and normalizes heterogeneous
// response bodies into one canonical shape:
//
//   - Blocking token-bucket rate limiting with FIFO fairness (per client or per host)
//   - Bounded retries with exponential backoff + jitter and Retry-After support
//   - Bounded per-host connection usage with cancellable acquisition
//   - Content-type driven normalization of JSON, XML and form-encoded bodies
//   - Circuit breaker (open / half-open / closed states)
//   - Middleware chain for cross-cutting concerns (auth headers, tracing, etc.)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Every failure surfaces as exactly one typed error carrying its
//     classification, attempt count and the last normalized error body
//
// Typical usage:
//
//	client := restcore.New(
//	    restcore.WithMaxAttempts(3),
//	    restcore.WithRateLimiter(10, 10),
//	    restcore.WithConnectionPool(5),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Credential construction, URL templating and API-specific schemas are left to
// plugin code layered on top; middleware is the intended hook for those.
package restcore
