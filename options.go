package restcore

import (
	"fmt"
	"net/http"
	"time"
)

// Config is the construction-time configuration surface. Zero fields keep
// the client defaults. It mirrors the granular With* options for callers who
// prefer a single struct.
type Config struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RateCapacity        int
	RateRefillPerSecond float64
	MaxConnsPerHost     int
	DefaultTimeout      time.Duration
}

// WithConfig applies a Config in one shot. Later options override it.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		if cfg.MaxAttempts > 0 {
			c.maxAttempts = cfg.MaxAttempts
		}
		if cfg.BaseDelay > 0 {
			c.initialBackoff = cfg.BaseDelay
		}
		if cfg.MaxDelay > 0 {
			c.maxBackoff = cfg.MaxDelay
		}
		if cfg.RateCapacity > 0 {
			c.rateLimiter = NewRateLimiter(cfg.RateCapacity, cfg.RateRefillPerSecond)
		}
		if cfg.MaxConnsPerHost > 0 {
			c.maxConnsPerHost = cfg.MaxConnsPerHost
		}
		if cfg.DefaultTimeout > 0 {
			c.defaultTimeout = cfg.DefaultTimeout
		}
	}
}

// WithMaxAttempts bounds the number of network attempts per logical request.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithInitialBackoff sets the base delay before the first retry.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = d
	}
}

// WithMaxBackoff caps the delay between attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithBackoffMultiplier sets the geometric growth factor of the backoff.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffMultiplier = f
	}
}

// WithJitter sets the jitter width (0.0 to 1.0); 1.0 scales each delay by a
// uniform factor in [0.5, 1.5).
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithRetryPolicy replaces the default retry policy entirely.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRateLimiter installs a client-wide token bucket of the given capacity,
// refilled at refillPerSecond tokens per second.
func WithRateLimiter(capacity int, refillPerSecond float64) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(capacity, refillPerSecond)
	}
}

// WithLimiter installs a custom limiter implementation client-wide.
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.rateLimiter = limiter
	}
}

// WithHostRateLimits keys rate limiting by target host. Each listed host gets
// its own bucket; unlisted hosts share the client-wide limiter as fallback.
func WithHostRateLimits(limits map[string]Limiter) Option {
	return func(c *Client) {
		registry := NewRateLimiterRegistry(DefaultHostKeyFunc, c.rateLimiter)
		for host, limiter := range limits {
			registry.RegisterLimiter("host:"+host, limiter)
		}
		c.limiterRegistry = registry
	}
}

// WithConnectionPool bounds concurrent connections per target host.
func WithConnectionPool(maxPerHost int) Option {
	return func(c *Client) {
		c.maxConnsPerHost = maxPerHost
		c.pool = nil // rebuilt with the new bound at construction
	}
}

// WithTransport sets the http.Transport backing the connection pool.
func WithTransport(transport *http.Transport) Option {
	return func(c *Client) {
		c.transport = transport
		c.pool = nil
	}
}

// WithTimeout sets the default deadline for a whole logical request,
// retries included. Overridable per request via Request.Timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.defaultTimeout = d
	}
}

// WithAttemptTimeout bounds each network attempt separately from the logical
// deadline. Zero means attempts are bounded only by the remaining deadline.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// WithDefaultHeaders applies headers to every request that does not set them
// itself.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.defaultHeaders = headers
	}
}

// WithMiddleware appends middleware to the attempt chain, outermost first.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithCircuitBreaker enables circuit breaking with the given thresholds.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator overrides the correlation ID generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error collecting every violation, or nil.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateRateLimiterConfig()...)
	errs = append(errs, c.validatePoolConfig()...)
	errs = append(errs, c.validateDebugConfig()...)
	errs = append(errs, c.validateMiddlewareConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	if c.maxAttempts < 1 {
		errs = append(errs, "maxAttempts must be at least 1")
	}
	if c.initialBackoff <= 0 {
		errs = append(errs, "initialBackoff must be positive")
	}
	if c.maxBackoff < c.initialBackoff {
		errs = append(errs, "maxBackoff must be greater than or equal to initialBackoff")
	}
	if c.backoffMultiplier <= 0 {
		errs = append(errs, "backoffMultiplier must be positive")
	}
	if c.jitter < 0 || c.jitter > 1 {
		errs = append(errs, "jitter must be between 0 and 1")
	}
	if c.defaultTimeout <= 0 {
		errs = append(errs, "defaultTimeout must be positive")
	}
	if c.attemptTimeout < 0 {
		errs = append(errs, "attemptTimeout must be non-negative")
	}

	return errs
}

func (c *Client) validateRateLimiterConfig() []string {
	var errs []string

	if rl, ok := c.rateLimiter.(*RateLimiter); ok && rl != nil {
		if rl.capacity <= 0 {
			errs = append(errs, "rateLimiter capacity must be positive")
		}
		if rl.refillRate < 0 {
			errs = append(errs, "rateLimiter refill rate must be non-negative")
		}
	}

	return errs
}

func (c *Client) validatePoolConfig() []string {
	var errs []string

	if c.pool == nil && c.maxConnsPerHost <= 0 {
		errs = append(errs, "maxConnsPerHost must be positive")
	}

	return errs
}

func (c *Client) validateDebugConfig() []string {
	var errs []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errs = append(errs, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errs = append(errs, "logger must be set when debug is enabled")
		}
	}

	return errs
}

func (c *Client) validateMiddlewareConfig() []string {
	var errs []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errs = append(errs, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.maxAttempts > 100 {
		errs = append(errs, "maxAttempts > 100 may cause excessive resource usage")
	}
	if c.initialBackoff > 10*time.Minute {
		errs = append(errs, "initialBackoff > 10m may cause very long delays")
	}
	if c.maxBackoff > time.Hour {
		errs = append(errs, "maxBackoff > 1h may cause extremely long delays")
	}
	if c.defaultTimeout > 10*time.Minute {
		errs = append(errs, "defaultTimeout > 10m may cause requests to hang for too long")
	}

	return errs
}
