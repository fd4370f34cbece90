package restcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client executes logical requests against remote REST APIs, layering rate
// limiting, bounded per-host connections, bounded retries with backoff,
// circuit breaking, middleware and metrics around the standard net/http
// transport, and returning canonical normalized responses. It is safe for
// concurrent use; limiter and pool state are owned by the client instance,
// never shared globally.
type Client struct {
	pool              *ConnectionPool
	transport         *http.Transport
	maxConnsPerHost   int
	rateLimiter       Limiter
	limiterRegistry   *RateLimiterRegistry
	retryPolicy       RetryPolicy
	maxAttempts       int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	defaultTimeout    time.Duration
	attemptTimeout    time.Duration
	defaultHeaders    map[string]string
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	validationError   error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		maxConnsPerHost:   5,
		maxAttempts:       3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            1.0,
		defaultTimeout:    30 * time.Second,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.debug == nil {
		client.debug = DefaultDebugConfig()
	}
	if client.debug.Enabled && client.logger == nil {
		client.logger = NewSimpleLogger()
	}
	if client.pool == nil {
		client.pool = NewConnectionPool(client.maxConnsPerHost, client.transport)
	}
	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicy(client.maxAttempts,
			client.initialBackoff, client.maxBackoff, client.backoffMultiplier, client.jitter)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: url, Body: body, ContentType: contentType})
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, URL: url, Body: body, ContentType: contentType})
}

// Patch performs an HTTP PATCH with the given content type.
func (c *Client) Patch(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, URL: url, Body: body, ContentType: contentType})
}

// Delete performs an HTTP DELETE.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URL: url})
}

// Do executes one logical request, applying all reliability layers, and
// returns either a normalized Response or exactly one typed terminal error.
// Attempts within the request are strictly sequential; no ordering exists
// across distinct requests.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	u, err := c.validateRequest(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	endpoint := endpointFromURL(u)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL, "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	resp, err := c.execute(ctx, req, u, endpoint, requestID, deadline)

	if resp != nil {
		c.metrics.RecordRequest(req.Method, endpoint, resp.StatusCode, resp.Attempts, resp.elapsed)
	} else {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			c.metrics.RecordRequest(req.Method, endpoint, clientErr.StatusCode, clientErr.Attempts, clientErr.Duration)
		}
	}
	return resp, err
}

// execute drives one logical request through the attempt state machine:
// limit, dispatch, decode, then either succeed, sleep-and-retry, or fail.
func (c *Client) execute(ctx context.Context, req *Request, u *url.URL, endpoint, requestID string, deadline time.Time) (*Response, error) {
	host := u.Host
	limiter, limiterName := c.limiterFor(req)

	start := time.Now()
	attempts := 0

	var lastClass FailureClass
	var lastStatus int
	var lastBody *Body
	var lastCause error

	for {
		// Limiting: a failure here has consumed no token and contacted no
		// server.
		if limiter != nil {
			waitStart := time.Now()
			if err := limiter.Acquire(ctx, 1); err != nil {
				if c.debugEnabled(c.debug.LogRateLimit) {
					c.logger.Warn("Rate limit acquisition failed", "requestID", requestID, "endpoint", endpoint, "error", err.Error())
				}
				return nil, c.stageError(ctx, err, ErrorTypeRateLimitTimeout,
					"timed out waiting for rate limit tokens", req, requestID, attempts, start)
			}
			c.metrics.RecordRateLimiterWait(limiterName, time.Since(waitStart))
			c.metrics.RecordRateLimiterTokens(limiterName, limiter.Tokens())
		}

		if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
			if c.debugEnabled(c.debug.LogCircuit) {
				c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint)
			}
			c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
			e := c.newError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, req, requestID, attempts, start)
			return nil, e
		}

		// Dispatching: one connection slot for the duration of the attempt.
		handle, err := c.pool.Acquire(ctx, host)
		if err != nil {
			if c.debugEnabled(c.debug.LogPool) {
				c.logger.Warn("Connection pool acquisition failed", "requestID", requestID, "host", host)
			}
			c.metrics.RecordPoolExhausted(host)
			return nil, c.stageError(ctx, err, ErrorTypePoolExhausted,
				"no connection slot available for host "+host, req, requestID, attempts, start)
		}
		c.metrics.RecordPoolInUse(host, c.pool.InUse(host))

		attempts++
		if attempts > 1 {
			if c.debugEnabled(c.debug.LogRetries) {
				c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempts, "endpoint", endpoint)
			}
			c.metrics.RecordRetry(req.Method, endpoint, attempts)
		}

		httpResp, raw, netErr := c.dispatch(ctx, req, handle)
		c.metrics.RecordPoolInUse(host, c.pool.InUse(host))

		var contacted bool
		var retryAfter time.Duration

		if netErr != nil {
			// The logical deadline dominates every other classification.
			if ctx.Err() != nil {
				return nil, c.deadlineError(netErr, req, requestID, attempts, start)
			}
			class, kind := classifyNetwork(netErr)
			contacted = kind != netConnRefused
			lastClass, lastStatus, lastBody, lastCause = class, 0, nil, netErr
			c.recordAttemptFailure(req, endpoint, requestID, netErr, 0)
		} else {
			// Decoding.
			body, decErr := Normalize(httpResp.Header, raw)
			if decErr != nil {
				var de *DecodeError
				if errors.As(decErr, &de) {
					c.metrics.RecordDecodeError(de.Kind, endpoint)
				}
				if c.debugEnabled(c.debug.LogNormalizer) {
					c.logger.Warn("Response decode failed", "requestID", requestID, "statusCode", httpResp.StatusCode, "error", decErr.Error())
				}
				e := c.newError(ErrorTypeDecode, "response body could not be decoded", decErr, req, requestID, attempts, start)
				e.StatusCode = httpResp.StatusCode
				e.Class = ClassFatal
				c.metrics.RecordError(ErrorTypeDecode, req.Method, endpoint)
				return nil, e
			}

			if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
				if c.circuitBreaker != nil {
					c.circuitBreaker.RecordSuccess()
					c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
				}
				return &Response{
					StatusCode: httpResp.StatusCode,
					Header:     httpResp.Header,
					Body:       body,
					Attempts:   attempts,
					elapsed:    time.Since(start),
				}, nil
			}

			contacted = true
			lastClass = ClassifyStatus(httpResp.StatusCode)
			lastStatus = httpResp.StatusCode
			lastBody = body
			lastCause = nil
			retryAfter = ParseRetryAfter(httpResp.Header.Get("Retry-After"))
			c.recordAttemptFailure(req, endpoint, requestID, nil, httpResp.StatusCode)
		}

		// Loop control: the executor is the only component that retries.
		delay, retry := c.retryPolicy.ShouldRetry(RetryContext{
			Attempt:         attempts,
			Class:           lastClass,
			StatusCode:      lastStatus,
			Elapsed:         time.Since(start),
			Deadline:        deadline,
			Method:          req.Method,
			Idempotent:      req.Idempotent,
			ServerContacted: contacted,
			RetryAfter:      retryAfter,
		})
		if !retry {
			break
		}

		// Sleep holds neither a token nor a connection slot.
		if c.debugEnabled(c.debug.LogRetries) {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempts+1, "backoff", delay, "endpoint", endpoint)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.deadlineError(ctx.Err(), req, requestID, attempts, start)
		case <-timer.C:
		}
	}

	e := c.newError("", "", lastCause, req, requestID, attempts, start)
	e.StatusCode = lastStatus
	e.Class = lastClass
	e.Body = lastBody
	switch {
	case lastClass == ClassTransient:
		e.Type = ErrorTypeRetriesExhausted
		e.Message = fmt.Sprintf("transient failure persisted through %d attempts", attempts)
		if e.Cause == nil {
			e.Cause = ErrRetriesExhausted
		}
	case lastStatus != 0:
		e.Type = ErrorTypeHTTP
		e.Message = fmt.Sprintf("request failed with status %d", lastStatus)
	default:
		e.Type = ErrorTypeNetworkFatal
		e.Message = "network request failed"
	}
	c.metrics.RecordError(e.Type, req.Method, endpoint)
	return nil, e
}

// dispatch performs one network attempt: build the wire request, run it
// through the middleware chain into the pooled transport, and drain the body.
// The connection slot is released before returning.
func (c *Client) dispatch(ctx context.Context, req *Request, handle *PoolHandle) (*http.Response, []byte, error) {
	defer handle.Release()

	attemptCtx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range c.defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.executeMiddleware(httpReq, handle)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

func (c *Client) executeMiddleware(req *http.Request, handle *PoolHandle) (*http.Response, error) {
	current := RoundTripper(handle)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// limiterFor resolves the limiter for a request: the per-host registry when
// configured, otherwise the client-wide limiter (possibly nil, meaning
// unlimited).
func (c *Client) limiterFor(req *Request) (Limiter, string) {
	if c.limiterRegistry != nil {
		return c.limiterRegistry.GetLimiter(req)
	}
	return c.rateLimiter, "default"
}

func (c *Client) validateRequest(req *Request) (*url.URL, error) {
	switch req.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("unsupported method %q", req.Method),
			Method:    req.Method,
			URL:       req.URL,
			Timestamp: time.Now(),
		}
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("invalid request URL %q", req.URL),
			Cause:     err,
			Method:    req.Method,
			URL:       req.URL,
			Timestamp: time.Now(),
		}
	}
	return u, nil
}

// recordAttemptFailure updates the circuit breaker and error metrics for one
// failed attempt. Mirrors the success path bookkeeping in execute.
func (c *Client) recordAttemptFailure(req *Request, endpoint, requestID string, netErr error, statusCode int) {
	if c.circuitBreaker != nil {
		if netErr != nil || statusCode >= 500 {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
		if c.debugEnabled(c.debug.LogCircuit) {
			if netErr != nil {
				c.logger.Warn("Attempt failure recorded", "requestID", requestID, "error", netErr.Error())
			} else {
				c.logger.Warn("Attempt failure recorded", "requestID", requestID, "statusCode", statusCode)
			}
		}
	}
}

// stageError maps an acquisition failure (limiter or pool) to its terminal
// error, preferring the deadline taxonomy when the logical deadline caused
// the failure.
func (c *Client) stageError(ctx context.Context, cause error, errorType, message string, req *Request, requestID string, attempts int, start time.Time) *ClientError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.deadlineError(cause, req, requestID, attempts, start)
	}
	e := c.newError(errorType, message, cause, req, requestID, attempts, start)
	e.Class = ClassTransient
	return e
}

func (c *Client) deadlineError(cause error, req *Request, requestID string, attempts int, start time.Time) *ClientError {
	e := c.newError(ErrorTypeDeadlineExceeded, "logical request deadline exceeded", cause, req, requestID, attempts, start)
	if e.Cause == nil {
		e.Cause = ErrDeadlineExceeded
	}
	return e
}

func (c *Client) newError(errorType, message string, cause error, req *Request, requestID string, attempts int, start time.Time) *ClientError {
	return &ClientError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		RequestID:   requestID,
		Method:      req.Method,
		URL:         req.URL,
		Attempts:    attempts,
		MaxAttempts: c.maxAttempts,
		Timestamp:   time.Now(),
		Duration:    time.Since(start),
	}
}

func (c *Client) debugEnabled(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag && c.logger != nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func endpointFromURL(u *url.URL) string {
	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
