package restcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios. Terminal errors returned by
// the client match these under errors.Is.
var (
	// ErrRateLimitTimeout is returned when the caller's deadline fires while
	// waiting for rate-limit tokens; no tokens are consumed.
	ErrRateLimitTimeout = errors.New("restcore: rate limit timeout")

	// ErrPoolExhausted is returned when no connection slot for the target host
	// frees up before the caller's deadline.
	ErrPoolExhausted = errors.New("restcore: connection pool exhausted")

	// ErrRetriesExhausted is returned when a transient failure persists
	// through the final permitted attempt.
	ErrRetriesExhausted = errors.New("restcore: retries exhausted")

	// ErrDeadlineExceeded is returned when the logical request deadline fires
	// at any suspension point.
	ErrDeadlineExceeded = errors.New("restcore: deadline exceeded")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("restcore: circuit open")
)

// Error type names carried by ClientError.Type.
const (
	ErrorTypeRateLimitTimeout = "RateLimitTimeout"
	ErrorTypePoolExhausted    = "PoolExhausted"
	ErrorTypeNetworkTransient = "NetworkTransient"
	ErrorTypeNetworkFatal     = "NetworkFatal"
	ErrorTypeHTTP             = "HTTPError"
	ErrorTypeDecode           = "DecodeError"
	ErrorTypeDeadlineExceeded = "DeadlineExceeded"
	ErrorTypeRetriesExhausted = "RetriesExhausted"
	ErrorTypeCircuitOpen      = "CircuitOpen"
	ErrorTypeValidation       = "Validation"
)

// DecodeKind identifies which decoder rejected a response body.
type DecodeKind int

const (
	DecodeMalformedJSON DecodeKind = iota + 1
	DecodeMalformedXML
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeMalformedJSON:
		return "MalformedJSON"
	case DecodeMalformedXML:
		return "MalformedXML"
	default:
		return "Unknown"
	}
}

// DecodeError reports a response body that could not be parsed under its
// declared content type. Decode failures are always fatal.
type DecodeError struct {
	Kind  DecodeKind
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("restcore: decode %s: %v", e.Kind, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// ClientError is the single terminal error shape surfaced by the client. It
// carries the failure classification, the attempts consumed and, when the
// remote service answered, the last normalized error body.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	StatusCode  int
	Class       FailureClass
	Attempts    int
	MaxAttempts int
	// Body is the normalized payload of the last non-2xx response, if any,
	// kept so API-specific error shapes stay inspectable.
	Body      *Body
	Timestamp time.Time
	Duration  time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempts, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches either another ClientError of the same Type or the sentinel
// error corresponding to this Type.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrRateLimitTimeout:
		return e.Type == ErrorTypeRateLimitTimeout
	case ErrPoolExhausted:
		return e.Type == ErrorTypePoolExhausted
	case ErrRetriesExhausted:
		return e.Type == ErrorTypeRetriesExhausted
	case ErrDeadlineExceeded:
		return e.Type == ErrorTypeDeadlineExceeded
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry. Returns true for network timeouts and resets, 5xx
// responses and rate limiting; false for other 4xx, decode and validation
// errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimitTimeout) || errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetworkTransient, ErrorTypeRateLimitTimeout, ErrorTypePoolExhausted,
			ErrorTypeRetriesExhausted, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeHTTP:
			return clientErr.Class == ClassTransient
		default:
			return false
		}
	}

	return ClassifyError(err) == ClassTransient
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Class != ClassNone {
		info += fmt.Sprintf("Classification: %s\n", e.Class)
	}
	if e.Attempts > 0 {
		info += fmt.Sprintf("Attempts: %d/%d\n", e.Attempts, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
