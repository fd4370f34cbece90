package restcore

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// netErrorKind refines the transport-error taxonomy used by the idempotency
// rule: a refused connection means no request bytes ever reached the server,
// while timeouts and resets are ambiguous.
type netErrorKind int

const (
	netOther netErrorKind = iota
	netTimeout
	netConnRefused
	netConnReset
)

// ClassifyError classifies a transport error as transient or fatal. Timeouts,
// connection refusals and connection resets have some prospect of success on
// retry; everything else (protocol violations, bad request construction) is
// fatal. The executor maps logical-deadline expiry to the deadline taxonomy
// before this classification runs.
func ClassifyError(err error) FailureClass {
	cls, _ := classifyNetwork(err)
	return cls
}

func classifyNetwork(err error) (FailureClass, netErrorKind) {
	if err == nil {
		return ClassNone, netOther
	}
	// The executor handles the logical deadline before classifying, so a
	// context deadline seen here is a per-attempt timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, netTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal, netOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient, netTimeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return ClassTransient, netConnRefused
		case syscall.ECONNRESET, syscall.EPIPE:
			return ClassTransient, netConnReset
		}
	}

	return ClassFatal, netOther
}

// ClassifyStatus classifies an HTTP status code. 2xx is no failure, 429 and
// 5xx are transient, every other non-2xx is fatal.
func ClassifyStatus(statusCode int) FailureClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassNone
	case statusCode == 429 || statusCode >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}
