package restcore

import (
	"net/http"
	"time"
)

// Request is one logical outbound request. It is immutable once submitted;
// the executor may realize it as several network attempts.
type Request struct {
	// Method is one of GET, POST, PUT, PATCH, DELETE.
	Method string
	// URL is the absolute target URL.
	URL string
	// Headers are merged over the client's default headers.
	Headers map[string]string
	// Body is the raw payload; ContentType declares its encoding.
	Body        []byte
	ContentType string
	// Idempotent marks the request safe to retry after ambiguous failures.
	// GET, HEAD, PUT, DELETE and OPTIONS are treated as idempotent regardless.
	Idempotent bool
	// Timeout bounds the whole logical request including retries. Zero means
	// the client default.
	Timeout time.Duration
}

// Response is the canonical result of a logical request. The caller owns it
// after return.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       *Body
	// Attempts is the number of network attempts consumed, including the
	// successful one.
	Attempts int

	elapsed time.Duration
}

// BodyKind tags the canonical body variant.
type BodyKind int

const (
	// BodyRaw is the passthrough variant for unrecognized content types.
	BodyRaw BodyKind = iota
	// BodyJSON holds a recursive value decoded from application/json.
	BodyJSON
	// BodyXML holds an element tree decoded from application/xml or text/xml.
	BodyXML
	// BodyForm holds an ordered multi-map decoded from
	// application/x-www-form-urlencoded.
	BodyForm
)

func (k BodyKind) String() string {
	switch k {
	case BodyRaw:
		return "raw"
	case BodyJSON:
		return "json"
	case BodyXML:
		return "xml"
	case BodyForm:
		return "form"
	default:
		return "unknown"
	}
}

// Body is the canonical, content-type independent representation of a
// response payload. Exactly one of JSON, XML or Form is set according to
// Kind; Raw always holds the undecoded bytes.
type Body struct {
	Kind BodyKind
	// JSON is an object (map[string]interface{}), array ([]interface{}),
	// string, json.Number, bool or nil.
	JSON interface{}
	XML  *XMLNode
	Form FormPairs
	Raw  []byte
}

// XMLNode is one element of a decoded XML tree. Children preserve document
// order; Text is the concatenated character data directly under the element.
type XMLNode struct {
	Name     string
	Attr     map[string]string
	Children []*XMLNode
	Text     string
}

// Child returns the first direct child with the given element name, or nil.
func (n *XMLNode) Child(name string) *XMLNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FormPair is a single key/value from a form-encoded body.
type FormPair struct {
	Key   string
	Value string
}

// FormPairs is an ordered multi-map: keys may repeat and insertion order is
// preserved, matching the wire order of the form body.
type FormPairs []FormPair

// Get returns the first value for key and whether it was present.
func (f FormPairs) Get(key string) (string, bool) {
	for _, p := range f {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Values returns all values for key in order.
func (f FormPairs) Values(key string) []string {
	var vs []string
	for _, p := range f {
		if p.Key == key {
			vs = append(vs, p.Value)
		}
	}
	return vs
}

// FailureClass classifies a failed attempt for retry purposes.
type FailureClass int

const (
	// ClassNone means no failure occurred.
	ClassNone FailureClass = iota
	// ClassTransient failures (timeouts, resets, 5xx, 429) may succeed on retry.
	ClassTransient
	// ClassFatal failures (other 4xx, malformed requests, decode errors) must
	// not be retried.
	ClassFatal
)

func (c FailureClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Middleware wraps the transport for one attempt. It may mutate the request,
// short-circuit, or delegate to next.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport interface seen by middleware.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Client at construction time.
type Option func(*Client)

// DefaultIsIdempotent reports whether an HTTP method is idempotent by
// definition.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
