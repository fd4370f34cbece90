package restcore

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Content types with dedicated decoders. Matching ignores case and
// parameters (charset etc.).
const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
	contentTypeText = "text/xml"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Normalize parses a raw response body into the canonical Body shape,
// dispatching on the declared content type. Unrecognized or absent content
// types pass through as raw bytes without error. A decode failure under a
// recognized content type returns a *DecodeError and no body.
//
// Normalize itself is status-agnostic; the executor wraps non-2xx results in
// a ClientError that carries the normalized body.
func Normalize(header http.Header, raw []byte) (*Body, error) {
	// Empty bodies (204s, HEAD responses) pass through whatever the declared
	// content type says.
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Body{Kind: BodyRaw, Raw: raw}, nil
	}

	switch normalizeContentType(header.Get("Content-Type")) {
	case contentTypeJSON:
		v, err := decodeJSON(raw)
		if err != nil {
			return nil, &DecodeError{Kind: DecodeMalformedJSON, Cause: err}
		}
		return &Body{Kind: BodyJSON, JSON: v, Raw: raw}, nil

	case contentTypeXML, contentTypeText:
		node, err := decodeXML(raw)
		if err != nil {
			return nil, &DecodeError{Kind: DecodeMalformedXML, Cause: err}
		}
		return &Body{Kind: BodyXML, XML: node, Raw: raw}, nil

	case contentTypeForm:
		return &Body{Kind: BodyForm, Form: decodeForm(raw), Raw: raw}, nil

	default:
		return &Body{Kind: BodyRaw, Raw: raw}, nil
	}
}

// normalizeContentType lowercases the media type and strips parameters.
func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// decodeJSON parses raw into a recursive value, preserving numbers as
// json.Number. Trailing non-whitespace after the first value is malformed.
func decodeJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(interface{})); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after top-level value")
		}
		return nil, err
	}
	return v, nil
}

// decodeXML parses raw into an element tree rooted at the document element.
func decodeXML(raw []byte) (*XMLNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var root *XMLNode
	var stack []*XMLNode
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &XMLNode{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attr = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					node.Attr[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, io.ErrUnexpectedEOF
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, io.ErrUnexpectedEOF
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		}
	}

	if root == nil || len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// decodeForm parses a form-encoded body into an ordered multi-map. Keys may
// repeat and wire order is preserved. Pairs with invalid percent-escapes are
// kept verbatim rather than dropped.
func decodeForm(raw []byte) FormPairs {
	var pairs FormPairs
	for _, segment := range strings.Split(string(raw), "&") {
		if segment == "" {
			continue
		}
		key, value := segment, ""
		if i := strings.IndexByte(segment, '='); i >= 0 {
			key, value = segment[:i], segment[i+1:]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		pairs = append(pairs, FormPair{Key: key, Value: value})
	}
	return pairs
}

// EncodeForm renders ordered pairs back to the form-encoded wire format. It
// is the inverse of the form arm of Normalize: decoding the returned bytes
// yields the original pairs in order.
func EncodeForm(pairs FormPairs) []byte {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return []byte(b.String())
}
