package provider

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Request is a webhook delivery as seen by a Provider: headers, query, the raw body
// used for signature checks, and the body decoded as a JSON object.
type Request struct {
	Header  http.Header
	Query   url.Values
	Body    map[string]any
	RawBody []byte
}

// NewRequest decodes raw when present. Numbers are kept as json.Number so large ids survive.
func NewRequest(header http.Header, query url.Values, raw []byte) (*Request, error) {
	req := &Request{Header: header, Query: query, RawBody: raw}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return req, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req.Body); err != nil {
		return nil, ErrMalformedBody
	}
	return req, nil
}

// Lookup walks the decoded body along path.
func (r *Request) Lookup(path ...string) (any, bool) {
	var cur any = r.Body
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// String returns the body value at path formatted as a string, or "" when absent.
// Numeric ids are formatted in base 10.
func (r *Request) String(path ...string) string {
	v, ok := r.Lookup(path...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// Required is String that fails with MissingParameterError when the value is empty.
func (r *Request) Required(path ...string) (string, error) {
	v := r.String(path...)
	if v == "" {
		return "", &MissingParameterError{Name: joinPath(path)}
	}
	return v, nil
}

func joinPath(path []string) string {
	var b bytes.Buffer
	for i, p := range path {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}
