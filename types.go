package authgate

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one logical outbound call. Body is held as bytes so the call can
// be replayed after a refresh.
//
// The gateway works on a private copy; a Request passed to [Gateway.Do] may be reused
// by the caller.
type Request struct {
	Method string
	// Path is relative to Config.HTTP.BaseURL, e.g. "/products/42".
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// ID is sent as X-Request-ID. A uuid is assigned when empty.
	ID string

	retried  bool
	sentWith string
}

// NewRequest returns a Request for method and path.
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: make(http.Header),
	}
}

// NewJSONRequest marshals v as the request body and sets Content-Type.
func NewJSONRequest(method, path string, v any) (*Request, error) {
	var body []byte
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = raw
	}
	req := NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (r *Request) clone() *Request {
	out := *r
	if r.Header != nil {
		out.Header = r.Header.Clone()
	} else {
		out.Header = make(http.Header)
	}
	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Body != nil {
		out.Body = bytes.Clone(r.Body)
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	return &out
}

// routePath returns the path without query string or trailing slash.
func (r *Request) routePath() string {
	return normalizePath(r.Path)
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Response is a 2xx answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Replayed is true when the answer came from the replay after a refresh.
	Replayed bool
	// RequestID echoes the X-Request-ID that was sent.
	RequestID string
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return errors.New("nil response")
	}
	return json.Unmarshal(r.Body, v)
}

// RefreshState is the coordinator's state.
type RefreshState uint8

const (
	// RefreshIdle means no refresh is in flight and the wait queue is empty.
	RefreshIdle RefreshState = iota
	// RefreshRefreshing means exactly one refresh call is in flight.
	RefreshRefreshing
)

func (s RefreshState) String() string {
	switch s {
	case RefreshIdle:
		return "idle"
	case RefreshRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
