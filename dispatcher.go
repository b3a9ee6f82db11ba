package authgate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/credential"
	"github.com/google/uuid"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	headerUserAgent     = "User-Agent"
)

// dispatcher executes one outbound call and classifies the outcome. It reads the
// credential store at call time and never writes to it.
type dispatcher struct {
	client    *http.Client
	baseURL   *url.URL
	store     *credential.Store
	userAgent string
	maxBody   int64
	metrics   *Metrics
}

func newDispatcher(client *http.Client, baseURL *url.URL, store *credential.Store, userAgent string, maxBody int64, metrics *Metrics) *dispatcher {
	return &dispatcher{
		client:    client,
		baseURL:   baseURL,
		store:     store,
		userAgent: userAgent,
		maxBody:   maxBody,
		metrics:   metrics,
	}
}

// execute sends r. It returns a *Response for 2xx, a *HTTPError for any other status,
// and a *TransportError when no response arrived. r.sentWith records the access token
// that was attached.
func (d *dispatcher) execute(ctx context.Context, r *Request) (*Response, error) {
	if r.ID == "" {
		r.ID = requestIDFromContext(ctx)
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
	}

	httpReq, err := d.build(ctx, r)
	if err != nil {
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: err}
	}

	// Read at call time so a replay after a refresh picks up the new token.
	token := d.store.AccessToken()
	if token != "" {
		httpReq.Header.Set(headerAuthorization, "Bearer "+token)
	} else {
		httpReq.Header.Del(headerAuthorization)
	}
	r.sentWith = token

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	d.metrics.Observe(MetricDispatchLatency, time.Since(start))
	d.metrics.Inc(MetricDispatched)
	if err != nil {
		d.metrics.Inc(MetricTransportFailure)
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody+1))
	if err != nil {
		d.metrics.Inc(MetricTransportFailure)
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > d.maxBody {
		d.metrics.Inc(MetricTransportFailure)
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: fmt.Errorf("response body exceeds %d bytes", d.maxBody)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			Replayed:   r.retried,
			RequestID:  r.ID,
		}, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		d.metrics.Inc(MetricUnauthorized)
	} else {
		d.metrics.Inc(MetricPassthroughFailure)
	}
	return nil, &HTTPError{
		Method:     r.Method,
		Path:       r.Path,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
}

func (d *dispatcher) build(ctx context.Context, r *Request) (*http.Request, error) {
	target, err := d.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	if len(r.Query) > 0 {
		q := target.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(headerRequestID, r.ID)
	if d.userAgent != "" && httpReq.Header.Get(headerUserAgent) == "" {
		httpReq.Header.Set(headerUserAgent, d.userAgent)
	}
	return httpReq, nil
}

func (d *dispatcher) resolve(path string) (*url.URL, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return nil, fmt.Errorf("absolute URL %q not allowed; paths are relative to the base URL", path)
	}
	rel, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	base := *d.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(rel), nil
}

// send adapts execute for internal/flows: HTTP errors become a status and payload, and
// only transport failures are returned as errors.
func (d *dispatcher) send(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req := NewRequest(http.MethodPost, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.execute(ctx, req)
	if err == nil {
		return resp.StatusCode, resp.Body, nil
	}
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode, httpErr.Body, nil
	}
	return 0, nil, err
}
