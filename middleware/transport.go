package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/authgate"
)

type transport struct {
	gw *authgate.Gateway
}

// Transport routes requests through gw. Only the path and query of the request URL
// are used; scheme and host come from the gateway's BaseURL. An Authorization header
// set by the caller is replaced.
func Transport(gw *authgate.Gateway) http.RoundTripper {
	return &transport{gw: gw}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.gw == nil {
		return nil, authgate.ErrGatewayNotReady
	}

	var body []byte
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = raw
	}

	r := authgate.NewRequest(req.Method, req.URL.Path, body)
	r.Query = req.URL.Query()
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Del("Authorization")
	r.ID = req.Header.Get("X-Request-ID")

	resp, err := t.gw.Do(req.Context(), r)
	if err == nil {
		return buildResponse(req, resp.StatusCode, resp.Header, resp.Body), nil
	}

	var httpErr *authgate.HTTPError
	if errors.As(err, &httpErr) {
		return buildResponse(req, httpErr.StatusCode, httpErr.Header, httpErr.Body), nil
	}
	return nil, err
}

func buildResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
