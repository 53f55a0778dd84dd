package httpsig

import (
	"net"
	"net/http"
)

// Request is an immutable view of the inbound request under verification:
// method, path, headers, raw body bytes and the caller's network origin
// (the circuit-breaker key).
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	Origin string
}

// NewRequest builds a Request from an *http.Request whose body has already
// been read.
func NewRequest(r *http.Request, body []byte) *Request {
	origin := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		origin = host
	}
	return &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
		Body:   body,
		Origin: origin,
	}
}
