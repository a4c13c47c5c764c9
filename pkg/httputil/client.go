// Package httputil provides shared HTTP plumbing for the Cortex backend
// clients: a pooled transport, budget-scoped clients, and safe response
// body handling.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize is the default maximum size for reading HTTP response
// bodies. Backend services are outside the trust boundary; a misbehaving
// one must not be able to exhaust gateway memory.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with connection pooling. All backend clients reuse it
// so per-layer timeout budgets do not fragment the connection pool.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

var (
	clientsMu sync.Mutex
	clients   = map[time.Duration]*http.Client{}
)

// Client returns a pooled HTTP client with the given overall timeout.
// Clients are cached per timeout value and share one transport. The
// per-layer latency budgets are enforced by the callers through request
// contexts; the client timeout is a backstop, not the budget.
func Client(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if c, ok := clients[timeout]; ok {
		return c
	}
	c := &http.Client{Timeout: timeout, Transport: sharedTransport}
	clients[timeout] = c
	return c
}

// DefaultClient returns the shared client with a 30s backstop timeout,
// suitable for all budget-scoped backend calls.
func DefaultClient() *http.Client {
	return Client(30 * time.Second)
}

// ReadResponseBody safely reads an HTTP response body with a size limit.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a response body for error messages with a small limit.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024 // 1MB
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
