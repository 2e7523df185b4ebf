// Package httppool maintains one connection-pooled HTTP client per upstream
// host. Clients are created lazily, cached for the process lifetime, and
// never evicted.
package httppool

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Registry hands out shared HTTP clients keyed by host URL. It is safe for
// concurrent use and is passed explicitly to every component needing network
// access rather than living as a package-level singleton.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	timeout time.Duration
}

// NewRegistry creates an empty registry. Clients are created with the given
// per-request timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		clients: make(map[string]*http.Client),
		timeout: timeout,
	}
}

// ClientFor returns the pooled client for the host of rawURL, creating it on
// first use. Distinct paths on the same host share a client.
func (r *Registry) ClientFor(rawURL string) *http.Client {
	key := hostKey(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c
	}
	c := &http.Client{Timeout: r.timeout}
	r.clients[key] = c
	return c
}

// Len reports how many distinct hosts have clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func hostKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
