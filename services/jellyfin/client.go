package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"anibridge/internal/httppool"
)

// Error classes for catalog resolution.
var (
	// ErrNotResolved covers every non-transport resolution failure: unknown
	// item, ambiguous item, provider key absent, or a malformed provider id.
	ErrNotResolved = errors.New("jellyfin: external id not resolved")
	// ErrUpstream means the media server itself was unreachable or failing.
	ErrUpstream = errors.New("jellyfin: upstream unavailable")
)

// Client reads show metadata from a Jellyfin server. HTTP clients come from
// the shared per-host registry so repeated webhooks reuse connections.
type Client struct {
	pool        *httppool.Registry
	apiKey      string
	fallbackURL string
}

// NewClient creates a Jellyfin metadata client. fallbackURL is used when an
// event carries no server URL.
func NewClient(pool *httppool.Registry, fallbackURL, apiKey string) *Client {
	return &Client{
		pool:        pool,
		apiKey:      apiKey,
		fallbackURL: strings.TrimRight(fallbackURL, "/"),
	}
}

type itemsResponse struct {
	Items []struct {
		ID          string            `json:"Id"`
		Name        string            `json:"Name"`
		ProviderIDs map[string]string `json:"ProviderIds"`
	} `json:"Items"`
	TotalRecordCount int `json:"TotalRecordCount"`
}

// ResolveProviderID looks up the external catalog id tagged on a show under
// providerKey (matched case-insensitively). serverURL may be empty, in which
// case the configured fallback server is queried.
func (c *Client) ResolveProviderID(ctx context.Context, serverURL, seriesID, providerKey string) (int, error) {
	base := strings.TrimRight(serverURL, "/")
	if base == "" {
		base = c.fallbackURL
	}
	if base == "" {
		return 0, fmt.Errorf("%w: no server url configured", ErrNotResolved)
	}

	q := url.Values{}
	q.Set("ids", seriesID)
	q.Set("fields", "ProviderIds")
	endpoint := base + "/Items?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Emby-Token", c.apiKey)
	}

	resp, err := c.pool.ClientFor(base).Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: %s - %s", ErrUpstream, resp.Status, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: items lookup returned %s", ErrNotResolved, resp.Status)
	}

	var items itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return 0, fmt.Errorf("%w: decode items: %v", ErrNotResolved, err)
	}

	// A show visible through multiple libraries resolves ambiguously and is
	// treated the same as not found.
	if len(items.Items) != 1 {
		return 0, fmt.Errorf("%w: expected 1 metadata record, got %d", ErrNotResolved, len(items.Items))
	}

	for key, value := range items.Items[0].ProviderIDs {
		if !strings.EqualFold(key, providerKey) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: malformed %s id %q", ErrNotResolved, providerKey, value)
		}
		return id, nil
	}

	return 0, fmt.Errorf("%w: no %s provider id on series %s", ErrNotResolved, providerKey, seriesID)
}
