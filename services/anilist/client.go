package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const apiURL = "https://graphql.anilist.co"

// Error classes the caller branches on via errors.Is.
var (
	// ErrAuth means the token is invalid or expired. Terminal; an operator
	// has to rotate the token.
	ErrAuth = errors.New("anilist: unauthorized")
	// ErrUpstream means AniList (or the transport) failed in a way a later
	// attempt may survive.
	ErrUpstream = errors.New("anilist: upstream unavailable")
)

const viewerQuery = `query { Viewer { id name } }`

const listQuery = `query ($userId: Int) {
  MediaListCollection(userId: $userId, type: ANIME) {
    lists {
      name
      status
      entries {
        id
        progress
        media { id episodes title { romaji } }
      }
    }
  }
}`

const mediaQuery = `query ($id: Int) { Media(id: $id, type: ANIME) { episodes } }`

const saveWithStatusMutation = `mutation ($id: Int, $mediaId: Int, $progress: Int, $status: MediaListStatus) {
  SaveMediaListEntry(id: $id, mediaId: $mediaId, progress: $progress, status: $status) {
    id progress status media { id episodes }
  }
}`

const saveProgressMutation = `mutation ($id: Int, $progress: Int) {
  SaveMediaListEntry(id: $id, progress: $progress) {
    id progress status media { id episodes }
  }
}`

// Client talks to the AniList GraphQL API. Requests are throttled with a
// process-wide limiter kept under AniList's 90 req/min budget.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an AniList client on top of a pooled HTTP client.
func NewClient(httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpc,
		limiter:    rate.NewLimiter(rate.Limit(1.5), 3),
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

// do posts one GraphQL document and decodes the data payload into out.
func (c *Client) do(ctx context.Context, token, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, resp.Status)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s - %s", ErrUpstream, resp.Status, string(respBody))
	}

	var gql gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(gql.Errors) > 0 {
		// AniList reports auth failures as a 400-class GraphQL error too
		for _, e := range gql.Errors {
			if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
				return fmt.Errorf("%w: %s", ErrAuth, e.Message)
			}
		}
		return fmt.Errorf("anilist error: %s", gql.Errors[0].Message)
	}

	if out != nil {
		if err := json.Unmarshal(gql.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// GetViewer fetches the profile the token is authorized for.
func (c *Client) GetViewer(ctx context.Context, token string) (*Viewer, error) {
	var data struct {
		Viewer Viewer `json:"Viewer"`
	}
	if err := c.do(ctx, token, viewerQuery, nil, &data); err != nil {
		return nil, err
	}
	if data.Viewer.ID == 0 {
		return nil, fmt.Errorf("%w: empty viewer", ErrAuth)
	}
	return &data.Viewer, nil
}

type listEntryPayload struct {
	ID       int `json:"id"`
	Progress int `json:"progress"`
	Media    struct {
		ID       int  `json:"id"`
		Episodes *int `json:"episodes"`
		Title    struct {
			Romaji string `json:"romaji"`
		} `json:"title"`
	} `json:"media"`
}

// FetchSnapshot reads the user's full tracked list, one bucket per AniList
// list. One snapshot per reconciliation; never cached.
func (c *Client) FetchSnapshot(ctx context.Context, token string) (*Snapshot, error) {
	viewer, err := c.GetViewer(ctx, token)
	if err != nil {
		return nil, err
	}

	var data struct {
		MediaListCollection struct {
			Lists []struct {
				Name    string             `json:"name"`
				Status  MediaListStatus    `json:"status"`
				Entries []listEntryPayload `json:"entries"`
			} `json:"lists"`
		} `json:"MediaListCollection"`
	}
	if err := c.do(ctx, token, listQuery, map[string]any{"userId": viewer.ID}, &data); err != nil {
		return nil, err
	}

	snap := &Snapshot{Viewer: *viewer}
	for _, l := range data.MediaListCollection.Lists {
		bucket := Bucket{Name: l.Name, Status: l.Status}
		for _, e := range l.Entries {
			bucket.Entries = append(bucket.Entries, Entry{
				ID:       e.ID,
				MediaID:  e.Media.ID,
				Progress: e.Progress,
				Episodes: e.Media.Episodes,
				Title:    e.Media.Title.Romaji,
			})
		}
		snap.Buckets = append(snap.Buckets, bucket)
	}
	return snap, nil
}

// MediaEpisodes fetches a show's total episode count. Nil means AniList does
// not know it yet.
func (c *Client) MediaEpisodes(ctx context.Context, token string, mediaID int) (*int, error) {
	var data struct {
		Media struct {
			Episodes *int `json:"episodes"`
		} `json:"Media"`
	}
	if err := c.do(ctx, token, mediaQuery, map[string]any{"id": mediaID}, &data); err != nil {
		return nil, err
	}
	return data.Media.Episodes, nil
}

// SaveEntry executes one SaveMediaListEntry mutation: progress update,
// status transition, or entry creation depending on the input.
func (c *Client) SaveEntry(ctx context.Context, token string, in SaveEntryInput) (*Entry, error) {
	query := saveWithStatusMutation
	variables := map[string]any{"progress": in.Progress}
	switch {
	case in.Status == "" && in.EntryID != 0:
		// reset path: touch progress only, leave the bucket alone
		query = saveProgressMutation
		variables["id"] = in.EntryID
	case in.EntryID != 0:
		variables["id"] = in.EntryID
		variables["status"] = string(in.Status)
	default:
		variables["mediaId"] = in.MediaID
		variables["status"] = string(in.Status)
	}

	var data struct {
		SaveMediaListEntry struct {
			ID       int             `json:"id"`
			Progress int             `json:"progress"`
			Status   MediaListStatus `json:"status"`
			Media    struct {
				ID       int  `json:"id"`
				Episodes *int `json:"episodes"`
			} `json:"media"`
		} `json:"SaveMediaListEntry"`
	}
	if err := c.do(ctx, token, query, variables, &data); err != nil {
		return nil, err
	}

	return &Entry{
		ID:       data.SaveMediaListEntry.ID,
		MediaID:  data.SaveMediaListEntry.Media.ID,
		Progress: data.SaveMediaListEntry.Progress,
		Episodes: data.SaveMediaListEntry.Media.Episodes,
	}, nil
}
