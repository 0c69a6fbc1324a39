// Package indexer is the thin HTTP client for the content indexer
// collaborator (spec.md §4.D): GET /cid/{cid}, GET /children/{cid},
// GET /parents/{cid}, GET /search. Same retry/timeout shape as casdaemon,
// via internal/restclient.
package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rawblock/lumen-gateway/internal/httpoutcome"
	"github.com/rawblock/lumen-gateway/internal/restclient"
)

const clientName = "indexer"

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *httpoutcome.Logger
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}, logger: httpoutcome.NewLogger()}
}

// Hit is the indexer's per-CID record, matching spec.md §4.H "Hit shape":
// pre-parsed tags_json, kind, mime, ext_guess, root_cid, path, confidence.
type Hit struct {
	CID         string          `json:"cid"`
	Kind        string          `json:"kind"`
	Mime        string          `json:"mime"`
	ExtGuess    string          `json:"ext_guess"`
	RootCID     string          `json:"root_cid"`
	Path        string          `json:"path"`
	Confidence  float64         `json:"confidence"`
	TagsJSON    json.RawMessage `json:"tags_json"`
	Preview     string          `json:"preview"`
	Description string          `json:"description"`
	Title       string          `json:"title"`
	Present     bool            `json:"present"`
	PresentSrc  string          `json:"present_source"`
	FirstSeen   int64           `json:"first_seen"`
	LastSeen    int64           `json:"last_seen"`
	Updated     int64           `json:"updated"`
	Indexed     int64           `json:"indexed"`
}

func (c *Client) GetCID(ctx context.Context, cid string) httpoutcome.Outcome[Hit] {
	return get[Hit](c, ctx, "/cid/"+url.PathEscape(cid), nil)
}

type cidList struct {
	Items []string `json:"items"`
}

func (c *Client) Children(ctx context.Context, cid string) httpoutcome.Outcome[cidList] {
	return get[cidList](c, ctx, "/children/"+url.PathEscape(cid), nil)
}

func (c *Client) Parents(ctx context.Context, cid string) httpoutcome.Outcome[cidList] {
	return get[cidList](c, ctx, "/parents/"+url.PathEscape(cid), nil)
}

// SearchParams is the query shape spec.md §4.H's candidate acquisition
// builds: {kind?, tokens, present:1, limit, offset}.
type SearchParams struct {
	Kind    string
	Tokens  string
	Present bool
	Limit   int
	Offset  int
}

type SearchResult struct {
	Hits []Hit `json:"hits"`
}

func (c *Client) Search(ctx context.Context, p SearchParams) httpoutcome.Outcome[SearchResult] {
	q := url.Values{}
	if p.Kind != "" {
		q.Set("kind", p.Kind)
	}
	q.Set("token", p.Tokens)
	if p.Present {
		q.Set("present", "1")
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	return get[SearchResult](c, ctx, "/search", q)
}

func get[T any](c *Client, ctx context.Context, path string, query url.Values) httpoutcome.Outcome[T] {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	return restclient.Do[T](ctx, c.httpClient, c.logger, clientName, http.MethodGet, reqURL, nil, "")
}
