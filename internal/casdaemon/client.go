// Package casdaemon is the thin HTTP client for the CAS-daemon collaborator
// (spec.md §4.D), a Kubo-shaped RPC API: every call is a POST with
// query-string arguments, no request body except dag/import's multipart
// stream. Grounded on internal/bitcoin/client.go's ScanTxOutset/
// GetTxOutSetInfoLong pattern — hand-built *http.Request + *http.Client with
// an explicit timeout, JSON decode, typed error wrapping — generalized from
// one JSON-RPC collaborator to this REST one.
package casdaemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rawblock/lumen-gateway/internal/httpoutcome"
	"github.com/rawblock/lumen-gateway/internal/restclient"
)

const clientName = "casdaemon"

type Client struct {
	baseURL       string
	queryClient   *http.Client
	importClient  *http.Client
	logger        *httpoutcome.Logger
}

// New builds a Client. queryTimeout covers version/pin/ls/resolve/id calls
// (spec.md §4.D "1-3s for queries"); importTimeout covers dag/import
// (spec.md §4.D "up to 5 min").
func New(baseURL string, queryTimeout, importTimeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		queryClient:  &http.Client{Timeout: queryTimeout},
		importClient: &http.Client{Timeout: importTimeout},
		logger:       httpoutcome.NewLogger(),
	}
}

type VersionResult struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
}

func (c *Client) Version(ctx context.Context) httpoutcome.Outcome[VersionResult] {
	return doJSON[VersionResult](c, ctx, c.queryClient, "/api/v0/version", nil, nil, "")
}

type PinResult struct {
	Pins []string `json:"Pins"`
}

func (c *Client) PinAdd(ctx context.Context, cid string) httpoutcome.Outcome[PinResult] {
	q := url.Values{"arg": {cid}}
	return doJSON[PinResult](c, ctx, c.queryClient, "/api/v0/pin/add", q, nil, "")
}

func (c *Client) PinRm(ctx context.Context, cid string) httpoutcome.Outcome[PinResult] {
	q := url.Values{"arg": {cid}}
	return doJSON[PinResult](c, ctx, c.queryClient, "/api/v0/pin/rm", q, nil, "")
}

type PinLsResult struct {
	Keys map[string]struct {
		Type string `json:"Type"`
	} `json:"Keys"`
}

// PinLs reports whether cid is recursively pinned (spec.md §4.G /ispinned
// "global" flag).
func (c *Client) PinLs(ctx context.Context, cid string) httpoutcome.Outcome[PinLsResult] {
	q := url.Values{"arg": {cid}, "type": {"recursive"}}
	return doJSON[PinLsResult](c, ctx, c.queryClient, "/api/v0/pin/ls", q, nil, "")
}

// ImportRoot is one root CID surfaced by a dag/import line, matching either
// shape Kubo emits: {Root:{Cid:{"/":cid}}} or {Root:{"/":cid}}.
type ImportRoot struct {
	Root string
}

type importLine struct {
	Root struct {
		Cid struct {
			Slash string `json:"/"`
		} `json:"Cid"`
		Slash string `json:"/"`
	} `json:"Root"`
}

// DagImport streams body as a multipart form to dag/import?pin-roots=true
// and parses the line-delimited JSON response into root CIDs (spec.md §4.F
// step 1-2).
func (c *Client) DagImport(ctx context.Context, filename string, body io.Reader) httpoutcome.Outcome[[]ImportRoot] {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	reqURL := c.baseURL + "/api/v0/dag/import?pin-roots=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return httpoutcome.Fail[[]ImportRoot](httpoutcome.Unreachable, err.Error())
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.importClient.Do(req)
	if err != nil {
		kind := httpoutcome.Unreachable
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = httpoutcome.Timeout
		}
		c.logger.LogFailure(clientName, kind, err.Error())
		return httpoutcome.Fail[[]ImportRoot](kind, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpoutcome.Fail[[]ImportRoot](httpoutcome.BadJSON, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.LogFailure(clientName, httpoutcome.BadStatus, fmt.Sprintf("dag/import: %d", resp.StatusCode))
		return httpoutcome.Fail[[]ImportRoot](httpoutcome.BadStatus, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var roots []ImportRoot
	dec := json.NewDecoder(bytes.NewReader(respBody))
	for {
		var line importLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return httpoutcome.Fail[[]ImportRoot](httpoutcome.BadJSON, err.Error())
		}
		cid := line.Root.Cid.Slash
		if cid == "" {
			cid = line.Root.Slash
		}
		if cid != "" {
			roots = append(roots, ImportRoot{Root: cid})
		}
	}
	return httpoutcome.Ok(roots)
}

type LsEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Type int    `json:"Type"`
}

type LsResult struct {
	Objects []struct {
		Links []LsEntry `json:"Links"`
	} `json:"Objects"`
}

func (c *Client) Ls(ctx context.Context, cid string) httpoutcome.Outcome[LsResult] {
	q := url.Values{"arg": {cid}}
	return doJSON[LsResult](c, ctx, c.queryClient, "/api/v0/ls", q, nil, "")
}

type ResolveResult struct {
	Path string `json:"Path"`
}

func (c *Client) NameResolve(ctx context.Context, name string) httpoutcome.Outcome[ResolveResult] {
	q := url.Values{"arg": {name}}
	return doJSON[ResolveResult](c, ctx, c.queryClient, "/api/v0/name/resolve", q, nil, "")
}

type IDResult struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

func (c *Client) ID(ctx context.Context) httpoutcome.Outcome[IDResult] {
	return doJSON[IDResult](c, ctx, c.queryClient, "/api/v0/id", nil, nil, "")
}

type SwarmAddrsResult struct {
	Strings []string `json:"Strings"`
}

// SwarmAddrsListen returns the daemon's listen multiaddrs, filtered by the
// facade to public-only for GET /ipfs/seed (spec.md §6).
func (c *Client) SwarmAddrsListen(ctx context.Context) httpoutcome.Outcome[SwarmAddrsResult] {
	return doJSON[SwarmAddrsResult](c, ctx, c.queryClient, "/api/v0/swarm/addrs/listen", nil, nil, "")
}

// doJSON issues a POST with the given query args through restclient.Do.
func doJSON[T any](c *Client, ctx context.Context, httpClient *http.Client, path string, query url.Values, body io.Reader, contentType string) httpoutcome.Outcome[T] {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	return restclient.Do[T](ctx, httpClient, c.logger, clientName, http.MethodPost, reqURL, body, contentType)
}
