// Package chainrest is the thin HTTP client for the chain-REST collaborator
// (spec.md §4.D): contracts, params, domain records and bank balances. Same
// retry/timeout shape as casdaemon/indexer, via internal/restclient.
package chainrest

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rawblock/lumen-gateway/internal/httpoutcome"
	"github.com/rawblock/lumen-gateway/internal/restclient"
)

const clientName = "chainrest"

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *httpoutcome.Logger
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}, logger: httpoutcome.NewLogger()}
}

// Contract is one entry of GET /gateway/v1/contracts, the shape the plan
// validator (spec.md §4.E) filters and picks the largest id from.
type Contract struct {
	ID             string   `json:"id"`
	Status         []string `json:"status"`
	StartSeconds   int64    `json:"start_seconds"`
	MonthsTotal    int64    `json:"months_total"`
	StorageGBMonth float64  `json:"storage_gb_per_month"`
}

type ContractsResponse struct {
	Contracts []Contract `json:"contracts"`
}

func (c *Client) Contracts(ctx context.Context, client string) httpoutcome.Outcome[ContractsResponse] {
	q := url.Values{"client": {client}}
	return get[ContractsResponse](c, ctx, "/gateway/v1/contracts", q)
}

type Params struct {
	MonthSeconds int64 `json:"month_seconds"`
}

func (c *Client) Params(ctx context.Context) httpoutcome.Outcome[Params] {
	return get[Params](c, ctx, "/gateway/v1/params", nil)
}

type Domain struct {
	Name    string         `json:"name"`
	Records []DomainRecord `json:"records"`
}

// DomainRecord is one entry in a domain's record list; Kind distinguishes a
// CID record from an IPNS record (spec.md §4.H "site mode").
type DomainRecord struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type DomainsByOwnerResponse struct {
	Domains []Domain `json:"domains"`
}

func (c *Client) DomainsByOwner(ctx context.Context, owner string) httpoutcome.Outcome[DomainsByOwnerResponse] {
	return get[DomainsByOwnerResponse](c, ctx, "/dns/v1/domains_by_owner/"+url.PathEscape(owner), nil)
}

func (c *Client) Domain(ctx context.Context, name string) httpoutcome.Outcome[Domain] {
	return get[Domain](c, ctx, "/dns/v1/domain/"+url.PathEscape(name), nil)
}

// PricingTier is one entry of GET /gateway/v1/pricing, backing the
// gateway's public /pricing route (spec.md §6).
type PricingTier struct {
	PlanID         string  `json:"plan_id"`
	StorageGBMonth float64 `json:"storage_gb_per_month"`
	MonthsTotal    int64   `json:"months_total"`
	PriceULMN      int64   `json:"price_ulmn"`
}

func (c *Client) Pricing(ctx context.Context) httpoutcome.Outcome[[]PricingTier] {
	return get[[]PricingTier](c, ctx, "/gateway/v1/pricing", nil)
}

type Balance struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

func (c *Client) BalanceByDenom(ctx context.Context, addr, denom string) httpoutcome.Outcome[Balance] {
	q := url.Values{"denom": {denom}}
	return get[Balance](c, ctx, "/bank/v1beta1/balances/"+url.PathEscape(addr)+"/by_denom", q)
}

func get[T any](c *Client, ctx context.Context, path string, query url.Values) httpoutcome.Outcome[T] {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	return restclient.Do[T](ctx, c.httpClient, c.logger, clientName, http.MethodGet, reqURL, nil, "")
}
