package facade

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rawblock/lumen-gateway/internal/apierr"
)

// viewDenom is the chain denom VIEW_MIN_BALANCE_ULMN is expressed in
// (spec.md §6 "VIEW_MIN_BALANCE_ULMN").
const viewDenom = "ulmn"

type ipfsFetchPayload struct {
	CID   string `json:"cid"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Query string `json:"query"`
}

// handleIPFSFetch implements POST /pq/ipfs: resolve the CID directly and
// fetch its bytes through the IPFS gateway.
func (h *Handler) handleIPFSFetch(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p ipfsFetchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
	}
	if p.CID == "" {
		return nil, apierr.New(apierr.CIDRequired, "cid is required")
	}
	if err := h.checkViewBalance(ctx, wallet); err != nil {
		return nil, err
	}
	return h.fetchViaGateway(ctx, wallet, p.CID, p.Path)
}

// handleIPNSFetch implements POST /pq/ipns: resolve the IPNS name through
// CAS-daemon to a path, then fetch it the same way.
func (h *Handler) handleIPNSFetch(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p ipfsFetchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
	}
	if p.Name == "" {
		return nil, apierr.New(apierr.NameRequired, "name is required")
	}
	if err := h.checkViewBalance(ctx, wallet); err != nil {
		return nil, err
	}

	resolved := h.cas.NameResolve(ctx, p.Name)
	if !resolved.OK {
		return nil, apierr.New(apierr.IPFSGatewayError, "could not resolve ipns name")
	}
	cid := strings.TrimPrefix(resolved.Body.Path, "/ipfs/")
	return h.fetchViaGateway(ctx, wallet, cid, p.Path)
}

// checkViewBalance gates /pq/ipfs and /pq/ipns on the wallet's on-chain
// balance (spec.md §6 "VIEW_MIN_BALANCE_ULMN"). A zero threshold disables
// the gate entirely; a chain-REST failure fails closed rather than letting
// an unreachable chain silently waive the balance requirement.
func (h *Handler) checkViewBalance(ctx context.Context, wallet string) error {
	if h.cfg.ViewMinBalanceULMN <= 0 {
		return nil
	}

	out := h.chain.BalanceByDenom(ctx, wallet, viewDenom)
	if !out.OK {
		return apierr.New(apierr.ChainUnreachable, "could not verify wallet balance")
	}

	amount, err := strconv.ParseInt(out.Body.Amount, 10, 64)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "could not parse chain balance", err)
	}
	if amount < h.cfg.ViewMinBalanceULMN {
		return apierr.New(apierr.InsufficientBalance, "wallet balance below the minimum required to fetch content")
	}
	return nil
}

// fetchViaGateway GETs cid/path from the configured IPFS gateway, records
// the wallet-scoped access in the usage store, and returns the body
// base64-encoded inside the PQ-sealed envelope.
func (h *Handler) fetchViaGateway(ctx context.Context, wallet, cid, path string) (any, error) {
	url := h.cfg.IPFSGatewayBase + "/ipfs/" + cid
	if path != "" {
		url += "/" + strings.TrimPrefix(path, "/")
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.GatewayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not build gateway request", err)
	}

	client := &http.Client{Timeout: h.cfg.GatewayTimeout}
	resp, err := client.Do(req)
	nowMs := time.Now().UnixMilli()
	if err != nil {
		h.recordAccess(cid, wallet, "unreachable", false, nowMs)
		return nil, apierr.Wrap(apierr.IPFSGatewayError, "gateway request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		h.recordAccess(cid, wallet, "not_found", false, nowMs)
		return nil, apierr.New(apierr.CIDNotFound, "cid not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.recordAccess(cid, wallet, "bad_status", false, nowMs)
		return nil, apierr.New(apierr.IPFSGatewayError, "gateway returned a non-2xx status")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.recordAccess(cid, wallet, "read_error", false, nowMs)
		return nil, apierr.Wrap(apierr.IPFSGatewayError, "could not read gateway response", err)
	}

	h.recordAccess(cid, wallet, "ok", true, nowMs)

	return map[string]any{
		"cid":            cid,
		"path":           path,
		"content_type":   resp.Header.Get("Content-Type"),
		"content_base64": base64.StdEncoding.EncodeToString(body),
	}, nil
}

// recordAccess upserts cid_wallet_usage on the usage-DB store instance,
// best-effort (spec.md §7 "best-effort secondary writes").
func (h *Handler) recordAccess(cid, wallet, status string, ok bool, nowMs int64) {
	_ = h.usageStore.RecordCIDAccess(context.Background(), cid, wallet, status, ok, nowMs)
}
