package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/cidutil"
)

// handleWalletUsage implements POST /wallet/usage: plan + roots rollup
// (spec.md §6, §4.C).
func (h *Handler) handleWalletUsage(ctx context.Context, wallet string, _ json.RawMessage) (any, error) {
	if err := h.walletStore.UpsertWallet(ctx, wallet); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not upsert wallet", err)
	}

	row, err := h.walletStore.GetWallet(ctx, wallet)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not read wallet", err)
	}
	summary, err := h.walletStore.RootsSummary(ctx, wallet)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not read roots summary", err)
	}

	plan := map[string]any{}
	if row != nil {
		plan["plan_id"] = row.PlanID
		plan["plan_expires_at"] = row.PlanExpiresAt
	}

	return map[string]any{
		"wallet": wallet,
		"plan":   plan,
		"usage": map[string]any{
			"roots_total":     summary.Total,
			"roots_active":    summary.Active,
			"bytes_estimated": summary.BytesEstimated,
		},
	}, nil
}

type walletCIDsPayload struct {
	Page int `json:"page"`
}

// handleWalletCIDs implements POST /wallet/cids: paginated roots+pins
// listing (spec.md §6).
func (h *Handler) handleWalletCIDs(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p walletCIDsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
	}

	rows, err := h.walletStore.ListWalletCIDs(ctx, wallet, p.Page)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not list wallet cids", err)
	}
	return map[string]any{"page": p.Page, "cids": rows}, nil
}

type walletCIDRenamePayload struct {
	CID         string `json:"cid"`
	DisplayName string `json:"displayName"`
}

// handleWalletCIDRename implements POST /wallet/cid/rename (spec.md §6).
func (h *Handler) handleWalletCIDRename(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p walletCIDRenamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
	}
	if p.CID == "" {
		return nil, apierr.New(apierr.CIDRequired, "cid is required")
	}
	if !cidutil.LooksLikeCID(p.CID) {
		return nil, apierr.New(apierr.CIDInvalid, "cid is not a recognized shape")
	}
	if p.DisplayName == "" {
		return nil, apierr.New(apierr.NameRequired, "displayName is required")
	}

	if err := h.walletStore.SetDisplayName(ctx, wallet, p.CID, p.DisplayName, time.Now().UnixMilli()); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not set display name", err)
	}
	return map[string]any{"ok": true, "display_name": p.DisplayName}, nil
}
