package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/cidutil"
)

type cidPayload struct {
	CID string `json:"cid"`
}

func parseCIDPayload(payload json.RawMessage) (string, error) {
	var p cidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
	}
	if p.CID == "" {
		return "", apierr.New(apierr.CIDRequired, "cid is required")
	}
	if !cidutil.LooksLikeCID(p.CID) {
		return "", apierr.New(apierr.CIDInvalid, "cid is not a recognized shape")
	}
	return p.CID, nil
}

// handlePin implements POST /pin (spec.md §6, §4.G).
func (h *Handler) handlePin(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	cid, err := parseCIDPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := h.walletStore.UpsertWallet(ctx, wallet); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not upsert wallet", err)
	}
	if err := h.pins.Pin(ctx, wallet, cid, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "cid": cid, "wallet": wallet}, nil
}

// handleUnpin implements POST /unpin (spec.md §6, §4.G).
func (h *Handler) handleUnpin(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	cid, err := parseCIDPayload(payload)
	if err != nil {
		return nil, err
	}
	result, err := h.pins.Unpin(ctx, wallet, cid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "cid": cid, "wallet": wallet, "changed": result.Changed}, nil
}

// handleIsPinned implements POST /ispinned (spec.md §6, §4.G).
func (h *Handler) handleIsPinned(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	cid, err := parseCIDPayload(payload)
	if err != nil {
		return nil, err
	}
	result, err := h.pins.IsPinned(ctx, wallet, cid)
	if err != nil {
		return nil, err
	}
	return map[string]any{"wallet": wallet, "cid": cid, "pinned": result.Pinned}, nil
}
