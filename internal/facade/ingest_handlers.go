package facade

import (
	"context"
	"encoding/json"

	"github.com/rawblock/lumen-gateway/internal/apierr"
)

// handleIngestReady implements POST /ingest/ready (spec.md §6, §4.F).
func (h *Handler) handleIngestReady(ctx context.Context, wallet string, _ json.RawMessage) (any, error) {
	if !h.ingest.Ready() {
		return nil, apierr.New(apierr.IPFSUnavailable, "ingest spool directory is not writable")
	}
	return map[string]any{"ok": true, "wallet": wallet, "status": "ready"}, nil
}

type ingestInitPayload struct {
	PlanID      string `json:"planId"`
	EstBytes    int64  `json:"estBytes"`
	DisplayName string `json:"displayName"`
}

// handleIngestInit implements POST /ingest/init (spec.md §6, §4.F step 1).
// The payload's planId is advisory only — Pipeline.Init always resolves the
// wallet's current plan fresh through the validator.
func (h *Handler) handleIngestInit(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p ingestInitPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed payload", err)
		}
	}

	if err := h.walletStore.UpsertWallet(ctx, wallet); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not upsert wallet", err)
	}

	result, err := h.ingest.Init(ctx, wallet, p.EstBytes, p.DisplayName)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"ok":           true,
		"upload_token": result.Token,
		"planId":       result.PlanID,
		"wallet":       wallet,
	}, nil
}
