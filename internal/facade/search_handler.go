package facade

import (
	"context"
	"encoding/json"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/ranker"
)

type searchPayload struct {
	Q      string `json:"q"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Facet  string `json:"facet"`
	Lang   string `json:"lang"`
	Mode   string `json:"mode"`
	Type   string `json:"type"`
}

// handleSearch implements POST /pq/search (spec.md §6, §4.H).
func (h *Handler) handleSearch(ctx context.Context, wallet string, payload json.RawMessage) (any, error) {
	var p searchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "malformed search payload", err)
	}

	resp, err := h.search.Search(ctx, ranker.SearchRequest{
		Query:  p.Q,
		Limit:  p.Limit,
		Offset: p.Offset,
		Facet:  p.Facet,
		Mode:   p.Mode,
		Type:   p.Type,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
