package ranker

import (
	"context"
	"sort"
	"strings"

	"github.com/rawblock/lumen-gateway/internal/indexer"
)

const candidatePageCap = 200

// AcquireCandidates runs one search per base kind (or a single unqualified
// search when none are set), merges hits distinct by CID, and sorts by
// activity timestamp desc then CID asc (spec.md §4.H "Candidate
// acquisition").
func AcquireCandidates(ctx context.Context, idx *indexer.Client, plan Plan, tokens string) []indexer.Hit {
	limit := plan.Limit + plan.Offset + 100
	if limit > candidatePageCap {
		limit = candidatePageCap
	}

	kinds := plan.BaseKinds
	if len(kinds) == 0 {
		kinds = []string{""}
	}

	merged := make(map[string]indexer.Hit)
	for _, kind := range kinds {
		out := idx.Search(ctx, indexer.SearchParams{
			Kind:    kind,
			Tokens:  tokens,
			Present: true,
			Limit:   limit,
			Offset:  0,
		})
		if !out.OK {
			continue
		}
		for _, hit := range out.Body.Hits {
			if _, seen := merged[hit.CID]; !seen {
				merged[hit.CID] = hit
			}
		}
	}

	hits := make([]indexer.Hit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, h)
	}

	sort.Slice(hits, func(i, j int) bool {
		ai, aj := activityTs(hits[i]), activityTs(hits[j])
		if ai != aj {
			return ai > aj
		}
		return hits[i].CID < hits[j].CID
	})

	return hits
}

// activityTs picks the most recent of last_seen/first_seen/updated/indexed.
func activityTs(h indexer.Hit) int64 {
	ts := h.LastSeen
	if h.FirstSeen > ts {
		ts = h.FirstSeen
	}
	if h.Updated > ts {
		ts = h.Updated
	}
	if h.Indexed > ts {
		ts = h.Indexed
	}
	return ts
}

// Snippet picks preview for text hits, description otherwise (spec.md §4.H
// "Hit shape").
func Snippet(h indexer.Hit) string {
	if h.Kind == "text" {
		return h.Preview
	}
	return h.Description
}

// JoinTokens renders a token slice as the space-joined string the indexer's
// search endpoint expects.
func JoinTokens(tokens []string) string {
	return strings.Join(tokens, " ")
}
