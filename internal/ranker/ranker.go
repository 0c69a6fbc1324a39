package ranker

import (
	"context"
	"time"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/cidutil"
	"github.com/rawblock/lumen-gateway/internal/indexer"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
)

// Result is one ranked search hit returned to the caller, with the
// bucketed signals (never the raw score) spec.md §4.H mandates.
type Result struct {
	CID         string      `json:"cid"`
	Kind        string      `json:"kind"`
	RootCID     string      `json:"root_cid"`
	Path        string      `json:"path"`
	Title       string      `json:"title,omitempty"`
	Snippet     string      `json:"snippet,omitempty"`
	Topics      []string    `json:"topics,omitempty"`
	RankSignals RankSignals `json:"rank_signals"`
}

// SearchResponse is the /pq/search payload.
type SearchResponse struct {
	Results []Result `json:"results"`
	Sites   []Site   `json:"sites,omitempty"`
	UI      struct {
		Intent Intent `json:"intent"`
		Target Target `json:"target"`
	} `json:"ui"`
	Plan Plan `json:"plan"`
}

// Engine wires the classifier, plan builder, candidate acquisition and
// scoring stages against the indexer/chain-REST/CAS-daemon/wallet-store
// collaborators.
type Engine struct {
	idx        *indexer.Client
	chain      *chainrest.Client
	cas        *casdaemon.Client
	store      *walletstore.Store
	usageStore *walletstore.Store
	linker     *OnChainLinker
}

// NewEngine wires the search engine. store is the wallet-ownership database
// (wallet_roots, for replication counts); usageStore is the separate
// cid_wallet_usage database the /pq/ipfs and /pq/ipns handlers write to
// (spec.md §3's NODE_API_USAGE_DB_PATH split).
func NewEngine(idx *indexer.Client, chain *chainrest.Client, cas *casdaemon.Client, store, usageStore *walletstore.Store) *Engine {
	return &Engine{
		idx:        idx,
		chain:      chain,
		cas:        cas,
		store:      store,
		usageStore: usageStore,
		linker:     NewOnChainLinker(chain, idx, store, cas),
	}
}

// SearchRequest mirrors /pq/search's payload shape (spec.md §6).
type SearchRequest struct {
	Query  string
	Limit  int
	Offset int
	Facet  string
	Mode   string
	Type   string
}

// Search runs the full spec.md §4.H pipeline: CID-direct lookup short
// circuits everything else; otherwise classify, build a plan, acquire
// candidates, score, suppress and sort.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	resp := &SearchResponse{}

	if cidutil.LooksLikeCID(req.Query) {
		siteMode := req.Mode == "sites" || req.Type == "site"
		result, err := e.directCIDLookup(ctx, req.Query, siteMode)
		if err != nil {
			return nil, err
		}
		if result != nil {
			resp.Results = []Result{*result}
		}
		return resp, nil
	}

	cls := Classify(req.Query)
	resp.UI.Intent = cls.Intent
	resp.UI.Target = cls.Target

	explore := req.Type == "mixed" && req.Query == ""
	plan := BuildPlan(PlanRequest{Classification: cls, Limit: req.Limit, Offset: req.Offset, ExploreEverything: explore})
	resp.Plan = plan

	if plan.NoQuery && req.Mode != "sites" && req.Type != "site" {
		return resp, nil
	}

	hits := AcquireCandidates(ctx, e.idx, plan, JoinTokens(cls.Tokens))

	nowMs := time.Now().UnixMilli()
	scored := make([]scoredHit, 0, len(hits))
	rootSet := make(map[string]bool)

	for _, hit := range hits {
		tags := ParseTags(hit)
		if Suppress(hit, tags) {
			continue
		}

		relevance, matched := ContentRelevance(cls.Tokens, hit, tags)
		if len(cls.Tokens) >= 3 && !matched {
			continue
		}

		popularity := e.popularityFor(ctx, hit, nowMs)
		freshness := Freshness(activityTs(hit), nowMs)
		availability := Availability(hit.Present, hit.PresentSrc, false, 0, 0)

		rootSet[hit.RootCID] = true

		scored = append(scored, scoredHit{
			hit:          hit,
			tags:         tags,
			relevance:    relevance,
			popularity:   popularity,
			freshness:    freshness,
			availability: availability,
		})
	}

	roots := make([]string, 0, len(rootSet))
	for r := range rootSet {
		roots = append(roots, r)
	}
	roots = OnChainCapRoots(roots)
	probedRoots := make(map[string]bool, len(roots))
	linkedRoots := make(map[string]bool, len(roots))
	for _, root := range roots {
		probedRoots[root] = true
		if e.linker.IsLinked(ctx, root) {
			linkedRoots[root] = true
		}
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		onchainKnown := probedRoots[s.hit.RootCID]
		linked := linkedRoots[s.hit.RootCID]
		onchainVal := 0.0
		if linked {
			onchainVal = 1.0
		}

		scored[i].composite = CompositeScore(s.popularity, s.relevance, s.freshness, s.availability, onchainVal)

		results[i] = Result{
			CID:         s.hit.CID,
			Kind:        s.hit.Kind,
			RootCID:     s.hit.RootCID,
			Path:        s.hit.Path,
			Title:       s.hit.Title,
			Snippet:     Snippet(s.hit),
			Topics:      s.tags.Topics,
			RankSignals: BuildRankSignals(s.popularity, s.relevance, s.freshness, s.availability, onchainKnown, linked),
		}
	}

	sortResultsByScore(scored, results)

	if req.Mode == "sites" || req.Type == "site" {
		resp.Sites = e.buildSitesFromScored(ctx, scored, req.Query)
	}

	resp.Results = results
	return resp, nil
}

type scoredHit struct {
	hit          indexer.Hit
	tags         Tags
	relevance    float64
	popularity   float64
	freshness    float64
	availability float64
	composite    float64
}

// sortResultsByScore sorts both slices in lockstep by composite score desc,
// then activity ts desc, then CID asc (spec.md §4.H "secondary sort").
func sortResultsByScore(scored []scoredHit, results []Result) {
	type pair = struct {
		s scoredHit
		r Result
	}
	pairs := make([]pair, len(scored))
	for i := range scored {
		pairs[i] = pair{s: scored[i], r: results[i]}
	}
	insertionSortPairs(pairs)
	for i, p := range pairs {
		scored[i] = p.s
		results[i] = p.r
	}
}

func insertionSortPairs(pairs []struct {
	s scoredHit
	r Result
}) {
	less := func(a, b int) bool {
		if pairs[a].s.composite != pairs[b].s.composite {
			return pairs[a].s.composite > pairs[b].s.composite
		}
		ta, tb := activityTs(pairs[a].s.hit), activityTs(pairs[b].s.hit)
		if ta != tb {
			return ta > tb
		}
		return pairs[a].s.hit.CID < pairs[b].s.hit.CID
	}
	for i := 1; i < len(pairs); i++ {
		j := i
		for j > 0 && less(j, j-1) {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
			j--
		}
	}
}

// popularityFor derives usage/replication counts for hit's root from the
// wallet store (spec.md §4.H "Network signals"): usage comes from
// cid_wallet_usage's 7-day ok-access count on the hit's own CID, replication
// from wallet_roots' 30-day owner count on the hit's root.
func (e *Engine) popularityFor(ctx context.Context, hit indexer.Hit, nowMs int64) float64 {
	sinceUsage := nowMs - popularityWindow.Milliseconds()
	okWallets, _ := e.usageStore.CountCIDUsage(ctx, []string{hit.CID}, sinceUsage)

	sinceReplica := nowMs - replicaWindow.Milliseconds()
	replicas, _ := e.store.CountWalletsReplicating(ctx, []string{hit.RootCID}, &sinceReplica)

	return Popularity(okWallets, replicas)
}

// directCIDLookup implements spec.md §4.H's CID-direct lookup: fetch
// GET /cid/{cid} and, in site mode, probe children via resolveEntry to find
// an HTML entry path if cid is a directory. resolveEntry's own cas.Ls call
// fails harmlessly for a non-directory CID, so plain files fall through to
// the CID's own record unchanged.
func (e *Engine) directCIDLookup(ctx context.Context, cid string, siteMode bool) (*Result, error) {
	out := e.idx.GetCID(ctx, cid)
	if !out.OK {
		return nil, nil
	}
	hit := out.Body
	tags := ParseTags(hit)

	resultCID, resultPath := hit.CID, hit.Path
	if siteMode {
		if entryCID, entryPath, ok := resolveEntry(ctx, e.cas, e.idx, cid); ok {
			resultCID, resultPath = entryCID, entryPath
		}
	}

	return &Result{
		CID:         resultCID,
		Kind:        hit.Kind,
		RootCID:     hit.RootCID,
		Path:        resultPath,
		Title:       hit.Title,
		Snippet:     Snippet(hit),
		Topics:      tags.Topics,
		RankSignals: BuildRankSignals(0, 1, Freshness(activityTs(hit), time.Now().UnixMilli()), Availability(hit.Present, hit.PresentSrc, false, 0, 0), false, false),
	}, nil
}

// buildSitesFromScored assembles the rootCandidate set BuildSites needs
// from the already-scored hits, looking up owners per root once.
func (e *Engine) buildSitesFromScored(ctx context.Context, scored []scoredHit, query string) []Site {
	byRoot := make(map[string]scoredHit)
	for _, s := range scored {
		if existing, ok := byRoot[s.hit.RootCID]; !ok || s.composite > existing.composite {
			byRoot[s.hit.RootCID] = s
		}
	}

	roots := make([]rootCandidate, 0, len(byRoot))
	owners := make(map[string][]string, len(byRoot))
	for rootCID, s := range byRoot {
		roots = append(roots, rootCandidate{
			CID:               rootCID,
			Query:             query,
			NormalizedContent: s.relevance,
			Title:             s.hit.Title,
			Snippet:           Snippet(s.hit),
			Tags:              s.tags,
		})
		ws, err := e.store.WalletsForRootCID(ctx, rootCID)
		if err == nil {
			owners[rootCID] = ws
		}
	}

	return BuildSites(ctx, e.cas, e.chain, e.idx, roots, owners)
}
