package ranker

import (
	"context"
	"strings"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/indexer"
)

const (
	cidRecordExactCoeff      = 1.0
	cidRecordDescendantCoeff = 0.85
	ipnsRecordExactCoeff     = 0.9
	ipnsRecordDescendantCoeff = 0.8

	maxEntryProbeDepth = 2
	maxEntryProbeDirs  = 25
)

// Site is one entry in a site-mode result: a domain or CID-only tier, with
// a resolved HTML entry point (spec.md §4.H "Site mode").
type Site struct {
	Domain    string
	RootCID   string
	EntryCID  string
	EntryPath string
	Title     string
	Snippet   string
	Tags      Tags
	Score     float64
}

// BuildSites implements spec.md §4.H's site-mode pipeline: for each
// candidate root, find its owners, their domains, classify each domain
// record against the root (CID-record or IPNS-record, exact or one-hop
// descendant), score, resolve an HTML entry point, and assemble the
// CID-only fallback tier for unclaimed roots.
func BuildSites(ctx context.Context, cas *casdaemon.Client, chain *chainrest.Client, idx *indexer.Client,
	roots []rootCandidate, ownersByRoot map[string][]string) []Site {

	var sites []Site
	claimed := make(map[string]bool, len(roots))

	for _, root := range roots {
		owners := ownersByRoot[root.CID]
		if len(owners) == 0 {
			continue
		}

		parentsOut := idx.Parents(ctx, root.CID)
		var descendants map[string]struct{}
		if parentsOut.OK {
			descendants = make(map[string]struct{}, len(parentsOut.Body.Items))
			for _, p := range parentsOut.Body.Items {
				descendants[p] = struct{}{}
			}
		}

		seenDomain := make(map[string]bool)
		for _, owner := range owners {
			domainsOut := chain.DomainsByOwner(ctx, owner)
			if !domainsOut.OK {
				continue
			}
			for _, domain := range domainsOut.Body.Domains {
				if seenDomain[domain.Name] {
					continue
				}
				coeff, matched := classifyDomainRecord(ctx, cas, domain, root.CID, descendants)
				if !matched {
					continue
				}
				seenDomain[domain.Name] = true
				claimed[root.CID] = true

				domainScore := clamp01(0.7*root.NormalizedContent + 0.3*domainMatchScore(domain.Name, root.Query))
				score := domainScore * coeff

				entryCID, entryPath, ok := resolveEntry(ctx, cas, idx, root.CID)
				if !ok {
					continue
				}

				sites = append(sites, Site{
					Domain:    domain.Name,
					RootCID:   root.CID,
					EntryCID:  entryCID,
					EntryPath: entryPath,
					Title:     root.Title,
					Snippet:   root.Snippet,
					Tags:      root.Tags,
					Score:     score,
				})
			}
		}
	}

	for _, root := range roots {
		if claimed[root.CID] {
			continue
		}
		entryCID, entryPath, ok := resolveEntry(ctx, cas, idx, root.CID)
		if !ok {
			continue
		}
		sites = append(sites, Site{
			RootCID:   root.CID,
			EntryCID:  entryCID,
			EntryPath: entryPath,
			Title:     root.Title,
			Snippet:   root.Snippet,
			Tags:      root.Tags,
			Score:     root.NormalizedContent * 0.5,
		})
	}

	return sites
}

// rootCandidate is the minimal per-root input BuildSites needs, assembled
// by the orchestrator from the already-scored candidate set.
type rootCandidate struct {
	CID               string
	Query             string
	NormalizedContent float64
	Title             string
	Snippet           string
	Tags              Tags
}

func classifyDomainRecord(ctx context.Context, cas *casdaemon.Client, domain chainrest.Domain, rootCID string, descendants map[string]struct{}) (float64, bool) {
	for _, record := range domain.Records {
		switch record.Kind {
		case "cid":
			if record.Value == rootCID {
				return cidRecordExactCoeff, true
			}
			if _, ok := descendants[record.Value]; ok {
				return cidRecordDescendantCoeff, true
			}
		case "ipns":
			resolveOut := cas.NameResolve(ctx, record.Value)
			if !resolveOut.OK {
				continue
			}
			resolved := strings.TrimPrefix(resolveOut.Body.Path, "/ipfs/")
			if resolved == rootCID {
				return ipnsRecordExactCoeff, true
			}
			if _, ok := descendants[resolved]; ok {
				return ipnsRecordDescendantCoeff, true
			}
		}
	}
	return 0, false
}

// domainMatchScore weighs the domain label 80% and its TLD 20% against the
// query string (spec.md §4.H).
func domainMatchScore(domain, query string) float64 {
	if query == "" {
		return 0
	}
	label, tld := splitDomain(domain)
	score := 0.0
	if strings.Contains(strings.ToLower(label), query) {
		score += 0.8
	}
	if strings.Contains(strings.ToLower(tld), query) {
		score += 0.2
	}
	return clamp01(score)
}

func splitDomain(domain string) (label, tld string) {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return domain, ""
	}
	return strings.Join(parts[:len(parts)-1], "."), parts[len(parts)-1]
}

// resolveEntry finds an HTML entry point for rootCID: direct HTML file, or
// a bounded breadth-first probe of ls() results preferring index.html/
// index.htm then any .html/.htm, up to maxEntryProbeDepth and
// maxEntryProbeDirs. A candidate entry that the indexer classifies as a
// directory listing is rejected rather than returned (spec.md §4.H "Reject
// entries that look like directory listings"), and the probe keeps
// searching the rest of the frontier instead.
func resolveEntry(ctx context.Context, cas *casdaemon.Client, idx *indexer.Client, rootCID string) (entryCID, entryPath string, ok bool) {
	type frontierEntry struct {
		cid   string
		path  string
		depth int
	}
	if out := idx.GetCID(ctx, rootCID); out.OK {
		lowerPath := strings.ToLower(out.Body.Path)
		isHTML := strings.HasPrefix(strings.ToLower(out.Body.Mime), "text/html") ||
			strings.HasSuffix(lowerPath, ".html") || strings.HasSuffix(lowerPath, ".htm")
		if isHTML && !isDirectoryListing(out.Body, ParseTags(out.Body)) {
			return rootCID, out.Body.Path, true
		}
	}

	frontier := []frontierEntry{{cid: rootCID, path: "", depth: 0}}
	dirsProbed := 0

	for len(frontier) > 0 && dirsProbed < maxEntryProbeDirs {
		cur := frontier[0]
		frontier = frontier[1:]

		lsOut := cas.Ls(ctx, cur.cid)
		if !lsOut.OK {
			continue
		}
		dirsProbed++

		var bestName, bestHash string
		for _, obj := range lsOut.Body.Objects {
			for _, link := range obj.Links {
				lower := strings.ToLower(link.Name)
				if lower == "index.html" || lower == "index.htm" {
					bestName, bestHash = link.Name, link.Hash
					break
				}
				if bestHash == "" && (strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")) {
					bestName, bestHash = link.Name, link.Hash
				}
			}
		}
		if bestHash != "" && !isRejectedDirectoryListing(ctx, idx, bestHash) {
			joined := cur.path
			if joined != "" {
				joined += "/"
			}
			joined += bestName
			return bestHash, joined, true
		}

		if cur.depth >= maxEntryProbeDepth {
			continue
		}
		for _, obj := range lsOut.Body.Objects {
			for _, link := range obj.Links {
				if link.Type == 1 { // directory
					childPath := cur.path
					if childPath != "" {
						childPath += "/"
					}
					childPath += link.Name
					frontier = append(frontier, frontierEntry{cid: link.Hash, path: childPath, depth: cur.depth + 1})
				}
			}
		}
	}

	return "", "", false
}

// isRejectedDirectoryListing fetches entryCID's indexer record and applies
// the same content_class/snippet/title heuristic Suppress uses elsewhere,
// so a site's resolved entry can never be a directory-listing page.
func isRejectedDirectoryListing(ctx context.Context, idx *indexer.Client, entryCID string) bool {
	out := idx.GetCID(ctx, entryCID)
	if !out.OK {
		return false
	}
	hit := out.Body
	return isDirectoryListing(hit, ParseTags(hit))
}
