package ranker

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/indexer"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
)

const (
	onchainCacheTTL  = 15 * time.Minute
	onchainRootCap   = 40
	popularityWindow = 7 * 24 * time.Hour
	replicaWindow    = 30 * 24 * time.Hour
	freshnessHalfLife = 30 * 24 * time.Hour
)

// NetworkSignals is spec.md §4.H's "Network signals" bundle for one hit.
type NetworkSignals struct {
	Popularity float64
	Freshness  float64
	Availability float64
	OnChainLinked bool
	OnChainKnown  bool
}

// log10Cap10 implements log1p(min(n, 10))/log1p(10), shared by usageScore
// and replicationScore.
func log10Cap10(n int) float64 {
	if n > 10 {
		n = 10
	}
	return math.Log1p(float64(n)) / math.Log1p(10)
}

// Popularity combines usage (7-day OK-wallet count) and replication
// (30-day replica count), spec.md §4.H.
func Popularity(okWallets7d, replicas30d int) float64 {
	usageScore := log10Cap10(okWallets7d)
	replicationScore := log10Cap10(replicas30d)
	return clamp01(0.6*usageScore + 0.4*replicationScore)
}

// Freshness decays exponentially from the hit's most recent activity
// timestamp (milliseconds since epoch) as exp(-age/30d): the score falls
// by a factor of e every 30 days (a half-life of about 20.8 days).
func Freshness(activityMs int64, nowMs int64) float64 {
	age := time.Duration(nowMs-activityMs) * time.Millisecond
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Hours() / freshnessHalfLife.Hours())
}

// Availability implements spec.md §4.H's present/downweight rules.
func Availability(present bool, presentSource string, hadError bool, okWallets, totalWallets int) float64 {
	if !present {
		return 0
	}
	score := 1.0
	if presentSource != "pinls" {
		score *= 0.9
	}
	if hadError {
		score *= 0.7
	}
	if totalWallets > 0 {
		score *= 0.6 + 0.4*(float64(okWallets)/float64(totalWallets))
	}
	return clamp01(score)
}

type onchainCacheEntry struct {
	linked    bool
	expiresAt time.Time
}

// OnChainLinker resolves spec.md §4.H's on-chain linkage signal, caching
// per-root results for 15 minutes and capping lookups at 40 roots per
// query — both TTL-cache-map shapes grounded on planvalidator.Validator's
// planCache / livenessAt fields, here specialized to root-CID keys.
type OnChainLinker struct {
	chain *chainrest.Client
	idx   *indexer.Client
	store *walletstore.Store
	cas   *casdaemon.Client

	mu    sync.Mutex
	cache map[string]onchainCacheEntry
}

func NewOnChainLinker(chain *chainrest.Client, idx *indexer.Client, store *walletstore.Store, cas *casdaemon.Client) *OnChainLinker {
	return &OnChainLinker{chain: chain, idx: idx, store: store, cas: cas, cache: make(map[string]onchainCacheEntry)}
}

// IsLinked reports whether any owner of rootCID has a domain record whose
// value resolves to rootCID (directly, or one parents-hop descendant).
func (l *OnChainLinker) IsLinked(ctx context.Context, rootCID string) bool {
	l.mu.Lock()
	if entry, ok := l.cache[rootCID]; ok && time.Now().Before(entry.expiresAt) {
		l.mu.Unlock()
		return entry.linked
	}
	l.mu.Unlock()

	linked := l.resolve(ctx, rootCID)

	l.mu.Lock()
	l.cache[rootCID] = onchainCacheEntry{linked: linked, expiresAt: time.Now().Add(onchainCacheTTL)}
	l.mu.Unlock()

	return linked
}

func (l *OnChainLinker) resolve(ctx context.Context, rootCID string) bool {
	owners, err := l.store.WalletsForRootCID(ctx, rootCID)
	if err != nil || len(owners) == 0 {
		return false
	}

	parentsOut := l.idx.Parents(ctx, rootCID)
	var descendants map[string]struct{}
	if parentsOut.OK {
		descendants = make(map[string]struct{}, len(parentsOut.Body.Items))
		for _, p := range parentsOut.Body.Items {
			descendants[p] = struct{}{}
		}
	}

	for _, owner := range owners {
		domainsOut := l.chain.DomainsByOwner(ctx, owner)
		if !domainsOut.OK {
			continue
		}
		for _, domain := range domainsOut.Body.Domains {
			for _, record := range domain.Records {
				target := record.Value
				if record.Kind == "ipns" {
					resolveOut := l.cas.NameResolve(ctx, record.Value)
					if !resolveOut.OK {
						continue
					}
					target = strings.TrimPrefix(resolveOut.Body.Path, "/ipfs/")
				}
				if target == rootCID {
					return true
				}
				if _, ok := descendants[target]; ok {
					return true
				}
			}
		}
	}
	return false
}

// OnChainCapRoots trims a root-CID set to the 40-root-per-query cap spec.md
// §4.H requires, preserving input order.
func OnChainCapRoots(roots []string) []string {
	if len(roots) <= onchainRootCap {
		return roots
	}
	return roots[:onchainRootCap]
}
