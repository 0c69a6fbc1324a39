// Package planvalidator implements ensureWalletPlanOk and ensureChainOnline
// (spec.md §4.E, §4.G): the TTL-cached bridge between chain-REST contracts
// and the wallet store's plan fields. Grounded on routes.go's handleAnalyzeTx
// fetch-then-merge-then-persist pattern, generalized from a block-height
// lookup to the plan/quota domain.
package planvalidator

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
)

const (
	planCacheTTL     = 5 * time.Minute
	livenessCacheTTL = 60 * time.Second
	bytesPerGB       = 1 << 30
)

// PlanResult is the resolved tuple ensureWalletPlanOk produces (spec.md §4.E).
type PlanResult struct {
	Wallet      string
	PlanID      string
	ExpiresAtMs int64
	QuotaBytes  int64
}

type cacheEntry struct {
	result    *PlanResult
	fetchedAt time.Time
}

// Validator ties the chain-REST client to the wallet store, caching
// successful plan resolutions and chain-liveness checks so hot paths don't
// refetch on every mutating call.
type Validator struct {
	chain *chainrest.Client
	store *walletstore.Store

	mu       sync.Mutex
	planCache map[string]cacheEntry

	livenessMu  sync.Mutex
	livenessAt  time.Time
	livenessErr error
}

func New(chain *chainrest.Client, store *walletstore.Store) *Validator {
	return &Validator{chain: chain, store: store, planCache: make(map[string]cacheEntry)}
}

// EnsureWalletPlanOk fetches contracts for wallet, resolves the active plan
// per spec.md §4.E, upserts it into the wallet store, and returns the
// resolved tuple. A cached result within planCacheTTL is returned without
// refetching.
func (v *Validator) EnsureWalletPlanOk(ctx context.Context, wallet string) (*PlanResult, error) {
	v.mu.Lock()
	if entry, ok := v.planCache[wallet]; ok && time.Since(entry.fetchedAt) < planCacheTTL {
		v.mu.Unlock()
		return entry.result, nil
	}
	v.mu.Unlock()

	contractsOut := v.chain.Contracts(ctx, wallet)
	if !contractsOut.OK {
		return nil, apierr.New(apierr.ChainUnreachable, "could not fetch contracts")
	}
	paramsOut := v.chain.Params(ctx)
	if !paramsOut.OK {
		return nil, apierr.New(apierr.ChainUnreachable, "could not fetch chain params")
	}

	contract, err := pickContract(contractsOut.Body.Contracts)
	if err != nil {
		return nil, apierr.Wrap(apierr.PlanValidationFailed, "no usable contract", err)
	}

	quotaBytes := int64(contract.StorageGBMonth * bytesPerGB)
	expiresAtMs := (contract.StartSeconds + contract.MonthsTotal*paramsOut.Body.MonthSeconds) * 1000

	result := &PlanResult{
		Wallet:      wallet,
		PlanID:      contract.ID,
		ExpiresAtMs: expiresAtMs,
		QuotaBytes:  quotaBytes,
	}

	nowMs := time.Now().UnixMilli()
	if err := v.store.UpdatePlan(ctx, wallet, result.PlanID, result.ExpiresAtMs, nowMs); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not persist plan", err)
	}

	v.mu.Lock()
	v.planCache[wallet] = cacheEntry{result: result, fetchedAt: time.Now()}
	v.mu.Unlock()

	return result, nil
}

// pickContract filters to contracts whose status includes ACTIVE, falling
// back to the full list if none qualify, then picks the one with the
// largest numeric id (spec.md §4.E).
func pickContract(contracts []chainrest.Contract) (chainrest.Contract, error) {
	active := make([]chainrest.Contract, 0, len(contracts))
	for _, c := range contracts {
		for _, status := range c.Status {
			if status == "ACTIVE" {
				active = append(active, c)
				break
			}
		}
	}
	if len(active) == 0 {
		active = contracts
	}
	if len(active) == 0 {
		return chainrest.Contract{}, errNoContracts
	}

	sort.Slice(active, func(i, j int) bool {
		return numericID(active[i].ID) > numericID(active[j].ID)
	})
	return active[0], nil
}

func numericID(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}

var errNoContracts = apierr.New(apierr.PlanValidationFailed, "no contracts returned")

// EnsureChainOnline gates /pin (spec.md §4.G) on cached chain-liveness: a
// Params() probe succeeding within the last 60s counts as online.
func (v *Validator) EnsureChainOnline(ctx context.Context) error {
	v.livenessMu.Lock()
	if time.Since(v.livenessAt) < livenessCacheTTL {
		err := v.livenessErr
		v.livenessMu.Unlock()
		return err
	}
	v.livenessMu.Unlock()

	out := v.chain.Params(ctx)
	var result error
	if !out.OK {
		result = apierr.New(apierr.ChainUnreachable, "chain-REST unreachable")
	}

	v.livenessMu.Lock()
	v.livenessAt = time.Now()
	v.livenessErr = result
	v.livenessMu.Unlock()

	return result
}
