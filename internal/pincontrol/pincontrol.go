// Package pincontrol implements component G of spec.md §4.G: the /pin,
// /unpin and /ispinned handlers sitting between the wallet store's
// ownership rows and CAS-daemon's pin/add, pin/rm and pin/ls calls.
package pincontrol

import (
	"context"
	"database/sql"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/planvalidator"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
)

// Notifier mirrors ingest.Notifier so pincontrol doesn't import webhook
// directly either.
type Notifier interface {
	Fire(event string, payload map[string]any)
}

type Controller struct {
	cas       *casdaemon.Client
	store     *walletstore.Store
	validator *planvalidator.Validator
	notifier  Notifier
}

func New(cas *casdaemon.Client, store *walletstore.Store, validator *planvalidator.Validator, notifier Notifier) *Controller {
	return &Controller{cas: cas, store: store, validator: validator, notifier: notifier}
}

// Pin implements /pin: gated on cached chain liveness, calls CAS-daemon
// pin/add, records the pin row on HTTP success, fires the pin webhook.
func (c *Controller) Pin(ctx context.Context, wallet, cid string, nowMs int64) error {
	if err := c.validator.EnsureChainOnline(ctx); err != nil {
		return err
	}

	out := c.cas.PinAdd(ctx, cid)
	if !out.OK {
		return apierr.New(apierr.IPFSPinFailed, "CAS-daemon pin/add failed").
			WithExtra(map[string]any{"kind": string(out.Kind)})
	}

	if err := c.store.AddPin(ctx, wallet, cid, nowMs); err != nil {
		return apierr.Wrap(apierr.InternalError, "could not record pin", err)
	}

	if c.notifier != nil {
		c.notifier.Fire("pin", map[string]any{"wallet": wallet, "cid": cid})
	}
	return nil
}

// UnpinResult reports what /unpin actually did.
type UnpinResult struct {
	Changed bool
}

// Unpin implements /unpin's three-branch state machine (spec.md §4.G). The
// last-owner reads and the row mutation that follows run inside one
// walletstore.Store.Write transaction, the same ambient-tx shape
// AddOrUpdateWalletRoots uses for its writes, so a concurrent pin/unpin from
// another wallet can't flip the "am I the last owner" answer between the
// count and the delete.
func (c *Controller) Unpin(ctx context.Context, wallet, cid string) (*UnpinResult, error) {
	var result UnpinResult
	var shared bool
	var doNotify bool

	err := c.store.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		walletHasPin, err := c.store.HasWalletPin(ctx, wallet, cid)
		if err != nil {
			return apierr.Wrap(apierr.InternalError, "could not check wallet pin", err)
		}
		walletHasRoot, err := c.store.HasWalletRoot(ctx, wallet, cid)
		if err != nil {
			return apierr.Wrap(apierr.InternalError, "could not check wallet root", err)
		}

		if !walletHasPin && !walletHasRoot {
			_ = c.store.ClearDisplayName(ctx, wallet, cid)
			result.Changed = false
			return nil
		}

		totalPins, err := c.store.CountPinsForCID(ctx, cid)
		if err != nil {
			return apierr.Wrap(apierr.InternalError, "could not count pins", err)
		}
		totalRootOwners, err := c.store.CountRootOwnersForCID(ctx, cid)
		if err != nil {
			return apierr.Wrap(apierr.InternalError, "could not count root owners", err)
		}
		totalLogical := totalPins + totalRootOwners

		if totalLogical > 1 {
			if err := c.store.RemovePinAndRoot(ctx, wallet, cid); err != nil {
				return apierr.Wrap(apierr.InternalError, "could not remove pin/root rows", err)
			}
			result.Changed = true
			shared = true
			doNotify = true
			return nil
		}

		out := c.cas.PinRm(ctx, cid)
		if !out.OK {
			return apierr.New(apierr.IPFSUnpinFailed, "CAS-daemon pin/rm failed").
				WithExtra(map[string]any{"kind": string(out.Kind)})
		}

		if err := c.store.RemovePinAndRoot(ctx, wallet, cid); err != nil {
			return apierr.Wrap(apierr.InternalError, "could not remove pin/root rows", err)
		}
		result.Changed = true
		shared = false
		doNotify = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if doNotify && c.notifier != nil {
		c.notifier.Fire("unpin", map[string]any{"wallet": wallet, "cid": cid, "shared": shared})
	}
	return &result, nil
}

// IsPinnedResult is the /ispinned response body.
type IsPinnedResult struct {
	Pinned bool
}

// IsPinned implements /ispinned: global CAS-daemon pin state AND wallet
// ownership, so the wallet-scoped view never leaks cross-tenant pinning.
func (c *Controller) IsPinned(ctx context.Context, wallet, cid string) (*IsPinnedResult, error) {
	out := c.cas.PinLs(ctx, cid)
	global := out.OK
	if global {
		_, global = out.Body.Keys[cid]
	}

	walletHasRoot, err := c.store.HasWalletRoot(ctx, wallet, cid)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not check wallet root", err)
	}
	walletHasPin, err := c.store.HasWalletPin(ctx, wallet, cid)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not check wallet pin", err)
	}

	return &IsPinnedResult{Pinned: global && (walletHasRoot || walletHasPin)}, nil
}
