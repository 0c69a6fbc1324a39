package walletstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rawblock/lumen-gateway/internal/cidutil"
)

// WalletRow is the wallets table projection.
type WalletRow struct {
	Wallet            string
	PlanID            string
	PlanExpiresAt     int64
	LastChainCheckAt  int64
}

// RootsSummary is the aggregate getRootsSummary(wallet) result of spec.md §4.C.
type RootsSummary struct {
	Total          int
	Active         int
	BytesEstimated int64
}

// CidRow is one row of a paginated wallet CID listing (roots and pins
// merged), spec.md §6 POST /wallet/cids.
type CidRow struct {
	CID         string
	Source      string // "root" or "pin"
	DisplayName string
	CreatedAt   int64
}

const cidsPageSize = 200

// UpsertWallet creates a wallets row lazily on first authenticated action
// (spec.md §3 "Wallet record"), leaving plan fields untouched if the row
// already exists.
func (s *Store) UpsertWallet(ctx context.Context, wallet string) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (wallet, plan_id, plan_expires_at, last_chain_check_at)
			VALUES (?, NULL, NULL, NULL)
			ON CONFLICT(wallet) DO NOTHING`, wallet)
		return err
	})
}

// GetWallet reads a single wallets row, or nil if it doesn't exist yet.
func (s *Store) GetWallet(ctx context.Context, wallet string) (*WalletRow, error) {
	row := s.queryRowContext(ctx, `
		SELECT wallet, plan_id, plan_expires_at, last_chain_check_at
		FROM wallets WHERE wallet = ?`, wallet)

	var w WalletRow
	var planID sql.NullString
	var expiresAt, lastCheck sql.NullInt64
	if err := row.Scan(&w.Wallet, &planID, &expiresAt, &lastCheck); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	w.PlanID = planID.String
	w.PlanExpiresAt = expiresAt.Int64
	w.LastChainCheckAt = lastCheck.Int64
	return &w, nil
}

// TouchChainCheck stamps last_chain_check_at, used by the plan validator's
// TTL gate (spec.md §4.E).
func (s *Store) TouchChainCheck(ctx context.Context, wallet string, nowMs int64) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (wallet, last_chain_check_at) VALUES (?, ?)
			ON CONFLICT(wallet) DO UPDATE SET last_chain_check_at = excluded.last_chain_check_at`,
			wallet, nowMs)
		return err
	})
}

// UpdatePlan upserts the plan tuple ensureWalletPlanOk resolves (spec.md §4.E).
func (s *Store) UpdatePlan(ctx context.Context, wallet, planID string, expiresAtMs, nowMs int64) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (wallet, plan_id, plan_expires_at, last_chain_check_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(wallet) DO UPDATE SET
				plan_id = excluded.plan_id,
				plan_expires_at = excluded.plan_expires_at,
				last_chain_check_at = excluded.last_chain_check_at`,
			wallet, planID, expiresAtMs, nowMs)
		return err
	})
}

// AddOrUpdateWalletRoots records a distinct root CID per ingest (spec.md
// §4.F step 3): per-root bytes_estimated ≈ uploadedBytes / len(roots),
// transactional across every root.
func (s *Store) AddOrUpdateWalletRoots(ctx context.Context, wallet string, roots []string, uploadedBytes, nowMs int64) error {
	if len(roots) == 0 {
		return nil
	}
	perRoot := uploadedBytes / int64(len(roots))
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, root := range roots {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO wallet_roots (wallet, root_cid, created_at, bytes_estimated, status)
				VALUES (?, ?, ?, ?, 'active')
				ON CONFLICT(wallet, root_cid) DO UPDATE SET
					bytes_estimated = excluded.bytes_estimated,
					status = 'active'`,
				wallet, root, nowMs, perRoot); err != nil {
				return fmt.Errorf("add root %s: %w", root, err)
			}
		}
		return nil
	})
}

// RootsSummary aggregates getRootsSummary(wallet) (spec.md §4.C).
func (s *Store) RootsSummary(ctx context.Context, wallet string) (*RootsSummary, error) {
	row := s.queryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COALESCE(SUM(bytes_estimated), 0)
		FROM wallet_roots WHERE wallet = ?`, wallet)

	var sum RootsSummary
	if err := row.Scan(&sum.Total, &sum.Active, &sum.BytesEstimated); err != nil {
		return nil, err
	}
	return &sum, nil
}

// variantPlaceholders builds a "(?,?,...)" IN-clause fragment plus the
// matching argument slice for cid's expanded variant set (spec.md §3 "CID
// variant set").
func variantPlaceholders(cid string) (string, []any) {
	variants := cidutil.Expand(cid)
	placeholders := make([]string, len(variants))
	args := make([]any, len(variants))
	for i, v := range variants {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}

// WalletsForRootCID returns every wallet owning cid, via wallet_roots (active
// only) UNION wallet_pins, under CID-variant expansion (spec.md §4.C
// "wallets-for-root-CID").
func (s *Store) WalletsForRootCID(ctx context.Context, cid string) ([]string, error) {
	placeholders, args := variantPlaceholders(cid)
	query := fmt.Sprintf(`
		SELECT wallet FROM wallet_roots WHERE root_cid IN (%s) AND status = 'active'
		UNION
		SELECT wallet FROM wallet_pins WHERE cid IN (%s)`, placeholders, placeholders)

	rows, err := s.queryContext(ctx, query, append(append([]any{}, args...), args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// HasWalletRoot reports whether wallet owns cid (or any of its variants) as
// an active root.
func (s *Store) HasWalletRoot(ctx context.Context, wallet, cid string) (bool, error) {
	placeholders, args := variantPlaceholders(cid)
	query := fmt.Sprintf(`SELECT 1 FROM wallet_roots WHERE wallet = ? AND root_cid IN (%s) AND status = 'active' LIMIT 1`, placeholders)
	row := s.queryRowContext(ctx, query, append([]any{wallet}, args...)...)
	return rowExists(row)
}

// HasWalletPin reports whether wallet has an explicit pin on cid (or any of
// its variants).
func (s *Store) HasWalletPin(ctx context.Context, wallet, cid string) (bool, error) {
	placeholders, args := variantPlaceholders(cid)
	query := fmt.Sprintf(`SELECT 1 FROM wallet_pins WHERE wallet = ? AND cid IN (%s) LIMIT 1`, placeholders)
	row := s.queryRowContext(ctx, query, append([]any{wallet}, args...)...)
	return rowExists(row)
}

// CountPinsForCID counts distinct wallets with an explicit pin on cid.
func (s *Store) CountPinsForCID(ctx context.Context, cid string) (int, error) {
	placeholders, args := variantPlaceholders(cid)
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT wallet) FROM wallet_pins WHERE cid IN (%s)`, placeholders)
	var n int
	if err := s.queryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountRootOwnersForCID counts distinct wallets with an active root on cid.
func (s *Store) CountRootOwnersForCID(ctx context.Context, cid string) (int, error) {
	placeholders, args := variantPlaceholders(cid)
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT wallet) FROM wallet_roots WHERE root_cid IN (%s) AND status = 'active'`, placeholders)
	var n int
	if err := s.queryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AddPin records an explicit pin (spec.md §4.G /pin).
func (s *Store) AddPin(ctx context.Context, wallet, cid string, nowMs int64) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_pins (wallet, cid, created_at) VALUES (?, ?, ?)
			ON CONFLICT(wallet, cid) DO NOTHING`, wallet, cid, nowMs)
		return err
	})
}

// RemovePinAndRoot tears down every row for (wallet, cid) across both
// wallet_pins and wallet_roots (all variants) and clears display-name
// metadata, in one transaction — the Open Question #1 resolution recorded
// in SPEC_FULL.md: unpin's mixed pin/root teardown is atomic.
func (s *Store) RemovePinAndRoot(ctx context.Context, wallet, cid string) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		placeholders, args := variantPlaceholders(cid)

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM wallet_pins WHERE wallet = ? AND cid IN (%s)`, placeholders),
			append([]any{wallet}, args...)...); err != nil {
			return fmt.Errorf("delete pin: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM wallet_roots WHERE wallet = ? AND root_cid IN (%s)`, placeholders),
			append([]any{wallet}, args...)...); err != nil {
			return fmt.Errorf("delete root: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM wallet_cid_metadata WHERE wallet = ? AND cid IN (%s)`, placeholders),
			append([]any{wallet}, args...)...); err != nil {
			return fmt.Errorf("clear metadata: %w", err)
		}
		return nil
	})
}

// SetDisplayName upserts wallet_cid_metadata for (wallet, cid).
func (s *Store) SetDisplayName(ctx context.Context, wallet, cid, name string, nowMs int64) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_cid_metadata (wallet, cid, display_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(wallet, cid) DO UPDATE SET
				display_name = excluded.display_name,
				updated_at = excluded.updated_at`,
			wallet, cid, name, nowMs, nowMs)
		return err
	})
}

// ClearDisplayName removes wallet_cid_metadata for (wallet, cid); used by
// unpin's no-reference idempotent branch (spec.md §4.G).
func (s *Store) ClearDisplayName(ctx context.Context, wallet, cid string) error {
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM wallet_cid_metadata WHERE wallet = ? AND cid = ?`, wallet, cid)
		return err
	})
}

// ListWalletCIDs returns a 200/page listing merging roots and pins with
// display names, spec.md §6 POST /wallet/cids.
func (s *Store) ListWalletCIDs(ctx context.Context, wallet string, page int) ([]CidRow, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * cidsPageSize

	rows, err := s.queryContext(ctx, `
		SELECT cid, source, created_at, COALESCE(display_name, '') FROM (
			SELECT root_cid AS cid, 'root' AS source, created_at FROM wallet_roots
			WHERE wallet = ? AND status = 'active'
			UNION ALL
			SELECT cid, 'pin', created_at FROM wallet_pins WHERE wallet = ?
		) merged
		LEFT JOIN wallet_cid_metadata m ON m.wallet = ? AND m.cid = merged.cid
		ORDER BY created_at DESC, cid ASC
		LIMIT ? OFFSET ?`,
		wallet, wallet, wallet, cidsPageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CidRow
	for rows.Next() {
		var r CidRow
		if err := rows.Scan(&r.CID, &r.Source, &r.CreatedAt, &r.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountWalletsReplicating counts distinct wallets holding an active root for
// any of cids, optionally restricted to roots created at or after sinceMs —
// the replicationScore input of the search ranker's popularity signal
// (spec.md §4.H).
func (s *Store) CountWalletsReplicating(ctx context.Context, cids []string, sinceMs *int64) (int, error) {
	if len(cids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(cids))
	args := make([]any, 0, len(cids))
	for _, c := range cids {
		ph, vs := variantPlaceholders(c)
		placeholders = append(placeholders, ph)
		args = append(args, vs...)
	}
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT wallet) FROM wallet_roots WHERE root_cid IN (%s) AND status = 'active'`,
		strings.Join(placeholders, ","))
	if sinceMs != nil {
		query += " AND created_at >= ?"
		args = append(args, *sinceMs)
	}
	var n int
	if err := s.queryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountCIDUsage counts distinct wallets that recorded an ok access to any of
// cids at or after sinceMs — the usageScore input of the search ranker's
// popularity signal (spec.md §4.H "usageScore = log1p(min(ok_wallets_7d,
// 10))/log1p(10)"), read from cid_wallet_usage rather than wallet_roots so
// it reflects actual fetch activity instead of ownership/replication.
func (s *Store) CountCIDUsage(ctx context.Context, cids []string, sinceMs int64) (int, error) {
	if len(cids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(cids))
	args := make([]any, 0, len(cids)+1)
	for _, c := range cids {
		ph, vs := variantPlaceholders(c)
		placeholders = append(placeholders, ph)
		args = append(args, vs...)
	}
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT wallet) FROM cid_wallet_usage
		WHERE cid IN (%s) AND last_ok = 1 AND last_access_at >= ?`,
		strings.Join(placeholders, ","))
	args = append(args, sinceMs)

	var n int
	if err := s.queryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordCIDAccess upserts cid_wallet_usage on an authenticated "view" event
// (spec.md §3).
func (s *Store) RecordCIDAccess(ctx context.Context, cid, wallet, status string, ok bool, nowMs int64) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	return s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cid_wallet_usage (cid, wallet, last_access_at, last_status, last_ok)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(cid, wallet) DO UPDATE SET
				last_access_at = excluded.last_access_at,
				last_status = excluded.last_status,
				last_ok = excluded.last_ok`,
			cid, wallet, nowMs, status, okInt)
		return err
	})
}

// PurgeOldUsage deletes cid_wallet_usage rows older than 90 days (spec.md
// §3), returning the number of rows removed.
func (s *Store) PurgeOldUsage(ctx context.Context, olderThanMs int64) (int64, error) {
	var affected int64
	err := s.Write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cid_wallet_usage WHERE last_access_at < ?`, olderThanMs)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func rowExists(row *sql.Row) (bool, error) {
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
