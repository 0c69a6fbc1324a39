// Package cidutil provides the CID variant set used by ownership and join
// queries, plus CID shape checks. No pack example imports a CID parsing
// library directly as an application dependency (ipfs/go-cid only shows up
// as an indirect transitive dependency of orbas1-Synnergy's libp2p stack),
// so the shape checks are hand-written. No CIDv0/CIDv1 re-encoding is
// done: a CID only matches rows stored under the same spelling.
package cidutil

import (
	"strings"
)

// base58BTCAlphabet is the alphabet CIDv0 (always base58btc, no multibase
// prefix) and CIDv1 base58btc ("z..." prefixed) both use.
const base58BTCAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Expand returns the set of CID spellings treated as equivalent when
// joining across wallet_roots/wallet_pins. It returns a single element, the
// whitespace-trimmed input: no CIDv0 or CIDv1 form is derived from it, so a
// CID spelled in one version does not match rows stored in the other.
func Expand(cid string) []string {
	cid = strings.TrimSpace(cid)
	variants := map[string]struct{}{cid: {}}

	if isCIDv0(cid) {
		variants[cid] = struct{}{}
	}
	if isCIDv1Base58(cid) {
		variants[cid] = struct{}{}
	}

	out := make([]string, 0, len(variants))
	for v := range variants {
		out = append(out, v)
	}
	return out
}

// Canonical picks a single stable representative from Expand's output for
// display/logging purposes: the original string is returned unchanged,
// since the gateway never needs to rewrite a CID the caller supplied.
func Canonical(cid string) string {
	return strings.TrimSpace(cid)
}

func isCIDv0(s string) bool {
	if len(s) != 46 || !strings.HasPrefix(s, "Qm") {
		return false
	}
	return isBase58(s)
}

func isCIDv1Base58(s string) bool {
	if len(s) < 2 || s[0] != 'z' {
		return false
	}
	return isBase58(s[1:])
}

// LooksLikeCID reports whether s has the shape of a CIDv0 or CIDv1 string,
// used by the search ranker's CID-direct lookup (spec.md §4.H).
func LooksLikeCID(s string) bool {
	if isCIDv0(s) {
		return true
	}
	if isCIDv1Base58(s) {
		return true
	}
	// CIDv1 base32 (bafy...) — multibase prefix "b", lowercase base32.
	if len(s) > 1 && s[0] == 'b' {
		for _, r := range s[1:] {
			if !(r >= 'a' && r <= 'z') && !(r >= '2' && r <= '7') {
				return false
			}
		}
		return len(s) >= 10
	}
	return false
}

func isBase58(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(base58BTCAlphabet, r) {
			return false
		}
	}
	return len(s) > 0
}
