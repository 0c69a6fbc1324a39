// Package walletaddr derives and validates the bech32-shaped wallet
// addresses spec.md §3 describes: human-readable prefix, separator "1",
// lowercase base32-like body. Syntactic validation only — authenticity
// comes from signature verification in internal/pqenvelope.
package walletaddr

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 is required for the address derivation, not a security choice
)

// FromPubkey derives the bech32 address for a compressed secp256k1 pubkey:
// bech32(hrp, ripemd160(sha256(pubkey))). Grounded on
// orbas1-Synnergy/core/wallet.go's identical ripemd160(sha256(...)) address
// construction.
func FromPubkey(hrp string, pubkeyCompressed []byte) (string, error) {
	shaSum := sha256.Sum256(pubkeyCompressed)
	ripemd := ripemd160.New()
	if _, err := ripemd.Write(shaSum[:]); err != nil {
		return "", fmt.Errorf("ripemd160: %w", err)
	}
	hash := ripemd.Sum(nil)

	converted, err := bech32.ConvertBits(hash, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32 convert bits: %w", err)
	}
	addr, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("bech32 encode: %w", err)
	}
	return addr, nil
}

// Valid checks only the syntactic shape of a wallet address: it must
// bech32-decode, its human-readable prefix must match hrp, and the data
// part must be a non-empty lowercase base32-like body.
func Valid(hrp, wallet string) bool {
	if wallet == "" || !strings.HasPrefix(wallet, hrp+"1") {
		return false
	}
	decodedHRP, data, err := bech32.Decode(wallet, 1023)
	if err != nil {
		return false
	}
	if decodedHRP != hrp {
		return false
	}
	return len(data) > 0
}
