// Package pqenvelope implements the PQ envelope middleware of spec.md §4.B:
// Kyber-768 KEM decapsulation, AES-256-GCM open/seal, secp256k1 wallet
// signature verification, and the nonce/timestamp replay window.
package pqenvelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/hkdf"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/cryptoctx"
	"github.com/rawblock/lumen-gateway/internal/walletaddr"
)

const hkdfInfo = "lumen-authwallet-v1"

// timestampWindow bounds how far a request's timestamp may drift from now
// (spec.md §4.B step 5, §8).
const timestampWindow = 5 * time.Minute

// RequiredHeaders, read by the façade middleware before handing the body to
// Open.
const (
	HeaderPQ      = "X-Lumen-PQ"
	HeaderKEM     = "X-Lumen-KEM"
	HeaderKeyID   = "X-Lumen-KeyId"
	PQHeaderValue = "v1"
	KEMKyber768   = "kyber768"
)

// OuterEnvelope is the JSON body of every PQ-mandatory route.
type OuterEnvelope struct {
	KemCt      string `json:"kem_ct"`
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// innerEnvelope is the decrypted plaintext JSON (spec.md §4.B step 4).
type innerEnvelope struct {
	Wallet    string          `json:"wallet"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Pubkey    string          `json:"pubkey"`
}

// OpenResult carries everything a handler needs after successful
// authentication: the caller's wallet, the decrypted payload, and the
// derived AES key for sealing the response.
type OpenResult struct {
	Wallet  string
	Payload json.RawMessage
	Key     []byte
}

// Codec ties together the crypto context and the nonce replay cache.
type Codec struct {
	crypto *cryptoctx.Context
	nonces *NonceCache
	hrp    string
}

// New builds a Codec bound to the process's KEM keypair and HRP.
func New(crypto *cryptoctx.Context, hrp string) *Codec {
	return &Codec{crypto: crypto, nonces: NewNonceCache(), hrp: hrp}
}

// NoncesEvicted reports nonces purged by the replay-window sweep, surfaced
// as a prometheus gauge (SPEC_FULL.md supplemented feature 4).
func (c *Codec) NoncesEvicted() uint64 { return c.nonces.Evicted() }

// Open authenticates and decrypts a PQ envelope for the given method/path,
// following spec.md §4.B steps 1-9.
func (c *Codec) Open(method, path string, body []byte) (*OpenResult, error) {
	var outer OuterEnvelope
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, apierr.Wrap(apierr.PQBadBody, "malformed envelope JSON", err)
	}

	kemCt, err := base64.StdEncoding.DecodeString(outer.KemCt)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQBadBody, "kem_ct is not valid base64", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(outer.Ciphertext)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQBadBody, "ciphertext is not valid base64", err)
	}
	iv, err := base64.StdEncoding.DecodeString(outer.IV)
	if err != nil || len(iv) != 12 {
		return nil, apierr.New(apierr.PQBadBody, "iv must be 12 bytes base64")
	}
	tag, err := base64.StdEncoding.DecodeString(outer.Tag)
	if err != nil || len(tag) != 16 {
		return nil, apierr.New(apierr.PQBadBody, "tag must be 16 bytes base64")
	}

	// Step 1: KEM-decapsulate.
	sharedSecret, err := c.crypto.Scheme().Decapsulate(c.crypto.PrivateKey(), kemCt)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQDecapsulateFailed, "kem decapsulation failed", err)
	}

	// Step 2: HKDF-SHA256 derive 32-byte AES key.
	key, err := deriveKey(sharedSecret)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQDecryptFailed, "key derivation failed", err)
	}

	// Step 3: open AES-256-GCM(key, iv, tag) over ciphertext.
	plaintext, err := gcmOpen(key, iv, ciphertext, tag)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQDecryptFailed, "gcm open failed", err)
	}

	// Step 4: parse plaintext envelope.
	var inner innerEnvelope
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "decrypted envelope is not valid JSON", err)
	}

	// Step 5: validate wallet syntax, timestamp window, nonce, presence.
	if !walletaddr.Valid(c.hrp, inner.Wallet) {
		return nil, apierr.New(apierr.WalletInvalid, "wallet is not a valid bech32 address")
	}
	if inner.Signature == "" || inner.Pubkey == "" {
		return nil, apierr.New(apierr.AuthFailed, "missing_signature_or_pubkey")
	}
	now := time.Now()
	drift := now.Unix() - inner.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > timestampWindow {
		return nil, apierr.New(apierr.AuthFailed, "timestamp_out_of_window")
	}
	if inner.Nonce == "" {
		return nil, apierr.New(apierr.AuthFailed, "missing_nonce")
	}
	if !c.nonces.InsertIfAbsent(inner.Nonce, now) {
		return nil, apierr.New(apierr.AuthFailed, "nonce_replay")
	}

	// Step 6: payload hash.
	payloadHash, err := payloadHashHex(inner.Payload)
	if err != nil {
		return nil, apierr.Wrap(apierr.PQBadEnvelope, "could not hash payload", err)
	}

	// Step 7: canonical string.
	canonical := canonicalString(method, path, inner.Nonce, inner.Timestamp, payloadHash)

	// Step 8: verify secp256k1 signature, derive and match wallet address.
	if err := verifySignature(inner.Pubkey, inner.Signature, canonical); err != nil {
		return nil, apierr.Wrap(apierr.AuthFailed, "signature_invalid", err)
	}
	pubkeyBytes, err := base64.StdEncoding.DecodeString(inner.Pubkey)
	if err != nil {
		return nil, apierr.Wrap(apierr.AuthFailed, "pubkey is not valid base64", err)
	}
	derivedAddr, err := walletaddr.FromPubkey(c.hrp, pubkeyBytes)
	if err != nil {
		return nil, apierr.Wrap(apierr.AuthFailed, "could not derive address from pubkey", err)
	}
	if derivedAddr != inner.Wallet {
		return nil, apierr.New(apierr.AuthFailed, "pubkey_wallet_mismatch")
	}

	return &OpenResult{Wallet: inner.Wallet, Payload: inner.Payload, Key: key}, nil
}

// Seal GCM-seals body with key and a fresh random IV, returning the
// {ciphertext, iv, tag} envelope (spec.md §4.B "Response sealing").
func Seal(key []byte, body []byte) (*OuterEnvelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, body, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return &OuterEnvelope{
		KemCt:      "",
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

func deriveKey(sharedSecret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func gcmOpen(key, iv, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	return gcm.Open(nil, iv, sealed, nil)
}

// verifySignature checks a base64 DER-encoded secp256k1 signature of
// sha256(canonicalString) against a base64 compressed pubkey.
func verifySignature(pubkeyB64, sigB64, canonical string) error {
	pubkeyBytes, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	pubKey, err := btcec.ParsePubKey(pubkeyBytes)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	hash := sha256.Sum256([]byte(canonical))
	if !sig.Verify(hash[:], pubKey) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
