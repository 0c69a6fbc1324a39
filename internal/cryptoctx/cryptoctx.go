// Package cryptoctx loads the gateway's Kyber-768 KEM keypair at startup
// (spec.md §4.A) and exposes the immutable key material the PQ envelope
// codec needs to decapsulate inbound requests and publish the public key.
package cryptoctx

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

const supportedAlg = "kyber768"

// keyFile is the on-disk JSON shape at KYBER_KEY_PATH.
type keyFile struct {
	Alg     string `json:"alg"`
	KeyID   string `json:"key_id"`
	Pubkey  string `json:"pubkey"`
	Privkey string `json:"privkey"`
}

// Context holds the process-wide KEM keypair. It is immutable after Load
// and safe to share across every request goroutine.
type Context struct {
	keyID      string
	pub        kem.PublicKey
	priv       kem.PrivateKey
	pubBytes   []byte
	pubHashB64 string
}

// Load reads and validates the KEM key file. Any missing file, malformed
// field, or algorithm mismatch is fatal at startup, matching
// cmd/engine/main.go's requireEnv fail-fast convention for security-critical
// configuration.
func Load(path string) *Context {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("FATAL: cannot read KYBER_KEY_PATH %q: %v", path, err)
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		log.Fatalf("FATAL: KYBER_KEY_PATH %q is not valid JSON: %v", path, err)
	}
	if kf.Alg != supportedAlg {
		log.Fatalf("FATAL: KYBER_KEY_PATH alg %q does not match supported %q", kf.Alg, supportedAlg)
	}
	if kf.KeyID == "" {
		log.Fatalf("FATAL: KYBER_KEY_PATH missing key_id")
	}

	pubBytes, err := base64.StdEncoding.DecodeString(kf.Pubkey)
	if err != nil {
		log.Fatalf("FATAL: KYBER_KEY_PATH pubkey is not valid base64: %v", err)
	}
	privBytes, err := base64.StdEncoding.DecodeString(kf.Privkey)
	if err != nil {
		log.Fatalf("FATAL: KYBER_KEY_PATH privkey is not valid base64: %v", err)
	}

	scheme := kyber768.Scheme()

	pub, err := scheme.UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		log.Fatalf("FATAL: KYBER_KEY_PATH pubkey is malformed for kyber768: %v", err)
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		log.Fatalf("FATAL: KYBER_KEY_PATH privkey is malformed for kyber768: %v", err)
	}

	sum := sha256.Sum256(pubBytes)

	log.Printf("Loaded Kyber-768 KEM keypair (key_id=%s)", kf.KeyID)

	return &Context{
		keyID:      kf.KeyID,
		pub:        pub,
		priv:       priv,
		pubBytes:   pubBytes,
		pubHashB64: base64.StdEncoding.EncodeToString(sum[:]),
	}
}

// KeyID returns the configured KEM key identifier.
func (c *Context) KeyID() string { return c.keyID }

// Scheme returns the Kyber-768 KEM scheme used for decapsulation.
func (c *Context) Scheme() kem.Scheme { return kyber768.Scheme() }

// PrivateKey returns the KEM private key for decapsulation.
func (c *Context) PrivateKey() kem.PrivateKey { return c.priv }

// PublicKeyBytes returns the marshaled public key bytes.
func (c *Context) PublicKeyBytes() []byte { return c.pubBytes }

// PubInfo is the JSON shape served at GET /pq/pub.
type PubInfo struct {
	Alg        string `json:"alg"`
	KeyID      string `json:"key_id"`
	Pub        string `json:"pub"`
	PubkeyHash string `json:"pubkey_hash"`
}

// Info returns the publishable public-key descriptor.
func (c *Context) Info() PubInfo {
	return PubInfo{
		Alg:        supportedAlg,
		KeyID:      c.keyID,
		Pub:        base64.StdEncoding.EncodeToString(c.pubBytes),
		PubkeyHash: c.pubHashB64,
	}
}

// ExpectedKeyID validates an optional X-Lumen-KeyId header against the
// configured key_id, per spec.md §4.B.
func (c *Context) ExpectedKeyID(headerValue string) error {
	if headerValue == "" {
		return nil
	}
	if headerValue != c.keyID {
		return fmt.Errorf("key id mismatch: got %q want %q", headerValue, c.keyID)
	}
	return nil
}
