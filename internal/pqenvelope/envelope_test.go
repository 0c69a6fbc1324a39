package pqenvelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/cloudflare/circl/kem/kyber/kyber768"

	"github.com/rawblock/lumen-gateway/internal/cryptoctx"
	"github.com/rawblock/lumen-gateway/internal/walletaddr"
)

const testHRP = "lumen"

// loadTestContext generates a fresh Kyber-768 keypair, writes it to a temp
// key file in cryptoctx's on-disk JSON shape, and loads it back through
// cryptoctx.Load so the codec under test sees the exact same Context type
// main.go builds at startup.
func loadTestContext(t *testing.T) *cryptoctx.Context {
	t.Helper()
	scheme := kyber768.Scheme()
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate kyber768 keypair: %v", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal pubkey: %v", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal privkey: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "kyber.json")
	body := map[string]string{
		"alg":     "kyber768",
		"key_id":  "test-key-1",
		"pubkey":  base64.StdEncoding.EncodeToString(pubBytes),
		"privkey": base64.StdEncoding.EncodeToString(privBytes),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal key file: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	return cryptoctx.Load(path)
}

// walletAddressForTest derives the same bech32 address the codec expects
// its caller's wallet field to carry, via the real walletaddr package.
func walletAddressForTest(t *testing.T, pubkeyCompressed []byte) string {
	t.Helper()
	addr, err := walletaddr.FromPubkey(testHRP, pubkeyCompressed)
	if err != nil {
		t.Fatalf("derive wallet address: %v", err)
	}
	return addr
}

// buildSealedRequest builds a full outer envelope for method/path/payload,
// signed by a freshly generated secp256k1 keypair, encrypted under the
// Codec's KEM public key.
func buildSealedRequest(t *testing.T, crypto *cryptoctx.Context, method, path string, payload any, nonce string, ts time.Time) ([]byte, string) {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate secp256k1 key: %v", err)
	}
	pubBytes := priv.PubKey().SerializeCompressed()
	wallet := walletAddressForTest(t, pubBytes)

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	payloadHash, err := payloadHashHex(json.RawMessage(payloadRaw))
	if err != nil {
		t.Fatalf("payload hash: %v", err)
	}

	canonical := canonicalString(method, path, nonce, ts.Unix(), payloadHash)
	hash := sha256.Sum256([]byte(canonical))
	sig := ecdsa.Sign(priv, hash[:])

	inner := innerEnvelope{
		Wallet:    wallet,
		Payload:   json.RawMessage(payloadRaw),
		Signature: base64.StdEncoding.EncodeToString(sig.Serialize()),
		Timestamp: ts.Unix(),
		Nonce:     nonce,
		Pubkey:    base64.StdEncoding.EncodeToString(pubBytes),
	}
	innerRaw, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner envelope: %v", err)
	}

	scheme := crypto.Scheme()
	// PublicKeyBytes/Scheme are exported on Context; re-derive the public key
	// object the same way Load does so Encapsulate has a kem.PublicKey.
	pubKey, err := scheme.UnmarshalBinaryPublicKey(crypto.PublicKeyBytes())
	if err != nil {
		t.Fatalf("unmarshal kem pubkey: %v", err)
	}
	kemCt, sharedSecret, err := scheme.Encapsulate(pubKey)
	if err != nil {
		t.Fatalf("kem encapsulate: %v", err)
	}

	key, err := deriveKey(sharedSecret)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("read iv: %v", err)
	}
	sealed := gcm.Seal(nil, iv, innerRaw, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	outer := OuterEnvelope{
		KemCt:      base64.StdEncoding.EncodeToString(kemCt),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}
	body, err := json.Marshal(outer)
	if err != nil {
		t.Fatalf("marshal outer envelope: %v", err)
	}
	return body, wallet
}

func TestCodec_OpenSealRoundTrip(t *testing.T) {
	crypto := loadTestContext(t)
	codec := New(crypto, testHRP)

	payload := map[string]any{"q": "hello"}
	body, wallet := buildSealedRequest(t, crypto, "POST", "/pq/search", payload, "nonce-1", time.Now())

	result, err := codec.Open("POST", "/pq/search", body)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if result.Wallet != wallet {
		t.Fatalf("expected wallet %q, got %q", wallet, result.Wallet)
	}

	var got map[string]any
	if err := json.Unmarshal(result.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got["q"] != "hello" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	sealedResp, err := Seal(result.Key, []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	block, err := aes.NewCipher(result.Key)
	if err != nil {
		t.Fatalf("aes cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	ciphertext, _ := base64.StdEncoding.DecodeString(sealedResp.Ciphertext)
	iv, _ := base64.StdEncoding.DecodeString(sealedResp.IV)
	tag, _ := base64.StdEncoding.DecodeString(sealedResp.Tag)
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		t.Fatalf("decrypt sealed response: %v", err)
	}
	if string(plaintext) != `{"ok":true}` {
		t.Fatalf("unexpected sealed plaintext: %s", plaintext)
	}
}

func TestCodec_OpenRejectsNonceReplay(t *testing.T) {
	crypto := loadTestContext(t)
	codec := New(crypto, testHRP)

	body, _ := buildSealedRequest(t, crypto, "POST", "/pin", map[string]any{"cid": "Qm123"}, "replay-nonce", time.Now())

	if _, err := codec.Open("POST", "/pin", body); err != nil {
		t.Fatalf("expected first Open to succeed, got %v", err)
	}

	body2, _ := buildSealedRequest(t, crypto, "POST", "/pin", map[string]any{"cid": "Qm123"}, "replay-nonce", time.Now())
	if _, err := codec.Open("POST", "/pin", body2); err == nil {
		t.Fatalf("expected second Open with the same nonce to be rejected as a replay")
	}
}

func TestCodec_OpenRejectsStaleTimestamp(t *testing.T) {
	crypto := loadTestContext(t)
	codec := New(crypto, testHRP)

	stale := time.Now().Add(-1 * time.Hour)
	body, _ := buildSealedRequest(t, crypto, "POST", "/pin", map[string]any{"cid": "Qm123"}, "nonce-stale", stale)

	if _, err := codec.Open("POST", "/pin", body); err == nil {
		t.Fatalf("expected a stale timestamp to be rejected")
	}
}
