package pqenvelope

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON renders v with sorted object keys and no insignificant
// whitespace, so payloadHash (spec.md §4.B step 6) is deterministic across
// client implementations. nil is rendered as the JSON literal null.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize decodes a json.RawMessage into generic values (maps, slices,
// scalars) so json.Marshal re-emits it with sorted map keys and no
// insignificant whitespace; an empty RawMessage becomes nil. Any other
// value is returned unchanged, so a struct keeps its field order.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.(json.RawMessage)
	if ok {
		if len(raw) == 0 {
			return nil, nil
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("normalize payload: %w", err)
		}
		return generic, nil
	}
	return v, nil
}

// payloadHashHex computes hex(sha256(canonicalJSON(payload))), treating a
// nil/empty payload as JSON null per spec.md §4.B step 6.
func payloadHashHex(payload any) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum[:]), nil
}

// canonicalString builds METHOD|PATH|nonce|timestamp|payloadHash exactly
// as spec.md §4.B step 7 specifies.
func canonicalString(method, path, nonce string, timestamp int64, payloadHash string) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", method, path, nonce, timestamp, payloadHash)
}

// sortedKeys returns m's keys in sorted order, for deterministic iteration
// over a map without re-marshaling.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
