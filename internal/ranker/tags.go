package ranker

import (
	"encoding/json"

	"github.com/rawblock/lumen-gateway/internal/indexer"
)

// Tags is the parsed shape of a hit's tags_json (spec.md §4.H "Hit shape":
// "topics list + tokens histogram + optional title/description/
// content_class/signals").
type Tags struct {
	Topics        []string       `json:"topics"`
	Tokens        map[string]int `json:"tokens"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	ContentClass  string         `json:"content_class"`
	Signals       map[string]any `json:"signals"`
}

// ParseTags decodes a hit's tags_json, returning a zero-value Tags on any
// parse failure so callers can treat it as "no signal" rather than error.
func ParseTags(h indexer.Hit) Tags {
	var t Tags
	if len(h.TagsJSON) == 0 {
		return t
	}
	_ = json.Unmarshal(h.TagsJSON, &t)
	return t
}
