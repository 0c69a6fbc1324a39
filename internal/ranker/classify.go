// Package ranker implements component H of spec.md §4.H: query
// classification, plan building, candidate acquisition, relevance and
// network-signal scoring, heuristic suppression, site mode and CID-direct
// lookup.
package ranker

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent and Target are the two classifier outputs (spec.md §4.H).
type Intent string
type Target string

const (
	IntentNavigation Intent = "navigation"
	IntentQuestion   Intent = "question"
	IntentContent    Intent = "content"
	IntentDiscover   Intent = "discover"
	IntentDownload   Intent = "download"
	IntentAction     Intent = "action"
	IntentUnknown    Intent = "unknown"

	TargetSite  Target = "site"
	TargetImage Target = "image"
	TargetDoc   Target = "doc"
	TargetCode  Target = "code"
	TargetFile  Target = "file"
	TargetMedia Target = "media"
	TargetMixed Target = "mixed"
)

const confidenceFloor = 0.6

var nfdStrip = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize applies NFD diacritic stripping, lowercasing, and keeps only
// [a-z0-9 ?], collapsing whitespace (spec.md §4.H "query classification").
func Normalize(q string) string {
	folded, _, err := transform.String(nfdStrip, q)
	if err != nil {
		folded = q
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastSpace := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '?':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits a normalized query into its word tokens.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// wordCounts is a per-label word-conditional count table for the
// Naive-Bayes-like classifier: label -> word -> count.
type wordCounts map[string]map[string]int

// intentModel is a tiny hand-seeded word-count table. Scores are summed
// counts over the query's words per label, argmax wins, confidence =
// max/sum (spec.md §4.H).
var intentModel = wordCounts{
	string(IntentNavigation): {"go": 3, "open": 3, "site": 2, "home": 2, "homepage": 3, "visit": 2},
	string(IntentQuestion):   {"what": 3, "why": 3, "how": 3, "who": 3, "when": 3, "is": 1, "does": 2, "?": 2},
	string(IntentContent):    {"photo": 3, "photos": 3, "image": 3, "images": 3, "picture": 3, "video": 2, "gallery": 2},
	string(IntentDiscover):   {"explore": 3, "discover": 3, "browse": 2, "anything": 2, "random": 2},
	string(IntentDownload):   {"download": 3, "file": 2, "files": 2, "zip": 2, "archive": 2, "pdf": 2, "get": 1},
	string(IntentAction):     {"pin": 3, "unpin": 3, "upload": 3, "delete": 2, "rename": 2},
}

var targetModel = wordCounts{
	string(TargetSite):  {"site": 3, "website": 3, "homepage": 2, "domain": 2},
	string(TargetImage): {"image": 3, "images": 3, "photo": 3, "photos": 3, "picture": 2, "gallery": 2},
	string(TargetDoc):   {"doc": 3, "document": 3, "pdf": 3, "paper": 2, "article": 2, "report": 2},
	string(TargetCode):  {"code": 3, "repo": 3, "repository": 3, "source": 2, "script": 2},
	string(TargetFile):  {"file": 3, "files": 2, "archive": 2, "zip": 2, "download": 1},
	string(TargetMedia): {"video": 3, "videos": 3, "audio": 3, "music": 3, "song": 2, "movie": 2},
}

// classify runs the shared argmax-over-word-counts scheme against a model
// table, returning the winning label and its confidence, or "" if below
// confidenceFloor.
func classify(tokens []string, model wordCounts) (string, float64) {
	scores := make(map[string]int, len(model))
	total := 0
	for _, tok := range tokens {
		for label, counts := range model {
			if c, ok := counts[tok]; ok {
				scores[label] += c
				total += c
			}
		}
	}
	if total == 0 {
		return "", 0
	}

	bestLabel := ""
	bestScore := 0
	for label, score := range scores {
		if score > bestScore {
			bestScore = score
			bestLabel = label
		}
	}
	if bestLabel == "" {
		return "", 0
	}

	confidence := float64(bestScore) / float64(total)
	if confidence < confidenceFloor {
		return "", confidence
	}
	return bestLabel, confidence
}

// Classification is the combined query-classifier output.
type Classification struct {
	Query  string
	Tokens []string
	Intent Intent
	Target Target
}

// Classify normalizes q and runs both the intent and target classifiers.
func Classify(q string) Classification {
	normalized := Normalize(q)
	tokens := Tokens(normalized)

	intent := IntentUnknown
	if label, _ := classify(tokens, intentModel); label != "" {
		intent = Intent(label)
	}

	target := TargetMixed
	if label, _ := classify(tokens, targetModel); label != "" {
		target = Target(label)
	}

	return Classification{Query: normalized, Tokens: tokens, Intent: intent, Target: target}
}
