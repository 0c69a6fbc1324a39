package ranker

import (
	"math"
	"strings"

	"github.com/rawblock/lumen-gateway/internal/indexer"
)

const (
	exactTermWeight   = 10
	topicMatchScore   = 100
	kindInTokensScore = 200
	cidTokenBonus     = 1000
	relevanceDecay    = 120.0
)

// ContentRelevance scores hit against query tokens q (spec.md §4.H "Content
// relevance"), returning the normalized relevance r in [0,1] and whether the
// hit counts as a content match at all.
func ContentRelevance(q []string, hit indexer.Hit, tags Tags) (float64, bool) {
	matched := false
	raw := 0.0

	for _, term := range q {
		if len(term) < 3 {
			continue
		}
		best := 0.0
		hitTerm := false

		if count, ok := tags.Tokens[term]; ok {
			best = float64(count) * exactTermWeight
			hitTerm = true
		} else {
			for t, count := range tags.Tokens {
				if len(t) < 3 {
					continue
				}
				if !strings.Contains(t, term) && !strings.Contains(term, t) {
					continue
				}
				shorter := len(term)
				if len(t) < shorter {
					shorter = len(t)
				}
				longer := len(term)
				if len(t) > longer {
					longer = len(t)
				}
				coverage := float64(shorter) / float64(len(term))
				_ = longer
				if coverage < 0.5 {
					continue
				}
				partial := float64(count) * exactTermWeight * coverage
				if partial > best {
					best = partial
					hitTerm = true
				}
			}
		}

		for _, topic := range tags.Topics {
			if strings.EqualFold(topic, term) {
				best += topicMatchScore
				hitTerm = true
			}
		}

		if hitTerm {
			matched = true
		}
		raw += best
	}

	if _, ok := tags.Tokens[hit.Kind]; ok && hit.Kind != "" {
		raw += kindInTokensScore
	}

	raw += hit.Confidence * 10
	switch {
	case hit.Confidence < 0.1:
		raw -= 3000
	case hit.Confidence < 0.2:
		raw -= 2000
	case hit.Confidence < 0.3:
		raw -= 1000
	}

	if len(q) == 1 && q[0] == strings.ToLower(hit.CID) {
		raw += cidTokenBonus
		matched = true
	}

	if !matched {
		return 0, false
	}

	r := clamp01(1 - math.Exp(-raw/relevanceDecay))
	return r, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
