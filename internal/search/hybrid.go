package search

import (
	"math"
	"sort"
)

// rrfK is the reciprocal rank fusion constant. 60 is the value from the
// original RRF paper and dampens the gap between top ranks enough that a
// result placing well in both channels beats one that tops a single channel.
const rrfK = 60

// absentRank stands in for a missing channel rank when comparing combined
// rank sums during tie-breaking.
const absentRank = math.MaxInt32

// FusedHit is one highlight after rank fusion, ordered best first.
type FusedHit struct {
	HighlightID  string
	Score        float64 // RRF score
	SemanticRank int     // 1-based rank in the semantic list, 0 if absent
	KeywordRank  int     // 1-based rank in the keyword list, 0 if absent
}

// KeywordMatched reports whether the lexical channel returned this hit.
func (h FusedHit) KeywordMatched() bool {
	return h.KeywordRank > 0
}

// Similarity maps the RRF score onto a bounded 0..1 scale for display.
// A result ranked first in both channels scores 2/61 ≈ 0.0328, which the
// factor of 30 stretches to roughly 0.98; the cap keeps the value in range.
func (h FusedHit) Similarity() float64 {
	return math.Min(h.Score*30, 1.0)
}

// Fuse merges the two ranked ID lists with reciprocal rank fusion.
// Each list is ordered best first; a highlight's score is the sum of
// 1/(60+rank) over the lists that contain it.
//
// Ordering is deterministic: higher RRF score first, then lower combined
// rank sum (a missing rank counts as very large), then highlight ID.
func Fuse(semanticIDs, keywordIDs []string) []FusedHit {
	byID := make(map[string]*FusedHit, len(semanticIDs)+len(keywordIDs))

	for i, id := range semanticIDs {
		rank := i + 1
		byID[id] = &FusedHit{
			HighlightID:  id,
			Score:        1.0 / float64(rrfK+rank),
			SemanticRank: rank,
		}
	}
	for i, id := range keywordIDs {
		rank := i + 1
		if hit, ok := byID[id]; ok {
			hit.Score += 1.0 / float64(rrfK+rank)
			hit.KeywordRank = rank
		} else {
			byID[id] = &FusedHit{
				HighlightID: id,
				Score:       1.0 / float64(rrfK+rank),
				KeywordRank: rank,
			}
		}
	}

	fused := make([]FusedHit, 0, len(byID))
	for _, hit := range byID {
		fused = append(fused, *hit)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		si, sj := rankSum(fused[i]), rankSum(fused[j])
		if si != sj {
			return si < sj
		}
		return fused[i].HighlightID < fused[j].HighlightID
	})

	return fused
}

func rankSum(h FusedHit) int {
	sum := 0
	if h.SemanticRank > 0 {
		sum += h.SemanticRank
	} else {
		sum += absentRank
	}
	if h.KeywordRank > 0 {
		sum += h.KeywordRank
	} else {
		sum += absentRank
	}
	return sum
}
