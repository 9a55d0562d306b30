package cluster

import (
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/position"
)

func uniqueCategories(cs []*change.Change) map[change.Category]bool {
	out := make(map[change.Category]bool)
	for _, c := range cs {
		out[c.Category] = true
	}
	return out
}

func uniqueSources(cs []*change.Change) map[string]bool {
	out := make(map[string]bool)
	for _, c := range cs {
		out[c.Source] = true
	}
	return out
}

func modeCategory(cs []*change.Change) change.Category {
	counts := make(map[change.Category]int)
	var best change.Category
	bestCount := -1
	for _, c := range cs {
		counts[c.Category]++
		if counts[c.Category] > bestCount {
			bestCount = counts[c.Category]
			best = c.Category
		}
	}
	return best
}

func modeSource(cs []*change.Change) string {
	counts := make(map[string]int)
	best := ""
	bestCount := -1
	for _, c := range cs {
		counts[c.Source]++
		if counts[c.Source] > bestCount {
			bestCount = counts[c.Source]
			best = c.Source
		}
	}
	return best
}

// computeCentroid summarizes members per spec: category mode, source mode,
// mean confidence, mean position, hull span.
func computeCentroid(members []*change.Change) Centroid {
	if len(members) == 0 {
		return Centroid{}
	}
	sumConf := 0.0
	sumPos := 0.0
	positions := make([]position.Position, 0, len(members))
	for _, m := range members {
		sumConf += m.Confidence
		sumPos += float64(m.Position.Start+m.Position.End) / 2
		positions = append(positions, m.Position)
	}
	n := float64(len(members))
	return Centroid{
		Category:       modeCategory(members),
		Source:         modeSource(members),
		MeanConfidence: sumConf / n,
		MeanPosition:   sumPos / n,
		Span:           position.HullAll(positions),
	}
}

// computeMetrics derives the four [0,1] cluster-quality scores. universe is
// the full candidate set the clustering run started from, used as the
// denominator for diversity.
func computeMetrics(members []*change.Change, universe []*change.Change) Metrics {
	if len(members) == 0 {
		return Metrics{}
	}

	cats := uniqueCategories(members)
	srcs := uniqueSources(members)
	n := len(members)

	categoryCoherence := 1 - float64(len(cats)-1)/maxF(float64(n-1), 1)
	sourceCoherence := 1 - float64(len(srcs)-1)/maxF(float64(n-1), 1)
	coherence := (categoryCoherence + sourceCoherence) / 2

	sumConf := 0.0
	for _, m := range members {
		sumConf += m.Confidence
	}
	confidence := sumConf / float64(n)

	span := position.HullAll(positionsOf(members))
	spanChars := float64(span.Len())
	density := minF(1, float64(n)/maxF(spanChars/100, 1))

	allCats := uniqueCategories(universe)
	allSrcs := uniqueSources(universe)
	denom := float64(len(allCats) + len(allSrcs))
	diversity := 0.0
	if denom > 0 {
		diversity = float64(len(cats)+len(srcs)) / denom
	}

	return Metrics{
		Coherence:  clamp01(coherence),
		Confidence: clamp01(confidence),
		Density:    clamp01(density),
		Diversity:  clamp01(diversity),
	}
}

func positionsOf(cs []*change.Change) []position.Position {
	out := make([]position.Position, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Position)
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
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
