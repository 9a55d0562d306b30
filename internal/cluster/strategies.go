package cluster

import (
	"sort"

	"github.com/writerr/changepipeline/internal/change"
)

// memberGroup is the common intermediate shape every strategy assembles
// before centroid/metrics computation and id/title assignment.
type memberGroup struct {
	members []*change.Change
	title   string
}

func clusterCategory(universe []*change.Change, cfg Config) []memberGroup {
	byCat := make(map[change.Category][]*change.Change)
	for _, c := range universe {
		byCat[c.Category] = append(byCat[c.Category], c)
	}

	var groups []memberGroup
	for cat, members := range byCat {
		if len(members) < cfg.MinClusterSize {
			continue
		}
		if len(members) <= 2*cfg.MinClusterSize {
			groups = append(groups, memberGroup{members: members, title: string(cat)})
			continue
		}
		// Sub-cluster by confidence band within this category.
		bands := bandConfidence(members)
		for label, bm := range bands {
			if len(bm) < cfg.MinClusterSize {
				continue
			}
			groups = append(groups, memberGroup{members: bm, title: string(cat) + "/" + label})
		}
	}
	return groups
}

func bandConfidence(cs []*change.Change) map[string][]*change.Change {
	bands := map[string][]*change.Change{}
	for _, c := range cs {
		label := confidenceBand(c.Confidence)
		if label == "" {
			continue
		}
		bands[label] = append(bands[label], c)
	}
	return bands
}

// confidenceBand returns the spec's four band labels, or "" for <0.5 (the
// Category strategy's sub-clustering drops those; the Confidence strategy
// below simply has no band for them either).
func confidenceBand(conf float64) string {
	switch {
	case conf >= 0.9:
		return "High"
	case conf >= 0.7:
		return "Medium"
	case conf >= 0.5:
		return "Low"
	default:
		return ""
	}
}

func clusterConfidence(universe []*change.Change, cfg Config) []memberGroup {
	bands := bandConfidence(universe)
	order := []string{"High", "Medium", "Low"}
	var groups []memberGroup
	for _, label := range order {
		members := bands[label]
		if len(members) < cfg.MinClusterSize {
			continue
		}
		groups = append(groups, memberGroup{members: members, title: label + " confidence"})
	}
	return groups
}

func clusterProximity(universe []*change.Change, cfg Config) []memberGroup {
	sorted := append([]*change.Change(nil), universe...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position.Start < sorted[j].Position.Start })

	var groups []memberGroup
	var current []*change.Change
	for _, c := range sorted {
		if len(current) == 0 {
			current = append(current, c)
			continue
		}
		last := current[len(current)-1]
		gap := c.Position.Start - last.Position.End
		if gap < 0 {
			gap = 0
		}
		if gap <= cfg.ProximityThreshold && len(current) < cfg.MaxClusterSize {
			current = append(current, c)
			continue
		}
		groups = append(groups, memberGroup{members: current, title: "proximity group"})
		current = []*change.Change{c}
	}
	if len(current) > 0 {
		groups = append(groups, memberGroup{members: current, title: "proximity group"})
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.members) >= cfg.MinClusterSize {
			out = append(out, g)
		}
	}
	return out
}

func clusterSource(universe []*change.Change, cfg Config) []memberGroup {
	bySrc := make(map[string][]*change.Change)
	for _, c := range universe {
		bySrc[c.Source] = append(bySrc[c.Source], c)
	}
	var groups []memberGroup
	for src, members := range bySrc {
		if len(members) < cfg.MinClusterSize {
			continue
		}
		groups = append(groups, memberGroup{members: members, title: src})
	}
	return groups
}

// similarity computes the Hybrid strategy's weighted pairwise score.
func similarity(a, b *change.Change, cfg Config) float64 {
	var weighted, totalWeight float64

	add := func(weight, score float64) {
		weighted += weight * score
		totalWeight += weight
	}

	add(cfg.WeightCategory, boolScore(a.Category == b.Category))
	add(cfg.WeightSource, boolScore(a.Source == b.Source))
	add(cfg.WeightConfidence, 1-absF(a.Confidence-b.Confidence))

	threshold := float64(cfg.ProximityThreshold)
	if threshold <= 0 {
		threshold = 1
	}
	deltaPos := absF(float64(a.Position.Start - b.Position.Start))
	add(cfg.WeightPosition, maxF(0, 1-deltaPos/threshold))

	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// clusterHybrid greedily agglomerates: iterating unprocessed changes in id
// order, each absorbs every other unprocessed change scoring above 0.7
// against it.
func clusterHybrid(universe []*change.Change, cfg Config) []memberGroup {
	sorted := append([]*change.Change(nil), universe...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	processed := make(map[string]bool, len(sorted))
	var groups []memberGroup
	for _, seed := range sorted {
		if processed[seed.ID] {
			continue
		}
		processed[seed.ID] = true
		members := []*change.Change{seed}
		for _, candidate := range sorted {
			if processed[candidate.ID] {
				continue
			}
			if similarity(seed, candidate, cfg) > 0.7 {
				processed[candidate.ID] = true
				members = append(members, candidate)
			}
		}
		if len(members) < cfg.MinClusterSize {
			continue
		}
		groups = append(groups, memberGroup{members: members, title: "hybrid group"})
	}
	return groups
}

// weightedDistance is the K-means-inspired strategy's assignment metric.
func weightedDistance(c *change.Change, centroid Centroid, cfg Config) float64 {
	catTerm := boolScore(c.Category != centroid.Category)
	srcTerm := boolScore(c.Source != centroid.Source)
	confTerm := absF(c.Confidence - centroid.MeanConfidence)
	posTerm := absF(float64((c.Position.Start+c.Position.End)/2)-centroid.MeanPosition) / 1000

	return cfg.WeightCategory*catTerm + cfg.WeightSource*srcTerm + cfg.WeightConfidence*confTerm + cfg.WeightPosition*posTerm
}

// clusterKMeans runs the bounded-iteration, k-means++-seeded assignment
// loop described for the K-means-inspired strategy.
func clusterKMeans(universe []*change.Change, cfg Config) []memberGroup {
	n := len(universe)
	if n == 0 {
		return nil
	}
	k := n / cfg.MinClusterSize
	if k < 2 {
		k = 2
	}
	if k > cfg.MaxClusters {
		k = cfg.MaxClusters
	}
	if k > n {
		k = n
	}

	sorted := append([]*change.Change(nil), universe...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	centroids := seedCentroidsKMeansPlusPlus(sorted, k)

	var assignment map[string]int
	for iter := 0; iter < 10; iter++ {
		assignment = make(map[string]int, len(sorted))
		for _, c := range sorted {
			best := 0
			bestDist := weightedDistance(c, centroids[0], cfg)
			for i := 1; i < len(centroids); i++ {
				d := weightedDistance(c, centroids[i], cfg)
				if d < bestDist {
					bestDist = d
					best = i
				}
			}
			assignment[c.ID] = best
		}

		next := make([]Centroid, len(centroids))
		converged := true
		for i := range centroids {
			var members []*change.Change
			for _, c := range sorted {
				if assignment[c.ID] == i {
					members = append(members, c)
				}
			}
			if len(members) == 0 {
				next[i] = centroids[i]
				continue
			}
			next[i] = computeCentroid(members)
			if !centroidConverged(centroids[i], next[i]) {
				converged = false
			}
		}
		centroids = next
		if converged {
			break
		}
	}

	byCentroid := make(map[int][]*change.Change)
	for _, c := range sorted {
		byCentroid[assignment[c.ID]] = append(byCentroid[assignment[c.ID]], c)
	}

	var groups []memberGroup
	for i := 0; i < len(centroids); i++ {
		members := byCentroid[i]
		if len(members) < cfg.MinClusterSize {
			continue
		}
		groups = append(groups, memberGroup{members: members, title: "k-means group"})
	}
	return groups
}

func centroidConverged(a, b Centroid) bool {
	deltaPos := absF(a.MeanPosition - b.MeanPosition)
	return deltaPos < 10 && a.Category == b.Category && a.Source == b.Source && absF(a.MeanConfidence-b.MeanConfidence) < 0.01
}

// seedCentroidsKMeansPlusPlus picks k initial centroids using k-means++ over
// absolute position distance: the first seed is the first change by id
// order (deterministic), each subsequent seed is the change maximizing
// distance to its nearest already-chosen seed.
func seedCentroidsKMeansPlusPlus(sorted []*change.Change, k int) []Centroid {
	if len(sorted) == 0 {
		return nil
	}
	chosen := []*change.Change{sorted[0]}
	for len(chosen) < k && len(chosen) < len(sorted) {
		var farthest *change.Change
		farthestDist := -1.0
		for _, c := range sorted {
			if containsChange(chosen, c) {
				continue
			}
			minDist := -1.0
			for _, s := range chosen {
				d := absF(float64(c.Position.Start - s.Position.Start))
				if minDist < 0 || d < minDist {
					minDist = d
				}
			}
			if minDist > farthestDist {
				farthestDist = minDist
				farthest = c
			}
		}
		if farthest == nil {
			break
		}
		chosen = append(chosen, farthest)
	}

	centroids := make([]Centroid, len(chosen))
	for i, c := range chosen {
		centroids[i] = computeCentroid([]*change.Change{c})
	}
	return centroids
}

func containsChange(cs []*change.Change, target *change.Change) bool {
	for _, c := range cs {
		if c.ID == target.ID {
			return true
		}
	}
	return false
}
