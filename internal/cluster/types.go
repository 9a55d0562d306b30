// Package cluster implements the Clustering Engine: six strategies mapping
// a set of changes to derived, ephemeral groupings with per-cluster
// metrics. Clusters are views, not owned state — they are recomputed on
// demand or on a debounced change-event queue, never persisted themselves.
package cluster

import (
	"time"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/position"
)

// Strategy names one of the six clustering algorithms.
type Strategy string

const (
	StrategyCategory   Strategy = "Category"
	StrategyConfidence Strategy = "Confidence"
	StrategyProximity  Strategy = "Proximity"
	StrategySource     Strategy = "Source"
	StrategyHybrid     Strategy = "Hybrid"
	StrategyKMeans     Strategy = "KMeans"
)

// Config bounds and tunes every strategy.
type Config struct {
	MinClusterSize     int
	MaxClusterSize     int
	MaxClusters        int
	ProximityThreshold int // bytes

	// Hybrid similarity feature weights.
	WeightCategory   float64
	WeightSource     float64
	WeightConfidence float64
	WeightPosition   float64
}

// DefaultConfig matches the magnitudes implied by the clustering algorithms'
// default thresholds (0.7 absorption, 1000-byte position normalization).
func DefaultConfig() Config {
	return Config{
		MinClusterSize:     2,
		MaxClusterSize:     50,
		MaxClusters:        20,
		ProximityThreshold: 200,
		WeightCategory:      0.3,
		WeightSource:        0.2,
		WeightConfidence:    0.2,
		WeightPosition:      0.3,
	}
}

// Metrics are the four [0,1] cluster-quality scores.
type Metrics struct {
	Coherence  float64
	Confidence float64
	Density    float64
	Diversity  float64
}

// Centroid is the strategy-dependent summary of a cluster's members.
type Centroid struct {
	Category      change.Category
	Source        string
	MeanConfidence float64
	MeanPosition  float64
	Span          position.Position
}

// Cluster is a derived grouping of changes.
type Cluster struct {
	ID          string
	Strategy    Strategy
	MemberIDs   []string
	Centroid    Centroid
	Metrics     Metrics
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
