package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/position"
)

func ch(id string, cat change.Category, src string, start, end int, conf float64) *change.Change {
	return &change.Change{
		ID:         id,
		SessionID:  "s1",
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: end},
		Category:   cat,
		Source:     src,
		Confidence: conf,
		Timestamp:  time.Unix(int64(start), 0),
		Status:     change.StatusPending,
	}
}

func TestClusterCategoryGroupsAndDropsUndersized(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "p1", 0, 5, 0.8),
		ch("b", change.CategoryGrammar, "p1", 10, 15, 0.8),
		ch("c", change.CategoryStyle, "p1", 20, 25, 0.8), // lone style -> dropped
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := Cluster(changes, StrategyCategory, cfg)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, clusters[0].MemberIDs)
}

func TestClusterConfidenceBands(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "p1", 0, 5, 0.95),
		ch("b", change.CategoryGrammar, "p1", 10, 15, 0.92),
		ch("c", change.CategoryGrammar, "p1", 20, 25, 0.3), // below all bands
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := Cluster(changes, StrategyConfidence, cfg)
	require.Len(t, clusters, 1)
	assert.Equal(t, "High confidence", clusters[0].Title)
	assert.ElementsMatch(t, []string{"a", "b"}, clusters[0].MemberIDs)
}

func TestClusterProximitySweep(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "p1", 0, 10, 0.8),
		ch("b", change.CategoryGrammar, "p2", 15, 20, 0.8),  // gap 5, within threshold
		ch("c", change.CategoryGrammar, "p3", 500, 510, 0.8), // far away
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	cfg.ProximityThreshold = 50
	clusters := Cluster(changes, StrategyProximity, cfg)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, clusters[0].MemberIDs)
}

func TestClusterSourceGroups(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "producer-x", 0, 5, 0.8),
		ch("b", change.CategoryStyle, "producer-x", 50, 55, 0.8),
		ch("c", change.CategoryGrammar, "producer-y", 100, 105, 0.8),
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := Cluster(changes, StrategySource, cfg)
	require.Len(t, clusters, 1)
	assert.Equal(t, "producer-x", clusters[0].Centroid.Source)
}

func TestClusterHybridAgglomerates(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "producer-x", 0, 5, 0.8),
		ch("b", change.CategoryGrammar, "producer-x", 2, 7, 0.81),
		ch("c", change.CategoryStructure, "producer-z", 5000, 5010, 0.2),
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := Cluster(changes, StrategyHybrid, cfg)
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, clusters[0].MemberIDs)
}

func TestClusterKMeansProducesAtLeastTwoGroups(t *testing.T) {
	var changes []*change.Change
	for i := 0; i < 10; i++ {
		changes = append(changes, ch(string(rune('a'+i)), change.CategoryGrammar, "p1", i*1000, i*1000+5, 0.8))
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	cfg.MaxClusters = 4
	clusters := Cluster(changes, StrategyKMeans, cfg)
	assert.NotEmpty(t, clusters)
}

func TestMetricsAreWithinUnitRange(t *testing.T) {
	changes := []*change.Change{
		ch("a", change.CategoryGrammar, "p1", 0, 5, 0.8),
		ch("b", change.CategoryStyle, "p1", 10, 15, 0.6),
	}
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := Cluster(changes, StrategySource, cfg)
	require.Len(t, clusters, 1)
	m := clusters[0].Metrics
	for _, v := range []float64{m.Coherence, m.Confidence, m.Density, m.Diversity} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestEngineAdmitAbsorbsIntoExistingCluster(t *testing.T) {
	store := change.NewStore()
	bus := eventbus.New(nil)
	a := ch("a", change.CategoryGrammar, "producer-x", 0, 5, 0.8)
	b := ch("b", change.CategoryGrammar, "producer-x", 10, 15, 0.82)
	require.NoError(t, store.Insert(a))
	require.NoError(t, store.Insert(b))

	e := New(store, bus)
	cfg := DefaultConfig()
	cfg.MinClusterSize = 2
	clusters := e.Run("s1", StrategySource, cfg)
	require.Len(t, clusters, 1)

	c := ch("c", change.CategoryGrammar, "producer-x", 20, 25, 0.81)
	updated := e.Admit(c, cfg)
	require.Len(t, updated, 1)
	assert.Contains(t, updated[0].MemberIDs, "c")
}

func TestEngineAdmitCreatesSingletonWhenNoMatch(t *testing.T) {
	store := change.NewStore()
	bus := eventbus.New(nil)
	e := New(store, bus)
	cfg := DefaultConfig()

	c := ch("solo", change.CategoryGrammar, "producer-x", 0, 5, 0.8)
	updated := e.Admit(c, cfg)
	require.Len(t, updated, 1)
	assert.Equal(t, "singleton", updated[0].Title)
}

type fakeClusterClock struct{ now time.Time }

func (c *fakeClusterClock) Now() time.Time { return c.now }

func TestEngineFlushRespectsDebounceWindow(t *testing.T) {
	store := change.NewStore()
	bus := eventbus.New(nil)
	e := New(store, bus)
	clock := &fakeClusterClock{now: time.Unix(0, 0)}
	e.WithClock(clock)

	e.Enqueue(ch("a", change.CategoryGrammar, "p1", 0, 5, 0.8))
	assert.False(t, e.Flush(DefaultConfig()))

	clock.now = clock.now.Add(e.DebounceWindow + time.Millisecond)
	assert.True(t, e.Flush(DefaultConfig()))
	assert.Empty(t, e.queued)
}
