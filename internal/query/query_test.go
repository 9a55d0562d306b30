package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/position"
)

func sampleChange(id, source string, category change.Category, confidence float64, start int, ts time.Time) *change.Change {
	return &change.Change{
		ID:         id,
		SessionID:  "s1",
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: start + 5},
		Category:   category,
		Source:     source,
		Confidence: confidence,
		Timestamp:  ts,
		Status:     change.StatusPending,
		Content:    change.Content{Before: "hello world", After: "hello earth"},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBuilderFiltersByCategoryAndConfidence(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("a", "p1", change.CategoryGrammar, 0.9, 0, now)}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("b", "p1", change.CategoryStyle, 0.5, 10, now)}))

	ids, err := NewBuilder(idx).ByCategory("grammar").MinConfidence(0.8).IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestBuilderSortAndLimit(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("a", "p1", change.CategoryGrammar, 0.9, 0, now)}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("b", "p1", change.CategoryGrammar, 0.95, 10, now.Add(time.Second))}))

	ids, err := NewBuilder(idx).SortBy("timestamp_unix", SortDescending).Limit(1).IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestBuilderTextContainsExact(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	c := sampleChange("a", "p1", change.CategoryGrammar, 0.9, 0, now)
	c.Content = change.Content{Before: "the quick brown fox", After: "the slow brown fox"}
	require.NoError(t, idx.Upsert(IndexedChange{Change: c}))

	ids, err := NewBuilder(idx).TextContains(TextSearch{Query: "quick"}).IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestBuilderTextContainsFuzzy(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	c := sampleChange("a", "p1", change.CategoryGrammar, 0.9, 0, now)
	c.Content = change.Content{Before: "recieve the package", After: "receive the package"}
	require.NoError(t, idx.Upsert(IndexedChange{Change: c}))

	ids, err := NewBuilder(idx).TextContains(TextSearch{Query: "receive", Fuzzy: true, MaxEditDist: 2}).IDs()
	require.NoError(t, err)
	assert.Contains(t, ids, "a")
}

func TestBuilderWithValidationWarningsAndThreats(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("a", "p1", change.CategoryGrammar, 0.9, 0, now), HasWarnings: true}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("b", "p1", change.CategoryGrammar, 0.9, 10, now), HasThreats: true}))

	warned, err := NewBuilder(idx).WithValidationWarnings().IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, warned)

	threatened, err := NewBuilder(idx).WithSecurityThreats().IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, threatened)
}

func TestGroupByCategoryComputesPercentageAndAverage(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Unix(1000, 0)
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("a", "p1", change.CategoryGrammar, 0.8, 0, now)}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("b", "p1", change.CategoryGrammar, 1.0, 10, now)}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("c", "p1", change.CategoryStyle, 0.5, 20, now)}))

	groups, err := NewBuilder(idx).GroupBy("category")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	var grammar GroupResult
	for _, g := range groups {
		if g.Key == "grammar" {
			grammar = g
		}
	}
	assert.Equal(t, 2, grammar.Count)
	assert.InDelta(t, 66.67, grammar.Percentage, 0.1)
	assert.InDelta(t, 0.9, grammar.AvgConfidence, 0.001)
}

func TestTimelineBucketsByHour(t *testing.T) {
	idx := newTestIndex(t)
	base := time.Unix(0, 0)
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("a", "p1", change.CategoryGrammar, 0.8, 0, base)}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("b", "p1", change.CategoryGrammar, 0.8, 10, base.Add(30 * time.Minute))}))
	require.NoError(t, idx.Upsert(IndexedChange{Change: sampleChange("c", "p1", change.CategoryGrammar, 0.8, 20, base.Add(2 * time.Hour))}))

	buckets, err := NewBuilder(idx).Timeline(UnitHour, true)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, 0, buckets[1].Count)
	assert.Equal(t, 1, buckets[2].Count)
}

func TestExportCSVUsesConfiguredColumns(t *testing.T) {
	changes := []*change.Change{sampleChange("a", "p1", change.CategoryGrammar, 0.8, 0, time.Unix(1000, 0))}
	out, err := Export(changes, FormatCSV, ExportOptions{Columns: []string{"id", "source"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), "id,source")
	assert.Contains(t, string(out), "a,p1")
}

func TestExportMarkdownIncludesHeaderStats(t *testing.T) {
	changes := []*change.Change{sampleChange("a", "p1", change.CategoryGrammar, 0.8, 0, time.Unix(1000, 0))}
	out, err := Export(changes, FormatMarkdown, ExportOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1 changes")
	assert.Contains(t, string(out), "average confidence")
}

func TestResultCacheInvalidatesOnMutationEvent(t *testing.T) {
	bus := eventbus.New(nil)
	cache := NewResultCache(time.Minute, bus)
	now := time.Unix(0, 0)
	cache.Put("fp1", []string{"a"}, now)

	_, ok := cache.Get("fp1", now)
	assert.True(t, ok)

	bus.Publish(eventbus.TopicChangeAdmitted, "a")
	bus.Drain()

	_, ok = cache.Get("fp1", now)
	assert.False(t, ok)
}

func TestResultCacheExpiresOnTTL(t *testing.T) {
	bus := eventbus.New(nil)
	cache := NewResultCache(time.Second, bus)
	now := time.Unix(0, 0)
	cache.Put("fp1", []string{"a"}, now)

	_, ok := cache.Get("fp1", now.Add(2*time.Second))
	assert.False(t, ok)
}
