package consolidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/position"
)

func newEngine() (*Engine, *change.Store) {
	store := change.NewStore()
	bus := eventbus.New(nil)
	return New(store, bus), store
}

func sampleChange(id, source string, start, end int, priority int) *change.Change {
	return &change.Change{
		ID:         id,
		SessionID:  "s1",
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: end},
		Content:    change.Content{Before: "old", After: "new-" + id},
		Category:   change.CategoryGrammar,
		Source:     source,
		Confidence: 0.8,
		Timestamp:  time.Unix(int64(start), 0),
		Status:     change.StatusPending,
		Priority:   priority,
	}
}

func TestConsolidateNoConflictAdmitsDirectly(t *testing.T) {
	e, store := newEngine()
	out, err := e.Consolidate(Submission{Change: sampleChange("a", "p1", 0, 5, 3), Policy: DefaultPolicy()})
	require.NoError(t, err)
	require.NotNil(t, out.Admitted)
	assert.Equal(t, change.StatusPending, out.Admitted.Status)
	assert.Equal(t, 1, store.Count())
}

func TestConsolidatePriorityWinsHigherPriorityWins(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("low", "p1", 0, 10, 5), Policy: DefaultPolicy()})
	require.NoError(t, err)

	out, err := e.Consolidate(Submission{Change: sampleChange("high", "p2", 2, 8, 1), Policy: DefaultPolicy()})
	require.NoError(t, err)
	assert.Equal(t, "high", out.Admitted.ID)
	assert.Contains(t, out.SupersededIDs, "low")

	low, err := store.Get("low")
	require.NoError(t, err)
	assert.Equal(t, change.StatusSuperseded, low.Status)
}

func TestConsolidatePriorityWinsIncomingLoses(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("high", "p1", 0, 10, 1), Policy: DefaultPolicy()})
	require.NoError(t, err)

	out, err := e.Consolidate(Submission{Change: sampleChange("low", "p2", 2, 8, 5), Policy: DefaultPolicy()})
	require.NoError(t, err)
	assert.Equal(t, "high", out.Admitted.ID)
	assert.Contains(t, out.SupersededIDs, "low")

	low, err := store.Get("low")
	require.NoError(t, err)
	assert.Equal(t, change.StatusSuperseded, low.Status)
	require.NotNil(t, low.SupersededBy)
	assert.Equal(t, "high", *low.SupersededBy)
}

func TestConsolidatePriorityWinsRecordsAbsorptionOnWinnerAudit(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("low", "p1", 0, 10, 5), Policy: DefaultPolicy()})
	require.NoError(t, err)

	out, err := e.Consolidate(Submission{Change: sampleChange("high", "p2", 2, 8, 1), Policy: DefaultPolicy()})
	require.NoError(t, err)
	require.Equal(t, "high", out.Admitted.ID)

	high, err := store.Get("high")
	require.NoError(t, err)
	found := false
	for _, entry := range high.Audit {
		if entry.Action == "absorbed_contributor" {
			assert.Contains(t, entry.Reason, "low")
			found = true
		}
	}
	assert.True(t, found, "winner's audit trail should name the absorbed contributor")
}

func TestConsolidatePriorityWinsPublishesSupersededBeforeAdmitted(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("low", "p1", 0, 10, 5), Policy: DefaultPolicy()})
	require.NoError(t, err)

	var order []string
	e.bus.Subscribe(eventbus.TopicChangeSuperseded, func(eventbus.Event) error {
		order = append(order, "superseded")
		return nil
	})
	e.bus.Subscribe(eventbus.TopicChangeAdmitted, func(eventbus.Event) error {
		order = append(order, "admitted")
		return nil
	})

	_, err = e.Consolidate(Submission{Change: sampleChange("high", "p2", 2, 8, 1), Policy: DefaultPolicy()})
	require.NoError(t, err)

	require.Equal(t, []string{"superseded", "admitted"}, order)
	_, err = store.Get("low")
	require.NoError(t, err)
}

func TestConsolidateAutoDeferRejectsWhenAllConflictsOutrank(t *testing.T) {
	e, _ := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("high", "p1", 0, 10, 1), Policy: DefaultPolicy()})
	require.NoError(t, err)

	policy := DefaultPolicy()
	policy.AutoDefer = true
	out, err := e.Consolidate(Submission{Change: sampleChange("low", "p2", 2, 8, 5), Policy: policy})
	require.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Equal(t, ReasonDeferredToHigherPriority, out.Reason)
}

func TestConsolidateSequentialRecordsDependsOn(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("first", "p1", 0, 10, 3), Policy: DefaultPolicy()})
	require.NoError(t, err)

	policy := Policy{Strategy: StrategySequential}
	out, err := e.Consolidate(Submission{Change: sampleChange("second", "p2", 5, 15, 3), Policy: policy})
	require.NoError(t, err)
	require.NotNil(t, out.Admitted)
	assert.Equal(t, []string{"first"}, out.Admitted.DependsOn)

	stored, err := store.Get("second")
	require.NoError(t, err)
	assert.Equal(t, change.StatusPending, stored.Status)
}

func TestConsolidateUserChoiceLeavesBothPendingWithSharedGroup(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("a", "p1", 0, 10, 3), Policy: DefaultPolicy()})
	require.NoError(t, err)

	policy := Policy{Strategy: StrategyUserChoice}
	out, err := e.Consolidate(Submission{Change: sampleChange("b", "p2", 2, 8, 3), Policy: policy})
	require.NoError(t, err)
	require.NotEmpty(t, out.ConflictGroupID)

	a, err := store.Get("a")
	require.NoError(t, err)
	b, err := store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, change.StatusPending, a.Status)
	assert.Equal(t, change.StatusPending, b.Status)
	require.NotNil(t, a.ConflictGroupID)
	require.NotNil(t, b.ConflictGroupID)
	assert.Equal(t, *a.ConflictGroupID, *b.ConflictGroupID)
}

func TestConsolidateAutoMergeFoldsCompatibleCategories(t *testing.T) {
	e, store := newEngine()
	_, err := e.Consolidate(Submission{Change: sampleChange("a", "p1", 0, 10, 3), Policy: DefaultPolicy()})
	require.NoError(t, err)

	policy := Policy{Strategy: StrategyAutoMerge, AllowSemanticMerge: true}
	out, err := e.Consolidate(Submission{
		Change: sampleChange("b", "p2", 5, 15, 3),
		Policy: policy,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Admitted)
	assert.NotEqual(t, "a", out.Admitted.ID)
	assert.NotEqual(t, "b", out.Admitted.ID)
	assert.Equal(t, position.Position{Start: 0, End: 15}, out.Admitted.Position)
	assert.ElementsMatch(t, []string{"a", "b"}, out.SupersededIDs)
	assert.Equal(t, "old", out.Admitted.Content.Before)
	assert.NotEmpty(t, out.Admitted.Content.After)

	a, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, change.StatusSuperseded, a.Status)
	assert.Equal(t, 3, store.Count()) // a, b, merged
}

func TestConsolidateAutoMergeFallsBackWhenIncompatibleCategory(t *testing.T) {
	e, _ := newEngine()
	first := sampleChange("a", "p1", 0, 10, 3)
	first.Category = change.CategoryStructure
	_, err := e.Consolidate(Submission{Change: first, Policy: DefaultPolicy()})
	require.NoError(t, err)

	second := sampleChange("b", "p2", 5, 15, 3)
	second.Category = change.CategoryGrammar
	policy := Policy{Strategy: StrategyAutoMerge, AllowSemanticMerge: true}
	out, err := e.Consolidate(Submission{Change: second, Policy: policy})
	require.NoError(t, err)
	// incompatible categories -> falls back to PriorityWins, same priority
	// and same automated-ness -> earlier timestamp (a) wins.
	assert.Equal(t, "a", out.Admitted.ID)
}

func TestConsolidateIsIdempotentAcrossRetries(t *testing.T) {
	e, store := newEngine()
	sub := Submission{SubmissionID: "sub-1", Change: sampleChange("a", "p1", 0, 5, 3), Policy: DefaultPolicy()}
	out1, err := e.Consolidate(sub)
	require.NoError(t, err)

	out2, err := e.Consolidate(sub)
	require.NoError(t, err)
	assert.Same(t, out1, out2)
	assert.Equal(t, 1, store.Count())
}

type fakeConsolidateClock struct {
	now  time.Time
	step time.Duration
}

// Now returns the current fake time and then advances it by step, so a
// single Consolidate call observes time passing between its own reads.
func (c *fakeConsolidateClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestConsolidateDegradesOnTimeoutBudget(t *testing.T) {
	e, _ := newEngine()
	clock := &fakeConsolidateClock{now: time.Unix(0, 0)}
	e.WithClock(clock)
	e.DefaultTimeout = 1 * time.Millisecond

	_, err := e.Consolidate(Submission{Change: sampleChange("a", "p1", 0, 10, 3), Policy: DefaultPolicy()})
	require.NoError(t, err)

	clock.step = 10 * time.Second // each clock read inside the next call blows past the budget
	policy := Policy{Strategy: StrategyUserChoice}
	out, err := e.Consolidate(Submission{Change: sampleChange("b", "p2", 2, 8, 3), Policy: policy})
	require.NoError(t, err)
	assert.True(t, out.DegradedFromTimeout)
	// PriorityWins degrade with equal priority+automated -> earlier timestamp wins.
	assert.Equal(t, "a", out.Admitted.ID)
}
