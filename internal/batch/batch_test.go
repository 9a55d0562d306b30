package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/position"
)

func sampleChange(id, source string, start, end int) *change.Change {
	return &change.Change{
		ID:         id,
		SessionID:  "s1",
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: end},
		Category:   change.CategoryGrammar,
		Source:     source,
		Confidence: 0.8,
		Timestamp:  time.Unix(int64(start), 0),
		Status:     change.StatusPending,
	}
}

func newManager(t *testing.T) (*Manager, *change.Store) {
	t.Helper()
	store := change.NewStore()
	bus := eventbus.New(nil)
	return New(store, bus), store
}

func TestFoldAllAcceptedIsAccepted(t *testing.T) {
	assert.Equal(t, StatusAccepted, Fold([]change.Status{change.StatusAccepted, change.StatusAccepted}))
}

func TestFoldAllRejectedIsRejected(t *testing.T) {
	assert.Equal(t, StatusRejected, Fold([]change.Status{change.StatusRejected, change.StatusRejected}))
}

func TestFoldMixedWhenPendingAndTerminalCoexist(t *testing.T) {
	assert.Equal(t, StatusMixed, Fold([]change.Status{change.StatusPending, change.StatusAccepted}))
}

func TestFoldAllPendingIsPending(t *testing.T) {
	assert.Equal(t, StatusPending, Fold([]change.Status{change.StatusPending, change.StatusPending}))
}

func TestAutoGroupUnderLimitProducesOneLeafGroup(t *testing.T) {
	m, store := newManager(t)
	changes := []*change.Change{
		sampleChange("a", "p1", 0, 5),
		sampleChange("b", "p1", 10, 15),
	}
	for _, c := range changes {
		require.NoError(t, store.Insert(c))
	}

	cfg := DefaultConfig()
	g := m.AutoGroup(changes, OperationCopyEditPass, GroupingProximity, cfg)
	require.NotNil(t, g)
	assert.Empty(t, g.ChildGroupIDs)
	assert.ElementsMatch(t, []string{"a", "b"}, g.MemberIDs)
	assert.Equal(t, 0, g.PositionRange.Start)
	assert.Equal(t, 15, g.PositionRange.End)

	stored, err := store.Get("a")
	require.NoError(t, err)
	require.NotNil(t, stored.GroupID)
	assert.Equal(t, g.GroupID, *stored.GroupID)
}

func TestAutoGroupOverLimitSplitsIntoHierarchy(t *testing.T) {
	m, store := newManager(t)
	var changes []*change.Change
	for i := 0; i < 7; i++ {
		c := sampleChange(string(rune('a'+i)), "p1", i*10, i*10+5)
		changes = append(changes, c)
		require.NoError(t, store.Insert(c))
	}

	cfg := DefaultConfig()
	cfg.MaxChangesPerGroup = 3

	parent := m.AutoGroup(changes, OperationProofreading, GroupingProximity, cfg)
	require.NotNil(t, parent)
	require.Len(t, parent.ChildGroupIDs, 3) // 3+3+1
	assert.Empty(t, parent.MemberIDs)

	total := 0
	for _, childID := range parent.ChildGroupIDs {
		child, ok := m.Get(childID)
		require.True(t, ok)
		assert.Equal(t, parent.GroupID, *child.ParentGroupID)
		assert.LessOrEqual(t, len(child.MemberIDs), cfg.MaxChangesPerGroup)
		total += len(child.MemberIDs)
	}
	assert.Equal(t, 7, total)
	assert.Equal(t, 0, parent.PositionRange.Start)
	assert.Equal(t, 65, parent.PositionRange.End)
}

func TestAcceptBatchTransitionsAllPendingMembers(t *testing.T) {
	m, store := newManager(t)
	changes := []*change.Change{
		sampleChange("a", "p1", 0, 5),
		sampleChange("b", "p1", 10, 15),
	}
	for _, c := range changes {
		require.NoError(t, store.Insert(c))
	}
	g := m.AutoGroup(changes, OperationCopyEditPass, GroupingProximity, DefaultConfig())

	require.NoError(t, m.AcceptBatch(g.GroupID, "editor1", "looks good"))

	a, _ := store.Get("a")
	b, _ := store.Get("b")
	assert.Equal(t, change.StatusAccepted, a.Status)
	assert.Equal(t, change.StatusAccepted, b.Status)

	got, _ := m.Get(g.GroupID)
	assert.Equal(t, StatusAccepted, got.Status)
}

func TestRejectBatchTransitionsAllPendingMembers(t *testing.T) {
	m, store := newManager(t)
	changes := []*change.Change{
		sampleChange("a", "p1", 0, 5),
		sampleChange("b", "p1", 10, 15),
	}
	for _, c := range changes {
		require.NoError(t, store.Insert(c))
	}
	g := m.AutoGroup(changes, OperationCopyEditPass, GroupingProximity, DefaultConfig())

	require.NoError(t, m.RejectBatch(g.GroupID, "editor1", "not aligned"))

	got, _ := m.Get(g.GroupID)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestAcceptBatchRecursesIntoChildren(t *testing.T) {
	m, store := newManager(t)
	var changes []*change.Change
	for i := 0; i < 5; i++ {
		c := sampleChange(string(rune('a'+i)), "p1", i*10, i*10+5)
		changes = append(changes, c)
		require.NoError(t, store.Insert(c))
	}
	cfg := DefaultConfig()
	cfg.MaxChangesPerGroup = 2
	parent := m.AutoGroup(changes, OperationProofreading, GroupingProximity, cfg)

	require.NoError(t, m.AcceptBatch(parent.GroupID, "editor1", ""))

	for _, c := range changes {
		stored, err := store.Get(c.ID)
		require.NoError(t, err)
		assert.Equal(t, change.StatusAccepted, stored.Status)
	}
	got, _ := m.Get(parent.GroupID)
	assert.Equal(t, StatusAccepted, got.Status)
}

func TestPartialReviewYieldsMixedStatus(t *testing.T) {
	m, store := newManager(t)
	changes := []*change.Change{
		sampleChange("a", "p1", 0, 5),
		sampleChange("b", "p1", 10, 15),
		sampleChange("c", "p1", 20, 25),
	}
	for _, c := range changes {
		require.NoError(t, store.Insert(c))
	}
	g := m.AutoGroup(changes, OperationCopyEditPass, GroupingProximity, DefaultConfig())

	require.NoError(t, m.PartialReview(g.GroupID, []PerChangeDecision{
		{ChangeID: "a", Accept: true, Actor: "editor1"},
		{ChangeID: "b", Accept: false, Actor: "editor1"},
	}))

	got, _ := m.Get(g.GroupID)
	assert.Equal(t, StatusMixed, got.Status)

	a, _ := store.Get("a")
	b, _ := store.Get("b")
	c, _ := store.Get("c")
	assert.Equal(t, change.StatusAccepted, a.Status)
	assert.Equal(t, change.StatusRejected, b.Status)
	assert.Equal(t, change.StatusPending, c.Status)
}

func TestPartialReviewIgnoresAlreadyTerminalMembers(t *testing.T) {
	m, store := newManager(t)
	changes := []*change.Change{
		sampleChange("a", "p1", 0, 5),
		sampleChange("b", "p1", 10, 15),
	}
	for _, c := range changes {
		require.NoError(t, store.Insert(c))
	}
	g := m.AutoGroup(changes, OperationCopyEditPass, GroupingProximity, DefaultConfig())
	require.NoError(t, m.AcceptBatch(g.GroupID, "editor1", ""))

	// b is already Accepted; retrying a reject decision on it must be a no-op.
	require.NoError(t, m.PartialReview(g.GroupID, []PerChangeDecision{
		{ChangeID: "b", Accept: false, Actor: "editor2"},
	}))

	b, _ := store.Get("b")
	assert.Equal(t, change.StatusAccepted, b.Status)
}

func TestAcceptBatchUnknownGroupReturnsError(t *testing.T) {
	m, _ := newManager(t)
	err := m.AcceptBatch("no-such-group", "editor1", "")
	assert.Error(t, err)
}
