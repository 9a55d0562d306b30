package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/pipelineerr"
	"github.com/writerr/changepipeline/internal/position"
)

func sampleChange(id string, ts time.Time) *Change {
	return &Change{
		ID:        id,
		SessionID: "sess-1",
		Type:      TypeReplace,
		Position:  position.Position{Start: 0, End: 5},
		Content:   Content{Before: "world", After: "Earth"},
		Category:  CategoryGrammar,
		Source:    "producer-a",
		Confidence: 0.8,
		Timestamp: ts,
		Status:    StatusPending,
		Audit:     []AuditEntry{},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := NewStore()
	c := sampleChange("c1", time.Now())
	require.NoError(t, s.Insert(c))

	got, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	// Mutating the returned clone must not affect the store.
	got.Status = StatusAccepted
	again, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
}

func TestInsertDuplicate(t *testing.T) {
	s := NewStore()
	c := sampleChange("c1", time.Now())
	require.NoError(t, s.Insert(c))
	err := s.Insert(c)
	require.Error(t, err)
	var pe *pipelineerr.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipelineerr.CodeDuplicateID, pe.Code)
}

func TestUpdateStatusTransitions(t *testing.T) {
	s := NewStore()
	c := sampleChange("c1", time.Now())
	require.NoError(t, s.Insert(c))

	updated, changed, err := s.UpdateStatus("c1", StatusAccepted, "user-1", "looks good")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusAccepted, updated.Status)
	assert.Len(t, updated.Audit, 1)

	// idempotent re-accept
	again, changed, err := s.UpdateStatus("c1", StatusAccepted, "user-1", "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, again.Audit, 1)

	// terminal states never revert
	_, _, err = s.UpdateStatus("c1", StatusRejected, "user-1", "")
	require.Error(t, err)
	var pe *pipelineerr.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipelineerr.CodeIllegalTransition, pe.Code)
}

func TestSupersede(t *testing.T) {
	s := NewStore()
	a := sampleChange("a", time.Now())
	b := sampleChange("b", time.Now().Add(time.Second))
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))

	require.NoError(t, s.Supersede("a", "b", "engine", "a"))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, got.Status)
	require.NotNil(t, got.SupersededBy)
	assert.Equal(t, "b", *got.SupersededBy)
}

func TestBySessionOrderedByTimestampThenID(t *testing.T) {
	s := NewStore()
	t0 := time.Now()
	c2 := sampleChange("c2", t0)
	c1 := sampleChange("c1", t0)
	c3 := sampleChange("c3", t0.Add(time.Second))
	require.NoError(t, s.Insert(c2))
	require.NoError(t, s.Insert(c1))
	require.NoError(t, s.Insert(c3))

	ordered := s.BySession("sess-1")
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestDeleteRemovesFromIndices(t *testing.T) {
	s := NewStore()
	c := sampleChange("c1", time.Now())
	require.NoError(t, s.Insert(c))
	require.NoError(t, s.Delete("c1"))

	_, err := s.Get("c1")
	require.Error(t, err)
	assert.Empty(t, s.BySession("sess-1"))
}

func TestLoadReplacesContents(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(sampleChange("old", time.Now())))

	s.Load([]*Change{sampleChange("new", time.Now())})

	_, err := s.Get("old")
	require.Error(t, err)
	got, err := s.Get("new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}
