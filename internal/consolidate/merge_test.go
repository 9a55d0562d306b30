package consolidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/position"
)

func contentChange(id string, start, end int, priority int, before, after string) *change.Change {
	return &change.Change{
		ID:         id,
		SessionID:  "s1",
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: end},
		Content:    change.Content{Before: before, After: after},
		Category:   change.CategoryGrammar,
		Source:     id,
		Confidence: 0.8,
		Timestamp:  time.Unix(int64(start), 0),
		Status:     change.StatusPending,
		Priority:   priority,
	}
}

func TestMergeChangesConcatenatesNonOverlappingContributors(t *testing.T) {
	incoming := contentChange("a", 0, 5, 3, "alpha", "ALPHA")
	conflict := contentChange("b", 5, 10, 3, "beta", "BETA")

	merged := mergeChanges(incoming, []*change.Change{conflict}, "m1")

	assert.Equal(t, position.Position{Start: 0, End: 10}, merged.Position)
	assert.Equal(t, "alphabeta", merged.Content.Before)
	assert.Equal(t, "ALPHABETA", merged.Content.After)
}

func TestMergeChangesResolvesOverlapByHighestPriority(t *testing.T) {
	lowPriority := contentChange("low", 0, 10, 5, "before-low", "after-low")
	highPriority := contentChange("high", 4, 8, 1, "before-high", "after-high")

	merged := mergeChanges(lowPriority, []*change.Change{highPriority}, "m1")

	assert.Equal(t, "before-high", merged.Content.Before)
	assert.Equal(t, "after-high", merged.Content.After)
}

func TestMergeChangesAuditRecordsContributors(t *testing.T) {
	incoming := contentChange("a", 0, 5, 3, "alpha", "ALPHA")
	conflict := contentChange("b", 5, 10, 3, "beta", "BETA")

	merged := mergeChanges(incoming, []*change.Change{conflict}, "m1")

	assert.Len(t, merged.Audit, 1)
	assert.Contains(t, merged.Audit[0].Reason, "a")
	assert.Contains(t, merged.Audit[0].Reason, "b")
}
