package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/governor"
	"github.com/writerr/changepipeline/internal/position"
	"github.com/writerr/changepipeline/internal/query"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	c, err := New(nil, cfg)
	require.NoError(t, err)
	return c
}

func simpleInput(source, after string, start int) ChangeInput {
	return ChangeInput{
		Type:       change.TypeReplace,
		Position:   position.Position{Start: start, End: start + 5},
		Content:    change.Content{Before: "hello", After: after},
		Category:   change.CategoryGrammar,
		Source:     source,
		Confidence: 0.9,
	}
}

func TestNewBuildsAWiredCore(t *testing.T) {
	c := newTestCore(t)
	assert.NotNil(t, c.Store())
	assert.NotNil(t, c.Sessions())
	assert.NotNil(t, c.Governor())
	assert.NotNil(t, c.EventBus())
}

func TestSubmitHappyPathAdmitsChange(t *testing.T) {
	c := newTestCore(t)

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "howdy", 0)}, SubmitOptions{
		SessionID: "sess-1",
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.ChangeIDs, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.ValidationSummary.Total)

	ch, err := c.Store().Get(result.ChangeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, change.StatusPending, ch.Status)
}

func TestSubmitRejectsLowConfidenceBelowFloor(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.ValidationPolicy.ConfidenceFloor = 0.5
	c, err := New(nil, cfg)
	require.NoError(t, err)

	in := simpleInput("producer-a", "howdy", 0)
	in.Confidence = -1 // clamped to 0, below the 0.5 floor
	result, err := c.Submit([]ChangeInput{in}, SubmitOptions{SessionID: "sess-1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.ChangeIDs)
	_ = result
}

func TestSubmitGroupChangesProducesGroupingResult(t *testing.T) {
	c := newTestCore(t)

	inputs := []ChangeInput{
		simpleInput("producer-a", "one", 0),
		simpleInput("producer-a", "two", 100),
	}
	result, err := c.Submit(inputs, SubmitOptions{
		SessionID:          "sess-1",
		GroupChanges:       true,
		EditorialOperation: batch.OperationCopyEditPass,
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.ChangeIDs, 2)
	require.NotNil(t, result.GroupingResult)
	assert.Equal(t, result.ChangeGroupID, result.GroupingResult.GroupID)
	assert.ElementsMatch(t, result.ChangeIDs, result.GroupingResult.MemberIDs)
}

func TestSubmitRejectsUnauthorizedProducer(t *testing.T) {
	c := newTestCore(t)

	auth, err := c.RegisterProducer(Manifest{
		PluginID:     "plugin-1",
		Name:         "Copy Editor",
		Version:      "1.0.0",
		SecurityHash: "abc123",
		Capabilities: Capabilities{Providers: []string{"allowed-producer"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ProducerActive, auth.Status)

	in := simpleInput("someone-else", "howdy", 0)
	result, err := c.Submit([]ChangeInput{in}, SubmitOptions{SessionID: "sess-1"}, &auth)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.ChangeIDs)
}

func TestSubmitRespectsGovernorRateLimit(t *testing.T) {
	c := newTestCore(t)
	c.gov.Configure("producer-a", governor.Config{
		MaxRequestsPerSecond: 1,
		BurstCapacity:        1,
		BackoffStrategy:      governor.DefaultConfig().BackoffStrategy,
		BaseBackoffMs:        governor.DefaultConfig().BaseBackoffMs,
		MaxRetries:           governor.DefaultConfig().MaxRetries,
	})

	// First call consumes the sole burst slot; immediate second call should throttle.
	_, err := c.Submit([]ChangeInput{simpleInput("producer-a", "one", 0)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "two", 10)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
}

func TestAcceptTransitionsPlainChange(t *testing.T) {
	c := newTestCore(t)

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "howdy", 0)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ChangeIDs, 1)

	outcome, err := c.Accept(result.ChangeIDs[0], "reviewer-1", "looks good")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, change.StatusAccepted, outcome.Status)

	ch, err := c.Store().Get(result.ChangeIDs[0])
	require.NoError(t, err)
	assert.Equal(t, change.StatusAccepted, ch.Status)
}

func TestAcceptTwiceIsUnchangedOnSecondCall(t *testing.T) {
	c := newTestCore(t)

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "howdy", 0)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ChangeIDs, 1)

	first, err := c.Accept(result.ChangeIDs[0], "reviewer-1", "looks good")
	require.NoError(t, err)
	assert.False(t, first.Unchanged)

	second, err := c.Accept(result.ChangeIDs[0], "reviewer-1", "looks good")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Unchanged)
	assert.Equal(t, change.StatusAccepted, second.Status)
}

func TestRejectTransitionsEntireBatchGroup(t *testing.T) {
	c := newTestCore(t)

	inputs := []ChangeInput{
		simpleInput("producer-a", "one", 0),
		simpleInput("producer-a", "two", 100),
	}
	result, err := c.Submit(inputs, SubmitOptions{
		SessionID:          "s",
		GroupChanges:       true,
		EditorialOperation: batch.OperationCopyEditPass,
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.ChangeGroupID)

	outcome, err := c.Reject(result.ChangeGroupID, "reviewer-1", "not needed")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, change.StatusRejected, outcome.Status)
	assert.ElementsMatch(t, result.ChangeIDs, outcome.ChangeIDs)

	for _, id := range result.ChangeIDs {
		ch, err := c.Store().Get(id)
		require.NoError(t, err)
		assert.Equal(t, change.StatusRejected, ch.Status)
	}
}

func TestQueryAndExportRoundTrip(t *testing.T) {
	c := newTestCore(t)

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "howdy", 0)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ChangeIDs, 1)

	ids, err := c.QueryIDs(c.Query().ByCategory("grammar"))
	require.NoError(t, err)
	assert.Equal(t, result.ChangeIDs, ids)

	out, err := c.Export(c.Query().ByCategory("grammar"), query.FormatJSON, query.ExportOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(out), result.ChangeIDs[0])
}

func TestSubscribeReceivesSubmissionEvent(t *testing.T) {
	c := newTestCore(t)

	received := make(chan string, 1)
	c.Subscribe(eventbus.TopicChangeAdmitted, func(ev eventbus.Event) error {
		id, _ := ev.Data.(string)
		received <- id
		return nil
	})

	result, err := c.Submit([]ChangeInput{simpleInput("producer-a", "howdy", 0)}, SubmitOptions{SessionID: "s"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ChangeIDs, 1)

	select {
	case id := <-received:
		assert.Equal(t, result.ChangeIDs[0], id)
	case <-time.After(time.Second):
		t.Fatal("did not receive TopicChangeAdmitted event")
	}
}

func TestRegisterProducerSecurityViolationAndVersionIncompatible(t *testing.T) {
	c := newTestCore(t)

	bad, err := c.RegisterProducer(Manifest{PluginID: "p1", Name: "n", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, ProducerSecurityViolation, bad.Status)

	old, err := c.RegisterProducer(Manifest{PluginID: "p2", Name: "n", Version: "0.9.0", SecurityHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, ProducerVersionIncompatible, old.Status)

	good, err := c.RegisterProducer(Manifest{PluginID: "p3", Name: "n", Version: "1.0.0", SecurityHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, ProducerActive, good.Status)
}
