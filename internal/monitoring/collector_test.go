package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/pipeline"
	"github.com/sells-group/jobsync/internal/quota"
	"github.com/sells-group/jobsync/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type staticQuota []quota.SlotState

func (q staticQuota) Snapshot() []quota.SlotState { return q }

func TestCollector_RunLifecycle(t *testing.T) {
	c := NewCollector(newTestStore(t), nil)

	c.RunStarted(model.ModeSync)
	c.RecordRequest(0)
	c.RecordRequest(1)
	c.RecordRotation(1)
	c.RecordRateLimit(1)
	c.RecordTokens(120, 30)
	c.RecordTokens(80, 20)
	c.MessageDone(pipeline.OutcomeStored)
	c.MessageDone(pipeline.OutcomeStored)
	c.MessageDone(pipeline.OutcomeFiltered)

	run := c.Run()
	assert.True(t, run.Running)
	assert.Equal(t, model.ModeSync, run.Mode)
	assert.Equal(t, 2, run.Requests)
	assert.Equal(t, 1, run.Rotations)
	assert.Equal(t, 1, run.RateLimits)
	assert.Equal(t, TokenTotals{Input: 200, Output: 50}, run.Tokens)
	assert.Equal(t, SlotCounts{Requests: 1, Rotations: 1, RateLimits: 1}, run.PerSlot[1])
	assert.Equal(t, 2, run.Outcomes[string(pipeline.OutcomeStored)])

	c.RunFinished(&pipeline.Summary{Mode: model.ModeSync, Stored: 2, Halted: pipeline.HaltQuotaExhausted})
	run = c.Run()
	assert.False(t, run.Running)
	assert.Equal(t, pipeline.HaltQuotaExhausted, run.Halted)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 2, run.Summary.Stored)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestCollector_RunReturnsCopy(t *testing.T) {
	c := NewCollector(newTestStore(t), nil)
	c.RunStarted(model.ModeBackfill)
	c.MessageDone(pipeline.OutcomeStored)

	snap := c.Run()
	snap.Outcomes["stored"] = 99

	assert.Equal(t, 1, c.Run().Outcomes["stored"])
}

func TestCollector_RecordBeforeRunStarted(t *testing.T) {
	c := NewCollector(newTestStore(t), nil)
	c.RecordRateLimit(2)
	assert.Equal(t, 1, c.Run().PerSlot[2].RateLimits)
}

func TestCollector_Collect(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []model.Category{model.CategoryApplied, model.CategoryApplied, model.CategoryInterview} {
		j := &model.Job{Company: "Acme", Role: string(rune('A' + i)), Kind: model.KindUnknown, WorkMode: model.WorkUnknown,
			Status: status, FirstSeenAt: now, LastUpdateAt: now}
		require.NoError(t, st.CreateJob(ctx, j))
		_, err := st.InsertMessage(ctx, &model.Message{ExternalID: j.Role, JobID: j.ID, ReceivedAt: now, Category: status})
		require.NoError(t, err)
	}

	q := staticQuota{{Slot: 0, Hint: "…abcd", Calls: 3}}
	c := NewCollector(st, q)

	snap, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Jobs)
	assert.Equal(t, 3, snap.Messages)
	require.Len(t, snap.StatusCounts, 2)
	assert.Equal(t, model.CategoryApplied, snap.StatusCounts[0].Status)
	assert.Equal(t, 2, snap.StatusCounts[0].Count)
	require.Len(t, snap.Credentials, 1)
	assert.Equal(t, 3, snap.Credentials[0].Calls)
	assert.False(t, snap.CollectedAt.IsZero())
}
