package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobsync/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var day0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mustJob(t *testing.T, s Store, company, role string, status model.Category, firstSeen time.Time) *model.Job {
	t.Helper()
	j := &model.Job{
		Company:      company,
		Role:         role,
		Kind:         model.KindUnknown,
		WorkMode:     model.WorkUnknown,
		Status:       status,
		FirstSeenAt:  firstSeen,
		LastUpdateAt: firstSeen,
	}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func mustMessage(t *testing.T, s Store, extID, jobID string, cat model.Category, at time.Time) *model.Message {
	t.Helper()
	m := &model.Message{
		ExternalID: extID,
		JobID:      jobID,
		Subject:    "subject " + extID,
		Sender:     "hr@acme.com",
		ReceivedAt: at,
		Category:   cat,
		Confidence: 0.9,
	}
	ok, err := s.InsertMessage(context.Background(), m)
	require.NoError(t, err)
	require.True(t, ok)
	return m
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("InsertMessageIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		j := mustJob(t, s, "Acme", "SWE", model.CategoryApplied, day0)

		m := mustMessage(t, s, "gm-1", j.ID, model.CategoryApplied, day0)
		assert.NotEmpty(t, m.ID)

		again := &model.Message{ExternalID: "gm-1", JobID: j.ID, ReceivedAt: day0, Category: model.CategoryOther}
		ok, err := s.InsertMessage(ctx, again)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.CountMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ExistingExternalIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustMessage(t, s, "a", "", model.CategoryOther, day0)
		mustMessage(t, s, "b", "", model.CategoryOther, day0)

		got, err := s.ExistingExternalIDs(ctx, []string{"a", "c", "b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a": true, "b": true}, got)

		got, err = s.ExistingExternalIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("LatestMessageTime", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		latest, err := s.LatestMessageTime(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)

		mustMessage(t, s, "a", "", model.CategoryOther, day0)
		mustMessage(t, s, "b", "", model.CategoryOther, day0.Add(time.Hour))

		latest, err = s.LatestMessageTime(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Equal(day0.Add(time.Hour)))
	})

	t.Run("MessageCategories", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		j := mustJob(t, s, "Acme", "SWE", model.CategoryInterview, day0)
		m1 := mustMessage(t, s, "a", j.ID, model.CategoryInterview, day0)
		mustMessage(t, s, "b", j.ID, model.CategoryApplied, day0.Add(-time.Hour))
		mustMessage(t, s, "c", "", model.CategoryOffer, day0.Add(time.Hour))

		msgs, err := s.ListMessagesByCategory(ctx, model.CategoryInterview, model.CategoryOffer)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, j.ID, msgs[0].JobID)
		assert.Empty(t, msgs[1].JobID)

		require.NoError(t, s.UpdateMessageCategory(ctx, m1.ID, model.CategoryRecruiter))
		cats, err := s.JobMessageCategories(ctx, j.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []model.Category{model.CategoryRecruiter, model.CategoryApplied}, cats)

		err = s.UpdateMessageCategory(ctx, "missing", model.CategoryOther)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("JobRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		interview := day0.Add(72 * time.Hour)
		j := &model.Job{
			Company:        "Acme",
			Role:           "Backend Engineer",
			Kind:           model.KindFullTime,
			WorkMode:       model.WorkRemote,
			SourcePlatform: "linkedin",
			Status:         model.CategoryInterview,
			FirstSeenAt:    day0,
			LastUpdateAt:   day0.Add(time.Hour),
			InterviewAt:    &interview,
			Notes:          "panel",
		}
		require.NoError(t, s.CreateJob(ctx, j))
		require.NotEmpty(t, j.ID)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Acme", got.Company)
		assert.Equal(t, model.KindFullTime, got.Kind)
		assert.Equal(t, model.WorkRemote, got.WorkMode)
		assert.Equal(t, model.CategoryInterview, got.Status)
		assert.True(t, got.FirstSeenAt.Equal(day0))
		require.NotNil(t, got.InterviewAt)
		assert.True(t, got.InterviewAt.Equal(interview))

		got.Status = model.CategoryOffer
		got.InterviewAt = nil
		require.NoError(t, s.UpdateJob(ctx, got))
		again, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CategoryOffer, again.Status)
		assert.Nil(t, again.InterviewAt)

		missing, err := s.GetJob(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		err = s.UpdateJob(ctx, &model.Job{ID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FindAndSearch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		acme := mustJob(t, s, "Acme Corp", "Software Engineer", model.CategoryApplied, day0)
		mustJob(t, s, "Globex", "Data Analyst", model.CategoryApplied, day0)
		mustJob(t, s, "100%_Real", "SWE", model.CategoryApplied, day0)

		got, err := s.FindJob(ctx, "ACME CORP", "software engineer")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, acme.ID, got.ID)

		got, err = s.FindJob(ctx, "Acme", "Software Engineer")
		require.NoError(t, err)
		assert.Nil(t, got)

		found, err := s.SearchJobsByCompany(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, acme.ID, found[0].ID)

		found, err = s.SearchJobsByCompany(ctx, "0%_r")
		require.NoError(t, err)
		assert.Len(t, found, 1)

		found, err = s.SearchJobsByCompany(ctx, "%")
		require.NoError(t, err)
		assert.Len(t, found, 1, "wildcards are matched literally")
	})

	t.Run("ListJobsAndCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustJob(t, s, "A", "r", model.CategoryApplied, day0)
		mustJob(t, s, "B", "r", model.CategoryApplied, day0.Add(time.Hour))
		mustJob(t, s, "C", "r", model.CategoryInterview, day0.Add(2*time.Hour))

		all, err := s.ListJobs(ctx, model.JobFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "C", all[0].Company)

		applied, err := s.ListJobs(ctx, model.JobFilter{Status: model.CategoryApplied, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, applied, 1)
		assert.Equal(t, "A", applied[0].Company)

		counts, err := s.StatusCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.StatusCount{
			{Status: model.CategoryApplied, Count: 2},
			{Status: model.CategoryInterview, Count: 1},
		}, counts)
	})

	t.Run("MergeJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		keeper := mustJob(t, s, "Acme", "SWE", model.CategoryApplied, day0)
		loser := mustJob(t, s, "ACME Pvt Ltd", "Software Engineer", model.CategoryInterview, day0.Add(time.Hour))
		mustMessage(t, s, "k", keeper.ID, model.CategoryApplied, day0)
		mustMessage(t, s, "l1", loser.ID, model.CategoryInterview, day0.Add(time.Hour))
		mustMessage(t, s, "l2", loser.ID, model.CategoryOther, day0.Add(2*time.Hour))

		keeper.Status = model.CategoryInterview
		moved, err := s.MergeJobs(ctx, keeper, []string{loser.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, moved)

		gone, err := s.GetJob(ctx, loser.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		cats, err := s.JobMessageCategories(ctx, keeper.ID)
		require.NoError(t, err)
		assert.Len(t, cats, 3)

		got, err := s.GetJob(ctx, keeper.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CategoryInterview, got.Status)

		moved, err = s.MergeJobs(ctx, keeper, nil)
		require.NoError(t, err)
		assert.Zero(t, moved)
	})

	t.Run("DeleteOrphanJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		kept := mustJob(t, s, "Acme", "SWE", model.CategoryApplied, day0)
		orphan := mustJob(t, s, "Globex", "SWE", model.CategoryInterview, day0)
		mustMessage(t, s, "k", kept.ID, model.CategoryApplied, day0)

		ids, err := s.DeleteOrphanJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{orphan.ID}, ids)

		ids, err = s.DeleteOrphanJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("GhostJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := day0.Add(30 * 24 * time.Hour)
		cutoff := now.Add(-21 * 24 * time.Hour)

		stale := mustJob(t, s, "Stale", "SWE", model.CategoryApplied, day0)
		mustMessage(t, s, "s1", stale.ID, model.CategoryApplied, day0)
		fresh := mustJob(t, s, "Fresh", "SWE", model.CategoryViewed, day0)
		mustMessage(t, s, "f1", fresh.ID, model.CategoryViewed, now.Add(-24*time.Hour))
		noMail := mustJob(t, s, "NoMail", "SWE", model.CategoryViewed, day0)
		interview := mustJob(t, s, "Busy", "SWE", model.CategoryInterview, day0)

		ids, err := s.GhostJobs(ctx, cutoff)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{stale.ID, noMail.ID}, ids)

		got, err := s.GetJob(ctx, interview.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CategoryInterview, got.Status)

		ids, err = s.GhostJobs(ctx, cutoff)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("RecordMessage", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := &model.Job{Company: "Acme", Role: "SWE", Kind: model.KindUnknown, WorkMode: model.WorkUnknown,
			Status: model.CategoryApplied, FirstSeenAt: day0, LastUpdateAt: day0}
		msg := &model.Message{ExternalID: "gm-1", ReceivedAt: day0, Category: model.CategoryApplied, Confidence: 0.9}
		ok, err := s.RecordMessage(ctx, job, true, msg)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, job.ID, msg.JobID)

		job.Status = model.CategoryInterview
		ok, err = s.RecordMessage(ctx, job, false, &model.Message{
			ExternalID: "gm-2", ReceivedAt: day0, Category: model.CategoryInterview, Confidence: 0.9,
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CategoryInterview, got.Status)

		// A duplicate message rolls back the job write with it.
		fresh := &model.Job{Company: "Globex", Role: "PM", Kind: model.KindUnknown, WorkMode: model.WorkUnknown,
			Status: model.CategoryApplied, FirstSeenAt: day0, LastUpdateAt: day0}
		ok, err = s.RecordMessage(ctx, fresh, true, &model.Message{
			ExternalID: "gm-1", ReceivedAt: day0, Category: model.CategoryApplied,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		jobs, err := s.ListJobs(ctx, model.JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)

		n, err := s.CountMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("ListAndOverrideMessages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := mustJob(t, s, "Acme", "SWE", model.CategoryApplied, day0)
		older := mustMessage(t, s, "gm-1", job.ID, model.CategoryUncertain, day0)
		newer := mustMessage(t, s, "gm-2", job.ID, model.CategoryUncertain, day0.Add(time.Hour))
		mustMessage(t, s, "gm-3", "", model.CategoryApplied, day0)

		msgs, err := s.ListMessages(ctx, model.MessageFilter{Category: model.CategoryUncertain})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, newer.ID, msgs[0].ID)
		assert.Equal(t, older.ID, msgs[1].ID)

		msgs, err = s.ListMessages(ctx, model.MessageFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		msgs, err = s.ListMessages(ctx, model.MessageFilter{JobID: job.ID})
		require.NoError(t, err)
		assert.Len(t, msgs, 2)

		require.NoError(t, s.OverrideMessage(ctx, older.ID, model.CategoryInterview))
		got, err := s.GetMessage(ctx, older.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.CategoryInterview, got.Category)
		assert.Equal(t, 1.0, got.Confidence)
		assert.Equal(t, job.ID, got.JobID)

		got, err = s.GetMessage(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		err = s.OverrideMessage(ctx, "missing", model.CategoryInterview)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Checkpoints", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp, err := s.LoadCheckpoint(ctx, model.ModeBackfill)
		require.NoError(t, err)
		assert.Nil(t, cp)

		require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{Mode: model.ModeBackfill, PageToken: "p1", Processed: 10}))
		require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{
			Mode: model.ModeBackfill, Query: "after:2025/06/01", PageToken: "p2", Processed: 20,
		}))

		cp, err = s.LoadCheckpoint(ctx, model.ModeBackfill)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "after:2025/06/01", cp.Query)
		assert.Equal(t, "p2", cp.PageToken)
		assert.Equal(t, 20, cp.Processed)
		assert.False(t, cp.UpdatedAt.IsZero())

		require.NoError(t, s.ClearCheckpoint(ctx, model.ModeBackfill))
		cp, err = s.LoadCheckpoint(ctx, model.ModeBackfill)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteStore_Ping(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Ping(context.Background()))
}
