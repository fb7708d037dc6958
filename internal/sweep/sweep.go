// Package sweep runs the reconciliation passes over stored jobs and
// messages. Every pass is idempotent and may be re-run at any time; merge
// must precede orphan removal because merging can leave orphans behind.
package sweep

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/guardrail"
	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/resolve"
	"github.com/sells-group/jobsync/internal/status"
	"github.com/sells-group/jobsync/internal/store"
)

// Pass names, also accepted by the sweep command.
const (
	PassReclassify = "reclassify"
	PassRecompute  = "recompute"
	PassMerge      = "merge"
	PassOrphans    = "orphans"
	PassGhost      = "ghost"
)

// ErrUnknownPass is returned by Run for a name not in Passes.
var ErrUnknownPass = eris.New("sweep: unknown pass")

// Passes lists every pass in RunAll order.
var Passes = []string{PassReclassify, PassRecompute, PassMerge, PassOrphans, PassGhost}

// Report summarizes one pass.
type Report struct {
	Name     string   `json:"name"`
	Examined int      `json:"examined"`
	Changed  int      `json:"changed"`
	JobIDs   []string `json:"job_ids,omitempty"`
}

// Sweeper runs reconciliation passes against a Store.
type Sweeper struct {
	store      store.Store
	ghostAfter time.Duration
	now        func() time.Time
}

// New creates a Sweeper. ghostAfterDays <= 0 falls back to 21.
func New(s store.Store, ghostAfterDays int) *Sweeper {
	if ghostAfterDays <= 0 {
		ghostAfterDays = 21
	}
	return &Sweeper{
		store:      s,
		ghostAfter: time.Duration(ghostAfterDays) * 24 * time.Hour,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single pass by name.
func (s *Sweeper) Run(ctx context.Context, name string) (*Report, error) {
	switch name {
	case PassReclassify:
		return s.Reclassify(ctx)
	case PassRecompute:
		return s.RecomputeStatus(ctx)
	case PassMerge:
		return s.MergeDuplicates(ctx)
	case PassOrphans:
		return s.RemoveOrphans(ctx)
	case PassGhost:
		return s.Ghost(ctx, s.now())
	default:
		return nil, eris.Wrapf(ErrUnknownPass, "sweep: run %q", name)
	}
}

// RunAll executes every pass in order and stops at the first failure.
func (s *Sweeper) RunAll(ctx context.Context) ([]Report, error) {
	log := zap.L().With(zap.String("component", "sweep"))

	reports := make([]Report, 0, len(Passes))
	for i, name := range Passes {
		if err := ctx.Err(); err != nil {
			return reports, eris.Wrap(err, "sweep: cancelled")
		}
		log.Info(fmt.Sprintf("sweep pass %d/%d: %s", i+1, len(Passes), name))

		r, err := s.Run(ctx, name)
		if err != nil {
			return reports, err
		}
		log.Info("sweep pass complete",
			zap.String("pass", name),
			zap.Int("examined", r.Examined),
			zap.Int("changed", r.Changed),
		)
		reports = append(reports, *r)
	}
	return reports, nil
}

// Reclassify re-applies the guardrail rules to stored INTERVIEW and OFFER
// messages, which are the categories the classifier most often inflates.
func (s *Sweeper) Reclassify(ctx context.Context) (*Report, error) {
	msgs, err := s.store.ListMessagesByCategory(ctx, model.CategoryInterview, model.CategoryOffer)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: list messages for reclassify")
	}

	r := &Report{Name: PassReclassify, Examined: len(msgs)}
	seen := make(map[string]bool)
	for _, m := range msgs {
		to, changed := guardrail.CorrectStored(m.Category, m.Subject, m.Sender)
		if !changed {
			continue
		}
		if err := s.store.UpdateMessageCategory(ctx, m.ID, to); err != nil {
			return r, eris.Wrapf(err, "sweep: reclassify message %s", m.ID)
		}
		zap.L().Debug("sweep: message reclassified",
			zap.String("message_id", m.ID),
			zap.String("from", string(m.Category)),
			zap.String("to", string(to)),
		)
		r.Changed++
		if m.JobID != "" && !seen[m.JobID] {
			seen[m.JobID] = true
			r.JobIDs = append(r.JobIDs, m.JobID)
		}
	}
	return r, nil
}

// RecomputeStatus resets the status of every job in one of statuses
// (INTERVIEW and OFFER when none are given) to the highest-priority category
// among its messages, ignoring OTHER and UNCERTAIN. Jobs left with no
// qualifying message drop to OTHER.
func (s *Sweeper) RecomputeStatus(ctx context.Context, statuses ...model.Category) (*Report, error) {
	if len(statuses) == 0 {
		statuses = []model.Category{model.CategoryInterview, model.CategoryOffer}
	}

	var jobs []model.Job
	for _, st := range statuses {
		batch, err := s.store.ListJobs(ctx, model.JobFilter{Status: st})
		if err != nil {
			return nil, eris.Wrapf(err, "sweep: list %s jobs", st)
		}
		jobs = append(jobs, batch...)
	}

	r := &Report{Name: PassRecompute, Examined: len(jobs)}
	for _, j := range jobs {
		cats, err := s.store.JobMessageCategories(ctx, j.ID)
		if err != nil {
			return r, eris.Wrapf(err, "sweep: categories for job %s", j.ID)
		}
		next := status.Highest(cats)
		if next == j.Status {
			continue
		}
		if err := s.store.UpdateJobStatus(ctx, j.ID, next); err != nil {
			return r, eris.Wrapf(err, "sweep: recompute job %s", j.ID)
		}
		zap.L().Debug("sweep: status recomputed",
			zap.String("job_id", j.ID),
			zap.String("from", string(j.Status)),
			zap.String("to", string(next)),
		)
		r.Changed++
		r.JobIDs = append(r.JobIDs, j.ID)
	}
	return r, nil
}

// MergeDuplicates folds jobs sharing a normalized company+role key into the
// earliest one. Jobs with a placeholder company or role are left alone. The keeper takes the highest status in the group and the
// widest first-seen/last-update window.
func (s *Sweeper) MergeDuplicates(ctx context.Context) (*Report, error) {
	jobs, err := s.store.ListJobs(ctx, model.JobFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "sweep: list jobs for merge")
	}

	groups := make(map[string][]model.Job)
	var keys []string
	for _, j := range jobs {
		if resolve.IsPlaceholder(j.Company, j.Role) {
			continue
		}
		k := resolve.MergeKey(j.Company, j.Role)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], j)
	}
	sort.Strings(keys)

	r := &Report{Name: PassMerge, Examined: len(jobs)}
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		keeper, losers := pickKeeper(group)

		loserIDs := make([]string, len(losers))
		for i, l := range losers {
			loserIDs[i] = l.ID
			absorb(&keeper, l)
		}

		moved, err := s.store.MergeJobs(ctx, &keeper, loserIDs)
		if err != nil {
			return r, eris.Wrapf(err, "sweep: merge group %s", k)
		}
		zap.L().Info("sweep: merged duplicate jobs",
			zap.String("key", k),
			zap.String("keeper", keeper.ID),
			zap.Strings("losers", loserIDs),
			zap.Int("messages_moved", moved),
		)
		r.Changed += len(loserIDs)
		r.JobIDs = append(r.JobIDs, keeper.ID)
	}
	return r, nil
}

// pickKeeper orders by FirstSeenAt, then CreatedAt, then ID.
func pickKeeper(group []model.Job) (model.Job, []model.Job) {
	sorted := make([]model.Job, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.Before(b.FirstSeenAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0], sorted[1:]
}

func absorb(keeper *model.Job, loser model.Job) {
	if status.ShouldUpdate(keeper.Status, loser.Status) {
		keeper.Status = loser.Status
	}
	if loser.FirstSeenAt.Before(keeper.FirstSeenAt) {
		keeper.FirstSeenAt = loser.FirstSeenAt
	}
	if loser.LastUpdateAt.After(keeper.LastUpdateAt) {
		keeper.LastUpdateAt = loser.LastUpdateAt
	}
	if keeper.InterviewAt == nil && loser.InterviewAt != nil {
		keeper.InterviewAt = loser.InterviewAt
	}
	if keeper.Kind == model.KindUnknown && loser.Kind != model.KindUnknown {
		keeper.Kind = loser.Kind
	}
	if keeper.WorkMode == model.WorkUnknown && loser.WorkMode != model.WorkUnknown {
		keeper.WorkMode = loser.WorkMode
	}
	if keeper.SourcePlatform == "" {
		keeper.SourcePlatform = loser.SourcePlatform
	}
}

// RemoveOrphans deletes jobs that have no messages.
func (s *Sweeper) RemoveOrphans(ctx context.Context) (*Report, error) {
	ids, err := s.store.DeleteOrphanJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: remove orphans")
	}
	return &Report{Name: PassOrphans, Examined: len(ids), Changed: len(ids), JobIDs: ids}, nil
}

// Ghost retires APPLIED_CONFIRMATION and APPLICATION_VIEWED jobs that have
// been silent for longer than the ghost window as of now.
func (s *Sweeper) Ghost(ctx context.Context, now time.Time) (*Report, error) {
	ids, err := s.store.GhostJobs(ctx, now.Add(-s.ghostAfter))
	if err != nil {
		return nil, eris.Wrap(err, "sweep: ghost jobs")
	}
	return &Report{Name: PassGhost, Examined: len(ids), Changed: len(ids), JobIDs: ids}, nil
}
