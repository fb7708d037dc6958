// Package pipeline drives an ingestion run: it pages through a message
// Source and takes each message through prefilter, classification,
// guardrail correction, job resolution and storage.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/classify"
	"github.com/sells-group/jobsync/internal/guardrail"
	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/prefilter"
	"github.com/sells-group/jobsync/internal/resolve"
	"github.com/sells-group/jobsync/internal/status"
	"github.com/sells-group/jobsync/internal/store"
)

// Halt reasons reported in Summary.Halted.
const (
	HaltStopped        = "stopped"
	HaltQuotaExhausted = "quota_exhausted"
)

// Options configures a Driver.
type Options struct {
	BackfillAfter      string
	SyncLookbackDays   int
	SyncQueryTerms     string
	UncertainThreshold float64
	SkipOtherAbove     float64
	BodyExcerptChars   int
	ProgressEvery      int
	PageDelay          time.Duration
	Observer           Observer
}

// Summary reports what a run did.
type Summary struct {
	Mode          model.Mode `json:"mode"`
	Query         string     `json:"query"`
	Pages         int        `json:"pages"`
	Listed        int        `json:"listed"`
	AlreadyStored int        `json:"already_stored"`
	Filtered      int        `json:"filtered"`
	Classified    int        `json:"classified"`
	Unclassified  int        `json:"unclassified"`
	Corrected     int        `json:"corrected"`
	SkippedOther  int        `json:"skipped_other"`
	Stored        int        `json:"stored"`
	Duplicates    int        `json:"duplicates"`
	JobsCreated   int        `json:"jobs_created"`
	JobsUpdated   int        `json:"jobs_updated"`
	StatusRaised  int        `json:"status_raised"`
	Errors        int        `json:"errors"`
	Halted        string     `json:"halted,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// Driver runs ingestion. A Driver runs one batch at a time.
type Driver struct {
	source     Source
	store      store.Store
	classifier Classifier
	resolver   *resolve.Resolver
	opts       Options
	now        func() time.Time

	stop atomic.Bool
}

// New creates a Driver.
func New(src Source, st store.Store, cl Classifier, opts Options) *Driver {
	if opts.SyncLookbackDays <= 0 {
		opts.SyncLookbackDays = 7
	}
	if opts.SkipOtherAbove <= 0 {
		opts.SkipOtherAbove = 0.8
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	return &Driver{
		source:     src,
		store:      st,
		classifier: cl,
		resolver:   resolve.NewResolver(st),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Stop asks the running batch to halt before its next message.
func (d *Driver) Stop() { d.stop.Store(true) }

func (d *Driver) stopped(ctx context.Context) bool {
	return d.stop.Load() || ctx.Err() != nil
}

// Run pages through the source until it is drained, stopped, or the
// classifier quota runs out. Halting is not an error: progress is already
// persisted and Summary.Halted says why the run ended early.
//
// Every run checkpoints its query and the token of the next unprocessed
// page, and a halted run of the same mode resumes from there. The query is
// pinned so that a sync window cannot move past messages a halted run never
// reached. The checkpoint is cleared once the source is drained.
func (d *Driver) Run(ctx context.Context, mode model.Mode) (*Summary, error) {
	d.stop.Store(false)
	sum := &Summary{Mode: mode, StartedAt: d.now()}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("mode", string(mode)))

	if d.opts.Observer != nil {
		d.opts.Observer.RunStarted(mode)
		defer d.opts.Observer.RunFinished(sum)
	}
	defer func() { sum.FinishedAt = d.now() }()

	cp, err := d.store.LoadCheckpoint(ctx, mode)
	if err != nil {
		return sum, eris.Wrap(err, "pipeline: load checkpoint")
	}

	var query, token string
	processed := 0
	if cp != nil {
		query, token, processed = cp.Query, cp.PageToken, cp.Processed
		if query == "" {
			query, err = d.query(ctx, mode)
			if err != nil {
				return sum, err
			}
		}
		log.Info("pipeline: resuming from checkpoint",
			zap.String("query", query),
			zap.Int("processed", cp.Processed),
			zap.Time("checkpoint_at", cp.UpdatedAt),
		)
	} else {
		query, err = d.query(ctx, mode)
		if err != nil {
			return sum, err
		}
		if err := d.saveCheckpoint(ctx, mode, query, "", 0); err != nil {
			return sum, err
		}
	}
	sum.Query = query

	log.Info("pipeline: starting run", zap.String("query", query))

	for {
		if d.stopped(ctx) {
			sum.Halted = HaltStopped
			break
		}

		page, err := d.source.List(ctx, query, token)
		if err != nil {
			if d.stopped(ctx) {
				sum.Halted = HaltStopped
				break
			}
			return sum, eris.Wrap(err, "pipeline: list messages")
		}
		sum.Pages++
		sum.Listed += len(page.IDs)

		halt, err := d.processPage(ctx, page.IDs, sum)
		if err != nil {
			return sum, err
		}
		if halt != "" {
			sum.Halted = halt
			break
		}

		processed += len(page.IDs)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken

		if err := d.saveCheckpoint(ctx, mode, query, token, processed); err != nil {
			return sum, err
		}

		if d.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.opts.PageDelay):
			}
		}
	}

	if sum.Halted == "" {
		if err := d.store.ClearCheckpoint(ctx, mode); err != nil {
			return sum, eris.Wrap(err, "pipeline: clear checkpoint")
		}
	}

	log.Info("pipeline: run finished",
		zap.Int("pages", sum.Pages),
		zap.Int("listed", sum.Listed),
		zap.Int("filtered", sum.Filtered),
		zap.Int("classified", sum.Classified),
		zap.Int("stored", sum.Stored),
		zap.Int("jobs_created", sum.JobsCreated),
		zap.Int("errors", sum.Errors),
		zap.String("halted", sum.Halted),
	)
	return sum, nil
}

func (d *Driver) saveCheckpoint(ctx context.Context, mode model.Mode, query, token string, processed int) error {
	cp := model.Checkpoint{Mode: mode, Query: query, PageToken: token, Processed: processed, UpdatedAt: d.now()}
	return eris.Wrap(d.store.SaveCheckpoint(ctx, cp), "pipeline: save checkpoint")
}

// query builds the source query for mode.
func (d *Driver) query(ctx context.Context, mode model.Mode) (string, error) {
	switch mode {
	case model.ModeBackfill:
		if d.opts.BackfillAfter == "" {
			return "", nil
		}
		return "after:" + d.opts.BackfillAfter, nil
	case model.ModeSync:
		since, err := d.store.LatestMessageTime(ctx)
		if err != nil {
			return "", eris.Wrap(err, "pipeline: latest message time")
		}
		after := d.now().AddDate(0, 0, -d.opts.SyncLookbackDays)
		if since != nil {
			after = *since
		}
		q := "after:" + after.UTC().Format("2006/01/02")
		if terms := strings.TrimSpace(d.opts.SyncQueryTerms); terms != "" {
			q = terms + " " + q
		}
		return q, nil
	default:
		return "", eris.Errorf("pipeline: unknown mode %q", mode)
	}
}

// processPage handles one listing batch. It returns a halt reason when the
// run must end before the page is finished.
func (d *Driver) processPage(ctx context.Context, ids []string, sum *Summary) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	if d.stopped(ctx) {
		return HaltStopped, nil
	}
	existing, err := d.store.ExistingExternalIDs(ctx, ids)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: check stored ids")
	}

	for _, id := range ids {
		if d.stopped(ctx) {
			return HaltStopped, nil
		}
		if existing[id] {
			sum.AlreadyStored++
			d.observe(OutcomeAlreadyStored)
			continue
		}
		// A page can repeat an id; only its first occurrence is processed.
		existing[id] = true

		msg, err := d.source.Fetch(ctx, id)
		if err != nil {
			if d.stopped(ctx) {
				return HaltStopped, nil
			}
			sum.Errors++
			d.observe(OutcomeFetchFailed)
			zap.L().Warn("pipeline: fetch failed, skipping", zap.String("message_id", id), zap.Error(err))
			continue
		}

		outcome := d.processMessage(ctx, msg, sum)
		if outcome == "" {
			if d.stopped(ctx) {
				return HaltStopped, nil
			}
			return HaltQuotaExhausted, nil
		}
		d.observe(outcome)

		if outcome == OutcomeStored && sum.Stored%d.opts.ProgressEvery == 0 {
			zap.L().Info("pipeline: progress",
				zap.Int("listed", sum.Listed),
				zap.Int("filtered", sum.Filtered),
				zap.Int("classified", sum.Classified),
				zap.Int("stored", sum.Stored),
				zap.Int("errors", sum.Errors),
			)
		}
	}
	return "", nil
}

// processMessage runs one message to completion. An empty Outcome means
// classification could not proceed and the run must halt.
func (d *Driver) processMessage(ctx context.Context, msg *model.Message, sum *Summary) Outcome {
	log := zap.L().With(zap.String("message_id", msg.ExternalID))
	msg.Body = model.Excerpt(msg.Body, d.opts.BodyExcerptChars)

	decision := prefilter.Evaluate(*msg)
	if !decision.Relevant {
		sum.Filtered++
		log.Debug("pipeline: filtered", zap.String("reason", decision.Reason))
		return OutcomeFiltered
	}

	c, err := d.classifier.Classify(ctx, *msg)
	if err != nil {
		if errors.Is(err, classify.ErrQuotaExhausted) || d.stopped(ctx) {
			return ""
		}
		sum.Unclassified++
		log.Warn("pipeline: classification failed, skipping",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return OutcomeUnclassified
	}
	sum.Classified++

	corrected, correction := guardrail.Correct(*c, *msg)
	if correction != nil && correction.Changed() {
		sum.Corrected++
		log.Debug("pipeline: guardrail corrected category",
			zap.String("from", string(correction.From)),
			zap.String("to", string(correction.To)),
			zap.Strings("rules", correction.Rules),
		)
	}

	if corrected.Category == model.CategoryOther && corrected.Confidence > d.opts.SkipOtherAbove {
		sum.SkippedOther++
		return OutcomeSkippedOther
	}

	// The job is folded with the verdict itself. Only the stored message is
	// tagged UNCERTAIN, which keeps it out of status recomputation.
	job, created, from, err := d.foldJob(ctx, corrected, msg.ReceivedAt)
	if err != nil {
		sum.Errors++
		log.Error("pipeline: job resolve failed", zap.Error(err))
		return OutcomeStoreFailed
	}
	msg.Category = status.MessageCategory(corrected, d.opts.UncertainThreshold)
	msg.Confidence = corrected.Confidence

	inserted, err := d.store.RecordMessage(ctx, job, created, msg)
	if err != nil {
		sum.Errors++
		log.Error("pipeline: message write failed", zap.Error(err))
		return OutcomeStoreFailed
	}
	if !inserted {
		sum.Duplicates++
		return OutcomeDuplicate
	}

	switch {
	case created:
		sum.JobsCreated++
	case from != job.Status:
		sum.JobsUpdated++
		sum.StatusRaised++
		log.Info("pipeline: status raised",
			zap.String("job_id", job.ID),
			zap.String("company", job.Company),
			zap.String("from", string(from)),
			zap.String("to", string(job.Status)),
		)
	default:
		sum.JobsUpdated++
	}
	sum.Stored++
	return OutcomeStored
}

// foldJob folds c into the matching job, or builds a new one when none
// matches. Nothing is written; from is the status before folding.
func (d *Driver) foldJob(ctx context.Context, c model.Classification, at time.Time) (job *model.Job, created bool, from model.Category, err error) {
	existing, err := d.resolver.Resolve(ctx, c.Company, c.Role)
	if err != nil {
		return nil, false, "", eris.Wrap(err, "pipeline: resolve job")
	}
	if existing != nil {
		from = existing.Status
		status.Evolve(existing, c, at)
		return existing, false, from, nil
	}
	j := status.NewJob(c, at)
	return &j, true, "", nil
}

func (d *Driver) observe(o Outcome) {
	if d.opts.Observer != nil {
		d.opts.Observer.MessageDone(o)
	}
}
