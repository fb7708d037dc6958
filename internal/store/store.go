package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/model"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = eris.New("store: not found")

// errDuplicate rolls back a RecordMessage whose message is already stored.
var errDuplicate = eris.New("store: duplicate message")

// Store defines the persistence interface for the sync pipeline and the
// reconciliation sweeps.
type Store interface {
	// Messages
	InsertMessage(ctx context.Context, msg *model.Message) (bool, error)
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	LatestMessageTime(ctx context.Context) (*time.Time, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)
	ListMessagesByCategory(ctx context.Context, cats ...model.Category) ([]model.Message, error)
	UpdateMessageCategory(ctx context.Context, id string, cat model.Category) error
	// OverrideMessage records a manual verdict: the category with full
	// confidence.
	OverrideMessage(ctx context.Context, id string, cat model.Category) error
	JobMessageCategories(ctx context.Context, jobID string) ([]model.Category, error)
	CountMessages(ctx context.Context) (int, error)
	// RecordMessage writes job (created when isNew, updated otherwise) and
	// inserts msg linked to it in one transaction. When msg's external id
	// is already stored nothing is written and it reports false.
	RecordMessage(ctx context.Context, job *model.Job, isNew bool, msg *model.Message) (bool, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	FindJob(ctx context.Context, company, role string) (*model.Job, error)
	SearchJobsByCompany(ctx context.Context, fragment string) ([]model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status model.Category) error
	StatusCounts(ctx context.Context) ([]model.StatusCount, error)

	// Reconciliation
	MergeJobs(ctx context.Context, keeper *model.Job, loserIDs []string) (int, error)
	DeleteOrphanJobs(ctx context.Context) ([]string, error)
	GhostJobs(ctx context.Context, cutoff time.Time) ([]string, error)

	// Checkpoints
	LoadCheckpoint(ctx context.Context, mode model.Mode) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	ClearCheckpoint(ctx context.Context, mode model.Mode) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ghostable lists the statuses the ghost sweep may retire.
var ghostable = []model.Category{model.CategoryApplied, model.CategoryViewed}

