package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/db"
	"github.com/sells-group/jobsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company         TEXT NOT NULL,
	role            TEXT NOT NULL,
	job_type        TEXT NOT NULL DEFAULT 'UNKNOWN',
	work_mode       TEXT NOT NULL DEFAULT 'UNKNOWN',
	source_platform TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_update_at  TIMESTAMPTZ NOT NULL,
	interview_at    TIMESTAMPTZ,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id TEXT NOT NULL UNIQUE,
	job_id      TEXT REFERENCES jobs(id) ON DELETE CASCADE,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	category    TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	mode       TEXT PRIMARY KEY,
	query      TEXT NOT NULL DEFAULT '',
	page_token TEXT NOT NULL DEFAULT '',
	processed  INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE checkpoints ADD COLUMN IF NOT EXISTS query TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_messages_job_id ON messages(job_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_jobs_company_role ON jobs(LOWER(company), LOWER(role));
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

const jobColumns = `id, company, role, job_type, work_mode, source_platform, status, first_seen_at, last_update_at, interview_at, notes, created_at`

const messageColumns = `id, external_id, COALESCE(job_id, ''), subject, sender, body, received_at, category, confidence, created_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Messages ---

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	return insertMessage(ctx, s.pool, msg)
}

func insertMessage(ctx context.Context, ex execer, msg *model.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tag, err := ex.Exec(ctx,
		`INSERT INTO messages (id, external_id, job_id, subject, sender, body, received_at, category, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (external_id) DO NOTHING`,
		msg.ID, msg.ExternalID, nullString(msg.JobID), msg.Subject, msg.Sender, msg.Body,
		msg.ReceivedAt, string(msg.Category), msg.Confidence, msg.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert message %s", msg.ExternalID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordMessage(ctx context.Context, job *model.Job, isNew bool, msg *model.Message) (bool, error) {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if isNew {
			err = createJob(ctx, tx, job)
		} else {
			err = updateJob(ctx, tx, job)
		}
		if err != nil {
			return err
		}

		msg.JobID = job.ID
		inserted, err := insertMessage(ctx, tx, msg)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicate
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record message %s", msg.ExternalID)
	}
	return true, nil
}

func (s *PostgresStore) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT external_id FROM messages WHERE external_id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing external ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan external id")
		}
		out[id] = true
	}
	return out, eris.Wrap(rows.Err(), "postgres: existing external ids iterate")
}

func (s *PostgresStore) LatestMessageTime(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(received_at) FROM messages`).Scan(&t); err != nil {
		return nil, eris.Wrap(err, "postgres: latest message time")
	}
	return t, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get message %s", id)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	query += ` ORDER BY received_at DESC, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}
	return s.queryMessages(ctx, "postgres: list messages", query, args...)
}

func (s *PostgresStore) ListMessagesByCategory(ctx context.Context, cats ...model.Category) ([]model.Message, error) {
	return s.queryMessages(ctx, "postgres: list messages by category",
		`SELECT `+messageColumns+` FROM messages WHERE category = ANY($1) ORDER BY received_at`,
		categoryStrings(cats),
	)
}

func (s *PostgresStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *PostgresStore) UpdateMessageCategory(ctx context.Context, id string, cat model.Category) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET category = $1 WHERE id = $2`, string(cat), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update message category %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "message %s", id)
	}
	return nil
}

func (s *PostgresStore) OverrideMessage(ctx context.Context, id string, cat model.Category) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET category = $1, confidence = 1.0 WHERE id = $2`, string(cat), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: override message %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "message %s", id)
	}
	return nil
}

func (s *PostgresStore) JobMessageCategories(ctx context.Context, jobID string) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT category FROM messages WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: message categories for job %s", jobID)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, model.Category(c))
	}
	return cats, eris.Wrap(rows.Err(), "postgres: message categories iterate")
}

func (s *PostgresStore) CountMessages(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count messages")
	}
	return int(n), nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	return createJob(ctx, s.pool, job)
}

func createJob(ctx context.Context, ex execer, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := ex.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Company, job.Role, string(job.Kind), string(job.WorkMode), job.SourcePlatform,
		string(job.Status), job.FirstSeenAt, job.LastUpdateAt, job.InterviewAt, job.Notes, job.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s / %s", job.Company, job.Role)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	return updateJob(ctx, s.pool, job)
}

func updateJob(ctx context.Context, ex execer, job *model.Job) error {
	tag, err := ex.Exec(ctx,
		`UPDATE jobs SET company = $1, role = $2, job_type = $3, work_mode = $4, source_platform = $5,
		 status = $6, first_seen_at = $7, last_update_at = $8, interview_at = $9, notes = $10
		 WHERE id = $11`,
		job.Company, job.Role, string(job.Kind), string(job.WorkMode), job.SourcePlatform,
		string(job.Status), job.FirstSeenAt, job.LastUpdateAt, job.InterviewAt, job.Notes, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) FindJob(ctx context.Context, company, role string) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE LOWER(company) = LOWER($1) AND LOWER(role) = LOWER($2)
		 ORDER BY created_at LIMIT 1`,
		company, role,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find job")
	}
	return j, nil
}

func (s *PostgresStore) SearchJobsByCompany(ctx context.Context, fragment string) ([]model.Job, error) {
	return s.queryJobs(ctx, "postgres: search jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE company ILIKE $1 ORDER BY created_at`,
		"%"+escapeLike(fragment)+"%",
	)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY last_update_at DESC, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}
	return s.queryJobs(ctx, "postgres: list jobs", query, args...)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status model.Category) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

func (s *PostgresStore) StatusCounts(ctx context.Context) ([]model.StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) AS n FROM jobs GROUP BY status ORDER BY n DESC, status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	var out []model.StatusCount
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		out = append(out, model.StatusCount{Status: model.Category(status), Count: int(n)})
	}
	return out, eris.Wrap(rows.Err(), "postgres: status counts iterate")
}

// --- Reconciliation ---

func (s *PostgresStore) MergeJobs(ctx context.Context, keeper *model.Job, loserIDs []string) (int, error) {
	if len(loserIDs) == 0 {
		return 0, nil
	}
	var moved int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE messages SET job_id = $1 WHERE job_id = ANY($2)`, keeper.ID, loserIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: reassign messages")
		}
		moved = tag.RowsAffected()

		if err := updateJob(ctx, tx, keeper); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = ANY($1)`, loserIDs); err != nil {
			return eris.Wrap(err, "postgres: delete merged jobs")
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: merge into %s", keeper.ID)
	}
	return int(moved), nil
}

func (s *PostgresStore) DeleteOrphanJobs(ctx context.Context) ([]string, error) {
	return s.returningIDs(ctx, "postgres: delete orphan jobs",
		`DELETE FROM jobs j WHERE NOT EXISTS (SELECT 1 FROM messages m WHERE m.job_id = j.id) RETURNING j.id`)
}

func (s *PostgresStore) GhostJobs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.returningIDs(ctx, "postgres: ghost jobs",
		`UPDATE jobs j SET status = $1
		 WHERE j.status = ANY($2)
		   AND COALESCE((SELECT MAX(m.received_at) FROM messages m WHERE m.job_id = j.id), j.first_seen_at) < $3
		 RETURNING j.id`,
		string(model.CategoryGhosted), categoryStrings(ghostable), cutoff,
	)
}

func (s *PostgresStore) returningIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), op+": iterate")
}

// --- Checkpoints ---

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, mode model.Mode) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var m string
	err := s.pool.QueryRow(ctx,
		`SELECT mode, query, page_token, processed, updated_at FROM checkpoints WHERE mode = $1`, string(mode),
	).Scan(&m, &cp.Query, &cp.PageToken, &cp.Processed, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", mode)
	}
	cp.Mode = model.Mode(m)
	return &cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (mode, query, page_token, processed, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (mode) DO UPDATE SET query = EXCLUDED.query, page_token = EXCLUDED.page_token,
		 processed = EXCLUDED.processed, updated_at = EXCLUDED.updated_at`,
		string(cp.Mode), cp.Query, cp.PageToken, cp.Processed, cp.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.Mode)
}

func (s *PostgresStore) ClearCheckpoint(ctx context.Context, mode model.Mode) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE mode = $1`, string(mode))
	return eris.Wrapf(err, "postgres: clear checkpoint %s", mode)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var kind, mode, status string
	var interview *time.Time
	err := row.Scan(&j.ID, &j.Company, &j.Role, &kind, &mode, &j.SourcePlatform, &status,
		&j.FirstSeenAt, &j.LastUpdateAt, &interview, &j.Notes, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.WorkMode = model.WorkMode(mode)
	j.Status = model.Category(status)
	j.InterviewAt = interview
	return &j, nil
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	var cat string
	err := row.Scan(&m.ID, &m.ExternalID, &m.JobID, &m.Subject, &m.Sender, &m.Body,
		&m.ReceivedAt, &cat, &m.Confidence, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Category = model.Category(cat)
	return &m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func categoryStrings(cats []model.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
