package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/jobsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Times are stored
// as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps per-connection pragmas in force and serializes
	// writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	company         TEXT NOT NULL,
	role            TEXT NOT NULL,
	job_type        TEXT NOT NULL DEFAULT 'UNKNOWN',
	work_mode       TEXT NOT NULL DEFAULT 'UNKNOWN',
	source_platform TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	first_seen_at   INTEGER NOT NULL,
	last_update_at  INTEGER NOT NULL,
	interview_at    INTEGER,
	notes           TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	job_id      TEXT REFERENCES jobs(id) ON DELETE CASCADE,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at INTEGER NOT NULL,
	category    TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	mode       TEXT PRIMARY KEY,
	query      TEXT NOT NULL DEFAULT '',
	page_token TEXT NOT NULL DEFAULT '',
	processed  INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_job_id ON messages(job_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_company ON jobs(company);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Messages ---

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	return s.insertMessage(ctx, s.db, msg)
}

func (s *SQLiteStore) insertMessage(ctx context.Context, ex sqlExecer, msg *model.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO messages (id, external_id, job_id, subject, sender, body, received_at, category, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		msg.ID, msg.ExternalID, nullString(msg.JobID), msg.Subject, msg.Sender, msg.Body,
		toMillis(msg.ReceivedAt), string(msg.Category), msg.Confidence, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert message %s", msg.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecordMessage(ctx context.Context, job *model.Job, isNew bool, msg *model.Message) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin record")
	}
	defer tx.Rollback() //nolint:errcheck

	if isNew {
		err = s.createJob(ctx, tx, job)
	} else {
		err = s.updateJob(ctx, tx, job)
	}
	if err != nil {
		return false, err
	}

	msg.JobID = job.ID
	inserted, err := s.insertMessage(ctx, tx, msg)
	if err != nil || !inserted {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit record")
	}
	return true, nil
}

func (s *SQLiteStore) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += 500 {
		chunk := ids[start:min(start+500, len(ids))]
		rows, err := s.db.QueryContext(ctx,
			`SELECT external_id FROM messages WHERE external_id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing external ids")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan external id")
			}
			out[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing external ids iterate")
		}
	}
	return out, nil
}

func (s *SQLiteStore) LatestMessageTime(ctx context.Context) (*time.Time, error) {
	var ms sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(received_at) FROM messages`).Scan(&ms); err != nil {
		return nil, eris.Wrap(err, "sqlite: latest message time")
	}
	return fromNullMillis(ms), nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get message %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	query += ` ORDER BY received_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryMessages(ctx, "sqlite: list messages", query, args...)
}

func (s *SQLiteStore) ListMessagesByCategory(ctx context.Context, cats ...model.Category) ([]model.Message, error) {
	if len(cats) == 0 {
		return nil, nil
	}
	return s.queryMessages(ctx, "sqlite: list messages by category",
		`SELECT `+messageColumns+` FROM messages WHERE category IN (`+placeholders(len(cats))+`) ORDER BY received_at`,
		stringArgs(categoryStrings(cats))...,
	)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *SQLiteStore) UpdateMessageCategory(ctx context.Context, id string, cat model.Category) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET category = ? WHERE id = ?`, string(cat), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update message category %s", id)
	}
	return checkRowsAffected(res, "message", id)
}

func (s *SQLiteStore) OverrideMessage(ctx context.Context, id string, cat model.Category) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET category = ?, confidence = 1.0 WHERE id = ?`, string(cat), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: override message %s", id)
	}
	return checkRowsAffected(res, "message", id)
}

func (s *SQLiteStore) JobMessageCategories(ctx context.Context, jobID string) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category FROM messages WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: message categories for job %s", jobID)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		cats = append(cats, model.Category(c))
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: message categories iterate")
}

func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count messages")
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	return s.createJob(ctx, s.db, job)
}

func (s *SQLiteStore) createJob(ctx context.Context, ex sqlExecer, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Company, job.Role, string(job.Kind), string(job.WorkMode), job.SourcePlatform,
		string(job.Status), toMillis(job.FirstSeenAt), toMillis(job.LastUpdateAt),
		toNullMillis(job.InterviewAt), job.Notes, toMillis(job.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert job %s / %s", job.Company, job.Role)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	return s.updateJob(ctx, s.db, job)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) updateJob(ctx context.Context, ex sqlExecer, job *model.Job) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE jobs SET company = ?, role = ?, job_type = ?, work_mode = ?, source_platform = ?,
		 status = ?, first_seen_at = ?, last_update_at = ?, interview_at = ?, notes = ?
		 WHERE id = ?`,
		job.Company, job.Role, string(job.Kind), string(job.WorkMode), job.SourcePlatform,
		string(job.Status), toMillis(job.FirstSeenAt), toMillis(job.LastUpdateAt),
		toNullMillis(job.InterviewAt), job.Notes, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) FindJob(ctx context.Context, company, role string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE LOWER(company) = LOWER(?) AND LOWER(role) = LOWER(?)
		 ORDER BY created_at LIMIT 1`,
		company, role,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find job")
	}
	return j, nil
}

func (s *SQLiteStore) SearchJobsByCompany(ctx context.Context, fragment string) ([]model.Job, error) {
	return s.queryJobs(ctx, "sqlite: search jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE LOWER(company) LIKE ? ESCAPE '\' ORDER BY created_at`,
		"%"+escapeLike(strings.ToLower(fragment))+"%",
	)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY last_update_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryJobs(ctx, "sqlite: list jobs", query, args...)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.Category) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) ([]model.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) AS n FROM jobs GROUP BY status ORDER BY n DESC, status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close()

	var out []model.StatusCount
	for rows.Next() {
		var sc model.StatusCount
		var status string
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		sc.Status = model.Category(status)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: status counts iterate")
}

// --- Reconciliation ---

func (s *SQLiteStore) MergeJobs(ctx context.Context, keeper *model.Job, loserIDs []string) (int, error) {
	if len(loserIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	in := placeholders(len(loserIDs))
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET job_id = ? WHERE job_id IN (`+in+`)`,
		append([]any{keeper.ID}, stringArgs(loserIDs)...)...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reassign messages")
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if err := s.updateJob(ctx, tx, keeper); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (`+in+`)`, stringArgs(loserIDs)...); err != nil {
		return 0, eris.Wrap(err, "sqlite: delete merged jobs")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit merge")
	}
	return int(moved), nil
}

func (s *SQLiteStore) DeleteOrphanJobs(ctx context.Context) ([]string, error) {
	return s.returningIDs(ctx, "sqlite: delete orphan jobs",
		`DELETE FROM jobs WHERE NOT EXISTS (SELECT 1 FROM messages m WHERE m.job_id = jobs.id) RETURNING id`)
}

func (s *SQLiteStore) GhostJobs(ctx context.Context, cutoff time.Time) ([]string, error) {
	args := []any{string(model.CategoryGhosted)}
	args = append(args, stringArgs(categoryStrings(ghostable))...)
	args = append(args, toMillis(cutoff))
	return s.returningIDs(ctx, "sqlite: ghost jobs",
		`UPDATE jobs SET status = ?
		 WHERE status IN (`+placeholders(len(ghostable))+`)
		   AND COALESCE((SELECT MAX(m.received_at) FROM messages m WHERE m.job_id = jobs.id), jobs.first_seen_at) < ?
		 RETURNING id`,
		args...,
	)
}

func (s *SQLiteStore) returningIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, mode model.Mode) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var m string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, query, page_token, processed, updated_at FROM checkpoints WHERE mode = ?`, string(mode),
	).Scan(&m, &cp.Query, &cp.PageToken, &cp.Processed, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", mode)
	}
	cp.Mode = model.Mode(m)
	cp.UpdatedAt = fromMillis(updated)
	return &cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (mode, query, page_token, processed, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (mode) DO UPDATE SET query = excluded.query, page_token = excluded.page_token,
		 processed = excluded.processed, updated_at = excluded.updated_at`,
		string(cp.Mode), cp.Query, cp.PageToken, cp.Processed, toMillis(cp.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.Mode)
}

func (s *SQLiteStore) ClearCheckpoint(ctx context.Context, mode model.Mode) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE mode = ?`, string(mode))
	return eris.Wrapf(err, "sqlite: clear checkpoint %s", mode)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var kind, mode, status string
	var first, last, created int64
	var interview sql.NullInt64
	err := row.Scan(&j.ID, &j.Company, &j.Role, &kind, &mode, &j.SourcePlatform, &status,
		&first, &last, &interview, &j.Notes, &created)
	if err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.WorkMode = model.WorkMode(mode)
	j.Status = model.Category(status)
	j.FirstSeenAt = fromMillis(first)
	j.LastUpdateAt = fromMillis(last)
	j.InterviewAt = fromNullMillis(interview)
	j.CreatedAt = fromMillis(created)
	return &j, nil
}

func scanSQLiteMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	var cat string
	var received, created int64
	err := row.Scan(&m.ID, &m.ExternalID, &m.JobID, &m.Subject, &m.Sender, &m.Body,
		&received, &cat, &m.Confidence, &created)
	if err != nil {
		return nil, err
	}
	m.Category = model.Category(cat)
	m.ReceivedAt = fromMillis(received)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
