// Package export writes the job table to files and external workspaces.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/store"
)

// Format names an export destination.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
	FormatNotion Format = "notion"
	FormatSheets Format = "sheets"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatNotion, FormatSheets:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Header is the column order shared by the tabular exports.
var Header = []string{
	"id", "company", "role", "job_type", "work_mode", "source_platform",
	"status", "first_seen_at", "last_update_at", "interview_at", "notes",
}

// Row renders a job in Header order.
func Row(j model.Job) []string {
	interview := ""
	if j.InterviewAt != nil {
		interview = formatTime(*j.InterviewAt)
	}
	return []string{
		j.ID,
		j.Company,
		j.Role,
		string(j.Kind),
		string(j.WorkMode),
		j.SourcePlatform,
		string(j.Status),
		formatTime(j.FirstSeenAt),
		formatTime(j.LastUpdateAt),
		interview,
		j.Notes,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// LoadJobs reads every job matching status ("" for all), most recently
// updated first.
func LoadJobs(ctx context.Context, st store.Store, status model.Category) ([]model.Job, error) {
	jobs, err := st.ListJobs(ctx, model.JobFilter{Status: status})
	if err != nil {
		return nil, eris.Wrap(err, "export: load jobs")
	}
	return jobs, nil
}

// DefaultPath is the output file for a file format when none is given.
func DefaultPath(f Format, now time.Time) string {
	return fmt.Sprintf("jobs-%s.%s", now.Format("20060102"), f)
}
