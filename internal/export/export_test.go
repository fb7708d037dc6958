package export

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/store"
)

var (
	t0        = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	interview = time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)
)

func sampleJobs() []model.Job {
	return []model.Job{
		{
			ID: "job-1", Company: "Acme", Role: "Software Engineer", Kind: model.KindFullTime,
			WorkMode: model.WorkRemote, SourcePlatform: "LinkedIn", Status: model.CategoryInterview,
			FirstSeenAt: t0, LastUpdateAt: t0.Add(48 * time.Hour), InterviewAt: &interview,
		},
		{
			ID: "job-2", Company: "Globex, Inc", Role: "Data Intern", Kind: model.KindInternship,
			WorkMode: model.WorkUnknown, Status: model.CategoryApplied,
			FirstSeenAt: t0, LastUpdateAt: t0, Notes: "referral",
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestRow(t *testing.T) {
	jobs := sampleJobs()
	row := Row(jobs[0])
	require.Len(t, row, len(Header))
	assert.Equal(t, "INTERVIEW", row[6])
	assert.Equal(t, "2025-06-10T15:30:00Z", row[9])

	assert.Empty(t, Row(jobs[1])[9])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleJobs()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Header, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "job-1,Acme,Software Engineer,FULL_TIME,REMOTE,LinkedIn,INTERVIEW,"))
	assert.Contains(t, lines[2], `"Globex, Inc"`)
	assert.True(t, strings.HasSuffix(lines[2], ",,referral"))
}

func TestWriteCSV_EmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(Header, ",")+"\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.xlsx")
	require.NoError(t, WriteXLSX(path, sampleJobs()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "company", sheet.Rows[0].Cells[1].String())
	assert.Equal(t, "Globex, Inc", sheet.Rows[2].Cells[1].String())
	assert.Equal(t, "referral", sheet.Rows[2].Cells[10].String())
}

func TestLoadJobs(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	for _, j := range sampleJobs() {
		j.ID = ""
		require.NoError(t, st.CreateJob(ctx, &j))
	}

	all, err := LoadJobs(ctx, st, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Company)

	applied, err := LoadJobs(ctx, st, model.CategoryApplied)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "Globex, Inc", applied[0].Company)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "jobs-20250601.csv", DefaultPath(FormatCSV, t0))
}
