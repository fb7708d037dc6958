package export

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/model"
)

// ValuesWriter replaces the contents of a spreadsheet range.
type ValuesWriter interface {
	ReplaceValues(ctx context.Context, spreadsheetID, rng string, values [][]any) error
}

// ToSheets overwrites the tab at rng with a header row and one row per job.
func ToSheets(ctx context.Context, w ValuesWriter, spreadsheetID, rng string, jobs []model.Job) (*Result, error) {
	values := make([][]any, 0, len(jobs)+1)
	values = append(values, toAny(Header))
	for _, j := range jobs {
		values = append(values, toAny(Row(j)))
	}

	if err := w.ReplaceValues(ctx, spreadsheetID, rng, values); err != nil {
		return nil, eris.Wrap(err, "export: sheets")
	}
	return &Result{Created: len(jobs)}, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
