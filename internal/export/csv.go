package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/model"
)

// WriteCSV encodes jobs with a header row, using the csv tags on model.Job.
// The header is written even when jobs is empty.
func WriteCSV(w io.Writer, jobs []model.Job) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(model.Job{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for i := range jobs {
		if err := enc.Encode(jobs[i]); err != nil {
			return eris.Wrapf(err, "export: csv row %s", jobs[i].ID)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: csv flush")
	}
	return nil
}
