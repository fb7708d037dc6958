package export

import (
	"context"
	"sync/atomic"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/pkg/notion"
)

// Notion property names. The database must define them with these types:
// Company (title), Role, Platform, Notes and Job ID (rich text), Status,
// Type and Work Mode (select), First Seen, Last Update and Interview (date).
const (
	PropCompany    = "Company"
	PropRole       = "Role"
	PropStatus     = "Status"
	PropKind       = "Type"
	PropWorkMode   = "Work Mode"
	PropPlatform   = "Platform"
	PropFirstSeen  = "First Seen"
	PropLastUpdate = "Last Update"
	PropInterview  = "Interview"
	PropNotes      = "Notes"
	PropJobID      = "Job ID"
)

// notionConcurrency matches the client's default request rate.
const notionConcurrency = 3

// Result counts rows written to an external destination.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// JobProperties renders a job as Notion page properties.
func JobProperties(j model.Job) notionapi.Properties {
	first, last := j.FirstSeenAt, j.LastUpdateAt
	return notionapi.Properties{
		PropCompany:    notion.Title(j.Company),
		PropRole:       notion.Text(j.Role),
		PropStatus:     notion.Select(string(j.Status)),
		PropKind:       notion.Select(string(j.Kind)),
		PropWorkMode:   notion.Select(string(j.WorkMode)),
		PropPlatform:   notion.Text(j.SourcePlatform),
		PropFirstSeen:  notion.Date(&first),
		PropLastUpdate: notion.Date(&last),
		PropInterview:  notion.Date(j.InterviewAt),
		PropNotes:      notion.Text(j.Notes),
		PropJobID:      notion.Text(j.ID),
	}
}

// ToNotion mirrors jobs into a Notion database: pages are matched on the
// Job ID property and updated in place, missing jobs get new pages. Pages
// for jobs that no longer exist are left alone.
func ToNotion(ctx context.Context, c notion.Client, dbID string, jobs []model.Job) (*Result, error) {
	idx, err := notion.IndexPages(ctx, c, dbID, PropJobID)
	if err != nil {
		return nil, eris.Wrap(err, "export: notion index")
	}

	var created, updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notionConcurrency)

	for _, j := range jobs {
		g.Go(func() error {
			isNew, err := notion.UpsertPage(gctx, c, dbID, idx[j.ID], JobProperties(j))
			if err != nil {
				return eris.Wrapf(err, "export: notion job %s", j.ID)
			}
			if isNew {
				created.Add(1)
			} else {
				updated.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	res := &Result{Created: int(created.Load()), Updated: int(updated.Load())}
	zap.L().Info("notion export",
		zap.String("database", dbID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
	)
	return res, err
}
