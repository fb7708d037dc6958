package pipeline

import (
	"context"

	"github.com/sells-group/jobsync/internal/model"
)

// Page is one listing batch from a Source.
type Page struct {
	IDs           []string
	NextPageToken string
}

// Source lists and fetches messages from a mailbox. List results are
// ordered by the source; an empty NextPageToken ends the listing.
type Source interface {
	List(ctx context.Context, query, pageToken string) (*Page, error)
	Fetch(ctx context.Context, id string) (*model.Message, error)
}

// Classifier produces a classification for a message. It returns
// classify.ErrQuotaExhausted when the run should halt.
type Classifier interface {
	Classify(ctx context.Context, msg model.Message) (*model.Classification, error)
}

// Outcome is what happened to a single listed message.
type Outcome string

const (
	OutcomeAlreadyStored Outcome = "already_stored"
	OutcomeFetchFailed   Outcome = "fetch_failed"
	OutcomeFiltered      Outcome = "filtered"
	OutcomeUnclassified  Outcome = "unclassified"
	OutcomeSkippedOther  Outcome = "skipped_other"
	OutcomeStored        Outcome = "stored"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeStoreFailed   Outcome = "store_failed"
)

// Observer is notified as a run progresses. Implementations must be safe
// for use from the run goroutine while other goroutines read them.
type Observer interface {
	RunStarted(mode model.Mode)
	MessageDone(outcome Outcome)
	RunFinished(sum *Summary)
}
