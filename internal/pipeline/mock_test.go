package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/jobsync/internal/model"
)

// --- Source Mock ---

type mockSource struct {
	mock.Mock
}

func (m *mockSource) List(ctx context.Context, query, pageToken string) (*Page, error) {
	args := m.Called(ctx, query, pageToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Page), args.Error(1)
}

func (m *mockSource) Fetch(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// --- Classifier Mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, msg model.Message) (*model.Classification, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Classification), args.Error(1)
}

// byExternalID matches the message argument of Classify.
func byExternalID(id string) any {
	return mock.MatchedBy(func(msg model.Message) bool { return msg.ExternalID == id })
}

// --- Observer ---

type recordingObserver struct {
	mu       sync.Mutex
	started  []model.Mode
	outcomes map[Outcome]int
	finished *Summary
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[Outcome]int)}
}

func (o *recordingObserver) RunStarted(mode model.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, mode)
}

func (o *recordingObserver) MessageDone(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) RunFinished(sum *Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = sum
}
