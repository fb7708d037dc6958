package export

import (
	"context"
	"sync"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/mock"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type fakeSheets struct {
	mu     sync.Mutex
	id     string
	rng    string
	values [][]any
	err    error
}

func (f *fakeSheets) ReplaceValues(_ context.Context, spreadsheetID, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id, f.rng, f.values = spreadsheetID, rng, values
	return f.err
}
