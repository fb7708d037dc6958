// Package notion wraps the Notion API for mirroring rows into a database.
package notion

import (
	"context"
	"errors"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/jobsync/internal/resilience"
)

// Client is the subset of the Notion API the job export needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Notion client for an integration token. Calls are
// throttled to 3 req/s unless WithRateLimit says otherwise.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("notion", "request")
	}
	return c
}

// WithRetry overrides the retry policy applied to transient failures
// (429 and 5xx responses).
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *notionClient) {
		c.retry = cfg
	}
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// do runs fn under the rate limiter, retrying transient API errors.
func do[T any](ctx context.Context, c *notionClient, fn func(context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (T, error) {
		if err := c.wait(ctx); err != nil {
			var zero T
			return zero, eris.Wrap(err, "notion: rate limit")
		}
		v, err := fn(ctx)
		return v, classify(err)
	})
}

// classify marks Notion API errors by HTTP status so that rate limiting
// and server errors are retried and validation errors are not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nerr *notionapi.Error
	if errors.As(err, &nerr) {
		return resilience.FromStatus(err, nerr.Status)
	}
	return err
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := do(ctx, c, func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
		return c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	page, err := do(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.inner.Page.Create(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

func (c *notionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	page, err := do(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.inner.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: update page %s", pageID)
	}
	return page, nil
}
