// Package classify turns one email into a structured Classification using
// the Anthropic API, spreading calls across the credential pool.
package classify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/quota"
	"github.com/sells-group/jobsync/internal/resilience"
	"github.com/sells-group/jobsync/pkg/anthropic"
)

var (
	// ErrQuotaExhausted means every credential is rate-limited for the day.
	// The caller should stop the run and resume after the quota resets.
	ErrQuotaExhausted = eris.New("classify: all credentials exhausted")
	// ErrUnclassified means the attempt budget ran out for this message.
	ErrUnclassified = eris.New("classify: no usable response")
)

// Recorder receives call telemetry.
type Recorder interface {
	RecordRequest(slot int)
	RecordRotation(slot int)
	RecordRateLimit(slot int)
	RecordTokens(input, output int64)
}

// Options configures a Classifier.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// MaxErrors bounds attempts that fail with an API or network error.
	MaxErrors int
	Recorder  Recorder
}

// Classifier classifies messages. It is used by a single worker but its
// client cache is safe for concurrent use.
type Classifier struct {
	quota   *quota.Manager
	factory anthropic.Factory
	opts    Options
	system  []anthropic.SystemBlock

	mu       sync.Mutex
	clients  map[string]anthropic.Client
	lastSlot int

	exhausted atomic.Bool
}

// New returns a Classifier drawing credentials from q.
func New(q *quota.Manager, factory anthropic.Factory, opts Options) *Classifier {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	return &Classifier{
		quota:    q,
		factory:  factory,
		opts:     opts,
		system:   anthropic.BuildCachedSystemBlocks(systemPrompt, "1h"),
		clients:  make(map[string]anthropic.Client),
		lastSlot: -1,
	}
}

// Exhausted reports whether the last Classify stopped because every
// credential was rate-limited.
func (c *Classifier) Exhausted() bool { return c.exhausted.Load() }

// Classify returns the classification of msg. ErrQuotaExhausted is a
// planned stop; ErrUnclassified means this message should be skipped.
func (c *Classifier) Classify(ctx context.Context, msg model.Message) (*model.Classification, error) {
	log := zap.L().With(zap.String("message_id", msg.ExternalID))
	maxAttempts := 2*c.quota.Size() + 2
	temp := c.opts.Temperature
	req := anthropic.MessageRequest{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		System:      c.system,
		Messages:    []anthropic.Message{{Role: "user", Content: userContent(msg)}},
		Temperature: &temp,
	}

	failures := 0
	for attempt := 0; attempt < maxAttempts; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.quota.Reload(ctx); err != nil {
			log.Warn("classify: credential reload failed", zap.Error(err))
		}

		lease, err := c.quota.Acquire(ctx)
		if errors.Is(err, quota.ErrExhausted) {
			c.exhausted.Store(true)
			log.Warn("classify: all credentials rate-limited, stopping until quota resets",
				zap.Int("pool", c.quota.Size()))
			return nil, ErrQuotaExhausted
		}
		if err != nil {
			return nil, err
		}
		c.exhausted.Store(false)
		c.noteSlot(lease.Slot)

		resp, err := c.client(lease.Key).CreateMessage(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if anthropic.IsRateLimited(err) {
				// Rotation does not consume an attempt.
				c.quota.MarkExhausted(lease.Slot)
				if c.opts.Recorder != nil {
					c.opts.Recorder.RecordRateLimit(lease.Slot)
				}
				log.Warn("classify: credential rate-limited, rotating", zap.Int("slot", lease.Slot))
				continue
			}
			attempt++
			failures++
			log.Error("classify: api error",
				zap.Int("attempt", attempt),
				zap.Int("slot", lease.Slot),
				zap.Bool("transient", resilience.IsTransient(err) || resilience.IsTransientHTTPStatus(anthropic.StatusCode(err))),
				zap.Error(err),
			)
			if failures >= c.opts.MaxErrors {
				break
			}
			continue
		}
		attempt++

		if c.opts.Recorder != nil {
			c.opts.Recorder.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		resp.Usage.LogCost(c.opts.Model, "classify")

		text := resp.Text()
		if text == "" {
			log.Warn("classify: empty response", zap.Int("attempt", attempt))
			continue
		}
		result, err := Decode(text)
		if err != nil {
			log.Warn("classify: unusable response, retrying",
				zap.Int("attempt", attempt),
				zap.String("raw", model.Excerpt(text, 200)),
				zap.Error(err),
			)
			continue
		}

		if NeedsCompanyFallback(result.Company) {
			result.Company = FallbackCompany(msg.Sender, msg.Subject)
			log.Debug("classify: company from fallback", zap.String("company", result.Company))
		}
		return result, nil
	}

	log.Error("classify: giving up", zap.String("subject", msg.Subject))
	return nil, ErrUnclassified
}

func (c *Classifier) client(key string) anthropic.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clients[key]
	if !ok {
		cl = c.factory(key)
		c.clients[key] = cl
	}
	return cl
}

func (c *Classifier) noteSlot(slot int) {
	c.mu.Lock()
	prev := c.lastSlot
	c.lastSlot = slot
	c.mu.Unlock()

	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordRequest(slot)
		if prev >= 0 && prev != slot {
			c.opts.Recorder.RecordRotation(slot)
		}
	}
	if prev != slot {
		zap.L().Debug("classify: using credential", zap.Int("slot", slot))
	}
}
