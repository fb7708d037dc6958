package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/pipeline"
	"github.com/sells-group/jobsync/internal/quota"
	"github.com/sells-group/jobsync/internal/store"
)

// RunStatus is the live view of the current (or last) ingestion run.
type RunStatus struct {
	Running    bool               `json:"running"`
	Mode       model.Mode         `json:"mode,omitempty"`
	StartedAt  time.Time          `json:"started_at,omitzero"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
	Halted     string             `json:"halted,omitempty"`
	Outcomes   map[string]int     `json:"outcomes"`
	Requests   int                `json:"requests"`
	Rotations  int                `json:"rotations"`
	RateLimits int                `json:"rate_limits"`
	Tokens     TokenTotals        `json:"tokens"`
	PerSlot    map[int]SlotCounts `json:"per_slot,omitempty"`
	Summary    *pipeline.Summary  `json:"summary,omitempty"`
}

// TokenTotals sums classifier token usage.
type TokenTotals struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// SlotCounts is the per-credential activity within a run.
type SlotCounts struct {
	Requests   int `json:"requests"`
	Rotations  int `json:"rotations"`
	RateLimits int `json:"rate_limits"`
}

// MetricsSnapshot holds a point-in-time view of the store and the run.
type MetricsSnapshot struct {
	Run          RunStatus           `json:"run"`
	Jobs         int                 `json:"jobs"`
	Messages     int                 `json:"messages"`
	StatusCounts []model.StatusCount `json:"status_counts"`
	Credentials  []quota.SlotState   `json:"credentials,omitempty"`
	CollectedAt  time.Time           `json:"collected_at"`
}

// QuotaReporter exposes per-credential state; *quota.Manager satisfies it.
type QuotaReporter interface {
	Snapshot() []quota.SlotState
}

// Collector records run telemetry as it happens and combines it with store
// counts on demand. It implements classify.Recorder and pipeline.Observer.
type Collector struct {
	store store.Store
	quota QuotaReporter

	mu  sync.Mutex
	run RunStatus
}

// NewCollector creates a new metrics collector. q may be nil.
func NewCollector(st store.Store, q QuotaReporter) *Collector {
	return &Collector{store: st, quota: q, run: RunStatus{Outcomes: map[string]int{}}}
}

// RunStarted resets the run counters.
func (c *Collector) RunStarted(mode model.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = RunStatus{
		Running:   true,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		Outcomes:  map[string]int{},
		PerSlot:   map[int]SlotCounts{},
	}
}

// MessageDone counts one message outcome.
func (c *Collector) MessageDone(o pipeline.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.Outcomes[string(o)]++
}

// RunFinished records the final summary.
func (c *Collector) RunFinished(sum *pipeline.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.Running = false
	c.run.FinishedAt = time.Now().UTC()
	if sum != nil {
		cp := *sum
		c.run.Summary = &cp
		c.run.Halted = sum.Halted
	}
}

func (c *Collector) slotLocked(slot int) SlotCounts {
	if c.run.PerSlot == nil {
		c.run.PerSlot = map[int]SlotCounts{}
	}
	return c.run.PerSlot[slot]
}

// RecordRequest counts a classification call on slot.
func (c *Collector) RecordRequest(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slotLocked(slot)
	s.Requests++
	c.run.PerSlot[slot] = s
	c.run.Requests++
}

// RecordRotation counts a switch to slot from a different credential.
func (c *Collector) RecordRotation(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slotLocked(slot)
	s.Rotations++
	c.run.PerSlot[slot] = s
	c.run.Rotations++
}

// RecordRateLimit counts a 429 on slot.
func (c *Collector) RecordRateLimit(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slotLocked(slot)
	s.RateLimits++
	c.run.PerSlot[slot] = s
	c.run.RateLimits++
}

// RecordTokens adds classifier token usage.
func (c *Collector) RecordTokens(input, output int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.Tokens.Input += input
	c.run.Tokens.Output += output
}

// Run returns a copy of the current run status.
func (c *Collector) Run() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.run
	out.Outcomes = make(map[string]int, len(c.run.Outcomes))
	for k, v := range c.run.Outcomes {
		out.Outcomes[k] = v
	}
	if c.run.PerSlot != nil {
		out.PerSlot = make(map[int]SlotCounts, len(c.run.PerSlot))
		for k, v := range c.run.PerSlot {
			out.PerSlot[k] = v
		}
	}
	return out
}

// Collect gathers a snapshot of the run and store.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		Run:         c.Run(),
		CollectedAt: time.Now().UTC(),
	}

	counts, err := c.store.StatusCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: status counts")
	}
	snap.StatusCounts = counts
	for _, sc := range counts {
		snap.Jobs += sc.Count
	}

	n, err := c.store.CountMessages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count messages")
	}
	snap.Messages = n

	if c.quota != nil {
		snap.Credentials = c.quota.Snapshot()
	}
	return snap, nil
}
