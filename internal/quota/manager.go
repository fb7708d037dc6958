// Package quota spreads classification calls across a pool of
// interchangeable credentials under a per-credential rate ceiling.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrExhausted is returned when every credential is rate-limited for the day.
	ErrExhausted = eris.New("quota: all credentials exhausted")
	// ErrNoCredentials is returned when the source yields an empty pool.
	ErrNoCredentials = eris.New("quota: no credentials configured")
)

// Options configures a Manager.
type Options struct {
	// RequestsPerMinute is the provider's documented per-credential ceiling.
	RequestsPerMinute float64
	// SafetyMargin stretches the minimum delay, e.g. 0.05 waits 5% longer.
	SafetyMargin float64
	// ReloadInterval is the minimum time between credential source reads.
	ReloadInterval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Lease is a credential granted for exactly one call.
type Lease struct {
	Slot int
	Key  string
}

// SlotState is a point-in-time view of one credential.
type SlotState struct {
	Slot       int       `json:"slot"`
	Hint       string    `json:"hint"`
	LastCall   time.Time `json:"last_call,omitzero"`
	Exhausted  bool      `json:"exhausted"`
	Calls      int       `json:"calls"`
	RateLimits int       `json:"rate_limits"`
}

type slot struct {
	key        string
	lastCall   time.Time
	exhausted  bool
	limiter    *rate.Limiter
	calls      int
	rateLimits int
}

// Manager tracks the call budget of every credential in the pool.
type Manager struct {
	mu         sync.Mutex
	slots      []*slot
	known      map[string]int
	source     CredentialSource
	minDelay   time.Duration
	reloadGap  time.Duration
	lastReload time.Time
	day        string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// MinDelay converts a requests-per-minute ceiling into the minimum gap
// between two calls on one credential.
func MinDelay(rpm, margin float64) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / rpm * (1 + margin))
}

// NewManager loads the initial pool from src. An empty pool is an error.
func NewManager(ctx context.Context, src CredentialSource, opts Options) (*Manager, error) {
	m := &Manager{
		known:     make(map[string]int),
		source:    src,
		minDelay:  MinDelay(opts.RequestsPerMinute, opts.SafetyMargin),
		reloadGap: opts.ReloadInterval,
		now:       opts.Now,
		sleep:     opts.Sleep,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	m.day = dayOf(m.now())

	if _, err := m.load(ctx); err != nil {
		return nil, err
	}
	if len(m.slots) == 0 {
		return nil, ErrNoCredentials
	}
	return m, nil
}

// MinimumDelay returns the per-credential gap enforced by Acquire.
func (m *Manager) MinimumDelay() time.Duration { return m.minDelay }

// Size returns the number of credentials in the pool.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Available returns the number of credentials not exhausted today.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	n := 0
	for _, s := range m.slots {
		if !s.exhausted {
			n++
		}
	}
	return n
}

// Select returns the available credential that has been idle longest.
// Ties go to the lowest slot. It reports false when none is available.
func (m *Manager) Select() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked()
}

func (m *Manager) selectLocked() (int, bool) {
	m.rollDayLocked()
	best := -1
	for i, s := range m.slots {
		if s.exhausted {
			continue
		}
		if best < 0 || s.lastCall.Before(m.slots[best].lastCall) {
			best = i
		}
	}
	return best, best >= 0
}

// RecordCall stamps slot i as used now.
func (m *Manager) RecordCall(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return
	}
	m.slots[i].lastCall = m.now()
	m.slots[i].calls++
}

// MarkExhausted takes slot i out of rotation until the next UTC day.
func (m *Manager) MarkExhausted(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return
	}
	s := m.slots[i]
	s.rateLimits++
	if !s.exhausted {
		s.exhausted = true
		zap.L().Warn("quota: credential exhausted",
			zap.Int("slot", i),
			zap.String("hint", hint(s.key)),
		)
	}
}

// Acquire selects a credential, blocks until its minimum delay has
// elapsed, and records the call. ErrExhausted means nothing is left today.
func (m *Manager) Acquire(ctx context.Context) (Lease, error) {
	m.mu.Lock()
	i, ok := m.selectLocked()
	if !ok {
		m.mu.Unlock()
		return Lease{}, ErrExhausted
	}
	s := m.slots[i]
	now := m.now()
	r := s.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	m.mu.Unlock()

	if delay > 0 {
		if err := m.sleep(ctx, delay); err != nil {
			r.CancelAt(m.now())
			return Lease{}, eris.Wrap(err, "quota: wait for credential")
		}
	}

	m.RecordCall(i)
	return Lease{Slot: i, Key: s.key}, nil
}

// Reload re-reads the credential source, at most once per ReloadInterval,
// and appends credentials not already in the pool. Existing slots keep
// their state. It returns how many credentials were added.
func (m *Manager) Reload(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.reloadGap > 0 && !m.lastReload.IsZero() && m.now().Sub(m.lastReload) < m.reloadGap {
		m.mu.Unlock()
		return 0, nil
	}
	m.mu.Unlock()
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (int, error) {
	keys, err := m.source.Keys(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "quota: read credentials")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReload = m.now()

	added := 0
	for _, k := range keys {
		if _, ok := m.known[k]; ok || k == "" {
			continue
		}
		m.known[k] = len(m.slots)
		m.slots = append(m.slots, &slot{
			key:     k,
			limiter: rate.NewLimiter(rate.Every(m.minDelay), 1),
		})
		added++
	}
	if added > 0 && len(m.slots) > added {
		zap.L().Info("quota: credentials added", zap.Int("added", added), zap.Int("pool", len(m.slots)))
	}
	return added, nil
}

// Snapshot returns the state of every slot.
func (m *Manager) Snapshot() []SlotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	out := make([]SlotState, len(m.slots))
	for i, s := range m.slots {
		out[i] = SlotState{
			Slot:       i,
			Hint:       hint(s.key),
			LastCall:   s.lastCall,
			Exhausted:  s.exhausted,
			Calls:      s.calls,
			RateLimits: s.rateLimits,
		}
	}
	return out
}

// rollDayLocked clears exhaustion flags once the UTC calendar day changes.
func (m *Manager) rollDayLocked() {
	d := dayOf(m.now())
	if d == m.day {
		return
	}
	m.day = d
	for _, s := range m.slots {
		s.exhausted = false
	}
}

func dayOf(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func hint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "…" + key[len(key)-4:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
