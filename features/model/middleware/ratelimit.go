// Package middleware provides model.Client middlewares.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
)

const (
	defaultTPM = 60000
	// promptOverhead accounts for provider framing and the completion.
	promptOverhead = 500
	// sharedUpdateAttempts bounds compare-and-swap retries on the shared
	// budget.
	sharedUpdateAttempts = 3
	sharedUpdateTimeout  = 2 * time.Second
)

type (
	// AdaptiveRateLimiter throttles model calls with a token bucket sized in
	// tokens per minute. The budget halves when the provider reports rate
	// limiting and grows back by a fixed step after each successful call,
	// staying between a tenth of the initial budget and the maximum.
	//
	// Use one limiter per process and per provider. When created with a
	// replicated map the budget is shared by every process using the same
	// key.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		bucket  *rate.Limiter
		tpm     float64
		floor   float64
		ceiling float64
		step    float64
		shared  *sharedBudget
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// budgetMap is the subset of rmap.Map holding the shared budget.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	// sharedBudget publishes local budget changes to a replicated map entry.
	sharedBudget struct {
		m   budgetMap
		key string
	}
)

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM tokens per
// minute and never exceeding maxTPM. When m is not nil and key is set the
// budget is stored under key in m and kept in sync across processes.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil {
		return newClusterAdaptiveRateLimiter(ctx, nil, key, initialTPM, maxTPM)
	}
	return newClusterAdaptiveRateLimiter(ctx, m, key, initialTPM, maxTPM)
}

func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = defaultTPM
	}
	maxTPM = max(maxTPM, initialTPM)
	return &AdaptiveRateLimiter{
		bucket:  rate.NewLimiter(perSecond(initialTPM), int(initialTPM)),
		tpm:     initialTPM,
		floor:   max(initialTPM/10, 1),
		ceiling: maxTPM,
		step:    max(initialTPM/20, 1),
	}
}

func newClusterAdaptiveRateLimiter(ctx context.Context, m budgetMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil || key == "" {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		// Losing the race to another process is fine: its value is read
		// back below.
		if _, err := m.SetIfNotExists(ctx, key, formatTPM(initialTPM)); err != nil {
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	start := initialTPM
	if v, ok := readTPM(m, key); ok {
		start = v
	}
	l := newAdaptiveRateLimiter(start, maxTPM)
	l.shared = &sharedBudget{m: m, key: key}

	updates := m.Subscribe()
	go func() {
		for range updates {
			if v, ok := readTPM(m, key); ok {
				l.set(v)
			}
		}
	}()
	return l
}

// Middleware wraps a client so that each call first reserves its estimated
// token cost.
func (l *AdaptiveRateLimiter) Middleware() model.Middleware {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

func (c *limitedClient) Stream(ctx context.Context, req model.Request, emit func(task.Delta) error) error {
	if err := c.limiter.wait(ctx, req); err != nil {
		return err
	}
	err := c.next.Stream(ctx, req, emit)
	switch {
	case err == nil:
		c.limiter.probe()
	case errors.Is(err, model.ErrRateLimited):
		c.limiter.backoff()
	}
	return err
}

// TPM returns the current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

// wait blocks until the bucket holds the estimated cost of req, capped at the
// bucket size so that large prompts still go through under small budgets.
func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	l.mu.Lock()
	bucket := l.bucket
	l.mu.Unlock()
	return bucket.WaitN(ctx, min(estimateTokens(req), bucket.Burst()))
}

func (l *AdaptiveRateLimiter) backoff() {
	l.adjust(func(tpm float64) float64 { return tpm / 2 })
}

func (l *AdaptiveRateLimiter) probe() {
	l.adjust(func(tpm float64) float64 { return tpm + l.step })
}

// adjust applies f to the local budget and, when it changed, to the shared
// one.
func (l *AdaptiveRateLimiter) adjust(f func(float64) float64) {
	l.mu.Lock()
	changed := l.setLocked(f(l.tpm))
	l.mu.Unlock()
	if !changed || l.shared == nil {
		return
	}
	floor, ceiling := l.floor, l.ceiling
	go l.shared.update(func(tpm float64) float64 {
		return clamp(f(tpm), floor, ceiling)
	})
}

// set stores tpm clamped to the limiter bounds.
func (l *AdaptiveRateLimiter) set(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(tpm)
}

func (l *AdaptiveRateLimiter) setLocked(tpm float64) bool {
	tpm = clamp(tpm, l.floor, l.ceiling)
	if tpm == l.tpm {
		return false
	}
	l.tpm = tpm
	l.bucket.SetLimit(perSecond(tpm))
	l.bucket.SetBurst(int(tpm))
	return true
}

// update swaps the shared value for f(value), retrying when another process
// changed it in between.
func (s *sharedBudget) update(f func(float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), sharedUpdateTimeout)
	defer cancel()
	for range sharedUpdateAttempts {
		cur, ok := s.m.Get(s.key)
		if !ok {
			return
		}
		v, err := strconv.ParseFloat(cur, 64)
		if err != nil || v <= 0 {
			return
		}
		next := formatTPM(f(v))
		if next == cur {
			return
		}
		prev, err := s.m.TestAndSet(ctx, s.key, cur, next)
		if err != nil || prev == cur {
			return
		}
	}
}

// estimateTokens approximates the token cost of req at three characters per
// token plus a fixed overhead.
func estimateTokens(req model.Request) int {
	return (len(req.System)+len(req.Prompt))/3 + promptOverhead
}

func readTPM(m budgetMap, key string) (float64, bool) {
	s, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(tpm float64) string {
	return strconv.Itoa(int(tpm))
}

func perSecond(tpm float64) rate.Limit {
	return rate.Limit(tpm / 60)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
