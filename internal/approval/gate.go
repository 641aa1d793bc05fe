// Package approval suspends a workflow run until a human decision arrives.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/davidahmann/creditgate/internal/intake"
	"github.com/davidahmann/creditgate/internal/keylock"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
)

var (
	ErrInvalidState    = errors.New("invalid approval state")
	ErrApprovalTimeout = errors.New("approval timeout")
)

type TimeoutPolicy string

const (
	OnTimeoutAutoApprove TimeoutPolicy = "auto_approve"
	OnTimeoutFail        TimeoutPolicy = "fail"
)

func (p TimeoutPolicy) Valid() bool {
	return p == OnTimeoutAutoApprove || p == OnTimeoutFail
}

const AutoApprover = "system"

type Config struct {
	// Timeout bounds the wait for a decision. Zero waits forever.
	Timeout   time.Duration
	OnTimeout TimeoutPolicy
}

// Gate hands decisions to suspended runs. Waiters park on a per-request
// channel; SubmitDecision delivers to at most one of them. Store calls for a
// request run under that request's lock; mu only guards waiters and is
// always taken after the request lock.
type Gate struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	keys   keylock.Map

	mu      sync.Mutex
	waiters map[string]chan types.ApprovalDecision
}

func NewGate(s store.Store, cfg Config, logger *slog.Logger) *Gate {
	if cfg.OnTimeout == "" {
		cfg.OnTimeout = OnTimeoutAutoApprove
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:   s,
		cfg:     cfg,
		logger:  logger.With("component", "approval"),
		now:     time.Now,
		waiters: map[string]chan types.ApprovalDecision{},
	}
}

// SetClock replaces the time source used for decision timestamps.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// AwaitDecision returns a cached decision at once, otherwise blocks until
// SubmitDecision, the configured timeout, or ctx. A timeout, or a ctx
// deadline, applies the timeout policy; plain cancellation returns ctx.Err().
func (g *Gate) AwaitDecision(ctx context.Context, requestID string, rec types.Recommendation) (types.ApprovalDecision, error) {
	ch, d, err := g.park(ctx, requestID)
	if ch == nil {
		return d, err
	}

	var timeout <-chan time.Time
	if g.cfg.Timeout > 0 {
		timer := time.NewTimer(g.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-ch:
		return d, nil
	case <-timeout:
		return g.expire(ctx, requestID, ch, rec)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return g.expire(context.WithoutCancel(ctx), requestID, ch, rec)
		}
		unlock := g.keys.Lock(requestID)
		defer unlock()
		if d, ok := g.withdraw(requestID, ch); ok {
			return d, nil
		}
		return types.ApprovalDecision{}, ctx.Err()
	}
}

// park consumes a cached decision or registers a waiter. A nil channel means
// the wait is already settled by the returned decision or error.
func (g *Gate) park(ctx context.Context, requestID string) (chan types.ApprovalDecision, types.ApprovalDecision, error) {
	unlock := g.keys.Lock(requestID)
	defer unlock()

	cached, err := g.store.GetDecision(ctx, requestID)
	switch {
	case err == nil && cached.Consumed:
		return nil, types.ApprovalDecision{}, fmt.Errorf("%w: decision for %s already consumed", ErrInvalidState, requestID)
	case err == nil:
		cached.Consumed = true
		cached.UpdatedAt = g.now().UTC()
		if err := g.store.PutDecision(ctx, cached); err != nil {
			return nil, types.ApprovalDecision{}, err
		}
		return nil, cached.Decision, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, types.ApprovalDecision{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, waiting := g.waiters[requestID]; waiting {
		return nil, types.ApprovalDecision{}, fmt.Errorf("%w: %s is already awaiting a decision", ErrInvalidState, requestID)
	}
	ch := make(chan types.ApprovalDecision, 1)
	g.waiters[requestID] = ch
	return ch, types.ApprovalDecision{}, nil
}

// withdraw removes the waiter and picks up a decision that raced with it.
// Callers hold the request lock.
func (g *Gate) withdraw(requestID string, ch chan types.ApprovalDecision) (types.ApprovalDecision, bool) {
	g.mu.Lock()
	if g.waiters[requestID] == ch {
		delete(g.waiters, requestID)
	}
	g.mu.Unlock()
	select {
	case d := <-ch:
		return d, true
	default:
		return types.ApprovalDecision{}, false
	}
}

func (g *Gate) expire(ctx context.Context, requestID string, ch chan types.ApprovalDecision, rec types.Recommendation) (types.ApprovalDecision, error) {
	unlock := g.keys.Lock(requestID)
	defer unlock()
	if d, ok := g.withdraw(requestID, ch); ok {
		return d, nil
	}

	if g.cfg.OnTimeout == OnTimeoutFail {
		g.logger.Warn("approval timed out", "request_id", requestID, "timeout", g.cfg.Timeout)
		return types.ApprovalDecision{}, fmt.Errorf("%w: no decision for %s within %s", ErrApprovalTimeout, requestID, g.cfg.Timeout)
	}

	now := g.now().UTC()
	d := types.ApprovalDecision{
		Decision:      types.DecisionApprove,
		ApprovedLimit: rec.RecommendedLimit,
		Comments:      fmt.Sprintf("Auto-approved based on recommendation: %s", rec.Kind),
		SubmittedBy:   AutoApprover,
		SubmittedAt:   now,
		AutoApproved:  true,
	}
	if err := g.store.PutDecision(ctx, store.DecisionRecord{RequestID: requestID, Decision: d, Consumed: true, UpdatedAt: now}); err != nil {
		return types.ApprovalDecision{}, err
	}
	g.logger.Warn("approval timed out, auto-approving", "request_id", requestID, "recommendation", rec.Kind)
	return d, nil
}

// SubmitDecision delivers d to the suspended run for requestID, or caches it
// for the next AwaitDecision. A decision that was already consumed cannot be
// replaced.
func (g *Gate) SubmitDecision(ctx context.Context, requestID string, d types.ApprovalDecision) error {
	if err := intake.ValidateDecision(d); err != nil {
		return err
	}
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = g.now().UTC()
	}

	unlock := g.keys.Lock(requestID)
	defer unlock()

	existing, err := g.store.GetDecision(ctx, requestID)
	switch {
	case err == nil && existing.Consumed:
		return fmt.Errorf("%w: decision for %s already consumed", ErrInvalidState, requestID)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}

	g.mu.Lock()
	ch, waiting := g.waiters[requestID]
	g.mu.Unlock()
	rec := store.DecisionRecord{RequestID: requestID, Decision: d, Consumed: waiting, UpdatedAt: d.SubmittedAt}
	if err := g.store.PutDecision(ctx, rec); err != nil {
		return err
	}
	if waiting {
		g.mu.Lock()
		delete(g.waiters, requestID)
		g.mu.Unlock()
		ch <- d
		g.logger.Info("approval delivered", "request_id", requestID, "decision", d.Decision)
		return nil
	}
	g.logger.Info("approval cached ahead of run", "request_id", requestID, "decision", d.Decision)
	return nil
}

// Reset clears a consumed decision left by an earlier run so a restarted
// run can be approved again. A pending early decision is kept.
func (g *Gate) Reset(ctx context.Context, requestID string) error {
	unlock := g.keys.Lock(requestID)
	defer unlock()
	rec, err := g.store.GetDecision(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Consumed {
		return nil
	}
	return g.store.DeleteDecision(ctx, requestID)
}

// Pending lists the request ids currently suspended.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.waiters))
	for id := range g.waiters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsPending reports whether a run for requestID is suspended right now.
func (g *Gate) IsPending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiters[requestID]
	return ok
}
