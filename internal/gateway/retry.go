package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryingLedger retries failed ledger calls with exponential backoff. A
// result with Success=false is returned as is; only errors are retried.
type RetryingLedger struct {
	Next        Ledger
	MaxAttempts int
	Base        time.Duration
	Logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryingLedger(next Ledger, maxAttempts int, base time.Duration, logger *slog.Logger) *RetryingLedger {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingLedger{
		Next:        next,
		MaxAttempts: maxAttempts,
		Base:        base,
		Logger:      logger.With("component", "ledger"),
		sleep:       sleepCtx,
	}
}

func (r *RetryingLedger) SetCreditLimit(ctx context.Context, customerID string, newLimit float64, reason string) (LedgerResult, error) {
	return r.do(ctx, "set_credit_limit", customerID, func() (LedgerResult, error) {
		return r.Next.SetCreditLimit(ctx, customerID, newLimit, reason)
	})
}

func (r *RetryingLedger) SetCreditBlock(ctx context.Context, customerID string, blocked bool, reason string) (LedgerResult, error) {
	return r.do(ctx, "set_credit_block", customerID, func() (LedgerResult, error) {
		return r.Next.SetCreditBlock(ctx, customerID, blocked, reason)
	})
}

func (r *RetryingLedger) do(ctx context.Context, op, customerID string, call func() (LedgerResult, error)) (LedgerResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := r.Base << (attempt - 1)
			r.Logger.Warn("ledger call failed, retrying", "op", op, "customer_id", customerID, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := r.sleep(ctx, wait); err != nil {
				return LedgerResult{}, err
			}
		}
		res, err := call()
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return LedgerResult{}, fmt.Errorf("%s after %d attempts: %w", op, r.MaxAttempts, lastErr)
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
