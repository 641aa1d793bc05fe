// Package notify delivers workflow notifications through a durable outbox.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/google/uuid"
)

// OutboxNotifier queues notifications for the outbox worker. Send succeeds
// once the row is stored; delivery happens later.
type OutboxNotifier struct {
	Store store.Store
	Now   func() time.Time
}

func NewOutboxNotifier(s store.Store) *OutboxNotifier {
	return &OutboxNotifier{Store: s, Now: time.Now}
}

func (n *OutboxNotifier) Send(ctx context.Context, email, subject, body string) (gateway.NotificationResult, error) {
	now := n.Now().UTC()
	rec := store.OutboxRecord{
		NotificationID: "mail:" + uuid.NewString(),
		RequestID:      gateway.RequestID(ctx),
		Recipient:      email,
		Subject:        subject,
		Body:           body,
		Status:         store.OutboxPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := n.Store.PutOutbox(ctx, rec); err != nil {
		return gateway.NotificationResult{}, fmt.Errorf("queue notification: %w", err)
	}
	return gateway.NotificationResult{Success: true, Timestamp: now}, nil
}

// ProcessOutboxDue sends due pending rows and records the outcome on each.
// A failed send is rescheduled with exponential backoff.
func ProcessOutboxDue(ctx context.Context, s store.Store, mailer Mailer, now time.Time, limit int) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("missing store")
	}
	if mailer == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}

	due, err := s.ListOutboxDue(ctx, now.UTC(), limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != store.OutboxPending {
			continue
		}

		at := now.UTC()
		rec.UpdatedAt = at
		if err := mailer.Send(ctx, Message{To: rec.Recipient, Subject: rec.Subject, Body: rec.Body}); err != nil {
			rec.NextAttemptAt = at.Add(nextAttempt(rec.AttemptCount))
			rec.AttemptCount++
			msg := err.Error()
			rec.LastError = &msg
		} else {
			rec.Status = store.OutboxSent
			rec.SentAt = &at
		}
		if err := s.PutOutbox(ctx, rec); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 10 {
		attemptCount = 10
	}
	d := base << attemptCount
	if ceiling := 5 * time.Minute; d > ceiling {
		return ceiling
	}
	return d
}

// RunOutboxWorker polls for due rows until ctx is cancelled.
func RunOutboxWorker(ctx context.Context, s store.Store, mailer Mailer, pollInterval time.Duration, logger *slog.Logger) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "outbox")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := ProcessOutboxDue(ctx, s, mailer, now, 25)
			if err != nil && ctx.Err() == nil {
				logger.Error("outbox pass failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("outbox pass", "processed", n)
			}
		}
	}
}
