// Package gateway holds the contracts for the external systems a workflow
// run touches: the credit ledger and the notification channel.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrLedgerUnavailable is returned by ledgers that cannot reach their backend.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

type LedgerResult struct {
	Success           bool      `json:"success"`
	ReferenceID       string    `json:"reference_id"`
	ActionDescription string    `json:"action_description"`
	Timestamp         time.Time `json:"timestamp"`
}

type Ledger interface {
	SetCreditLimit(ctx context.Context, customerID string, newLimit float64, reason string) (LedgerResult, error)
	SetCreditBlock(ctx context.Context, customerID string, blocked bool, reason string) (LedgerResult, error)
}

type NotificationResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

type Notifier interface {
	Send(ctx context.Context, email, subject, body string) (NotificationResult, error)
}

type requestIDKey struct{}

// WithRequestID tags ctx with the request a gateway call is made for.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
