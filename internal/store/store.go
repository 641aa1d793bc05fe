// Package store defines the persistence contract for credit requests,
// customer snapshots, workflow runs, events, approval decisions, receipts
// and the notification outbox.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/davidahmann/creditgate/pkg/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrExists    = errors.New("already exists")
	ErrRunActive = errors.New("run already active")
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps so
// that text columns sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

type Store interface {
	PutRequest(ctx context.Context, req types.CreditRequest) error
	GetRequest(ctx context.Context, requestID string) (types.CreditRequest, error)
	PutCustomer(ctx context.Context, snap types.CustomerSnapshot) error
	GetCustomer(ctx context.Context, customerID string) (types.CustomerSnapshot, error)
	ListCustomers(ctx context.Context) ([]types.CustomerSnapshot, error)

	// BeginRun atomically moves the run for requestID to running. It fails
	// with ErrRunActive while another run is running and bumps Attempt when
	// a finished run is restarted.
	BeginRun(ctx context.Context, requestID string, at time.Time) (types.WorkflowRun, error)
	UpdateRun(ctx context.Context, run types.WorkflowRun) error
	GetRun(ctx context.Context, requestID string) (types.WorkflowRun, error)

	// AppendEvent stores ev under (requestID, ev.Seq); a taken sequence
	// number yields ErrExists.
	AppendEvent(ctx context.Context, requestID string, ev types.WorkflowEvent) error
	ListEvents(ctx context.Context, requestID string) ([]types.WorkflowEvent, error)
	LastEvent(ctx context.Context, requestID string) (types.WorkflowEvent, error)

	PutDecision(ctx context.Context, rec DecisionRecord) error
	GetDecision(ctx context.Context, requestID string) (DecisionRecord, error)
	DeleteDecision(ctx context.Context, requestID string) error

	PutReceipt(ctx context.Context, receipt types.Receipt) error
	GetReceipt(ctx context.Context, requestID string) (types.Receipt, error)

	PutOutbox(ctx context.Context, rec OutboxRecord) error
	GetOutbox(ctx context.Context, notificationID string) (OutboxRecord, error)
	ListOutboxDue(ctx context.Context, now time.Time, limit int) ([]OutboxRecord, error)
}

// DecisionRecord is the approval slot for a request. Consumed is set once a
// run has taken the decision past the approval stage.
type DecisionRecord struct {
	RequestID string
	Decision  types.ApprovalDecision
	Consumed  bool
	UpdatedAt time.Time
}

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

type OutboxRecord struct {
	NotificationID string
	RequestID      string
	Recipient      string
	Subject        string
	Body           string
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      *string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
