// Package intake validates and records credit requests.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
	"github.com/google/uuid"
)

var ErrValidation = errors.New("validation error")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks a request before it is stored.
func Validate(req types.CreditRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return invalid("customer_id is required")
	}
	if !req.Kind.Valid() {
		return invalid("request_type %q is not one of BLOCK, UNBLOCK, LIMIT_INCREASE", req.Kind)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return invalid("reason is required")
	}
	if strings.TrimSpace(req.Requestor.Email) == "" {
		return invalid("requestor.email is required")
	}
	if _, err := mail.ParseAddress(req.Requestor.Email); err != nil {
		return invalid("requestor.email %q is malformed", req.Requestor.Email)
	}
	if req.RequestedLimit != nil && *req.RequestedLimit < 0 {
		return invalid("requested_limit must not be negative")
	}
	return nil
}

// ValidateDecision checks an approver's decision.
func ValidateDecision(d types.ApprovalDecision) error {
	if !d.Decision.Valid() {
		return invalid("decision %q is not one of APPROVE, APPROVE_WITH_CHANGES, REJECT", d.Decision)
	}
	if d.ApprovedLimit != nil && *d.ApprovedLimit < 0 {
		return invalid("approved_limit must not be negative")
	}
	return nil
}

// ValidateSnapshot rejects snapshots the recommendation rules cannot read.
func ValidateSnapshot(snap types.CustomerSnapshot) error {
	if strings.TrimSpace(snap.CustomerID) == "" {
		return invalid("customer_id is required")
	}
	a := snap.Ageing
	if a.Days0To30 < 0 || a.Days31To60 < 0 || a.Days61To90 < 0 || a.Days90Plus < 0 {
		return invalid("ageing buckets must not be negative")
	}
	if snap.RiskCategory.Rank() < 0 {
		return invalid("risk_category %q is invalid", snap.RiskCategory)
	}
	if snap.CurrentLimit < 0 {
		return invalid("current_limit must not be negative")
	}
	return nil
}

type Service struct {
	Store  store.Store
	Now    func() time.Time
	Logger *slog.Logger
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: s, Now: time.Now, Logger: logger.With("component", "intake")}
}

// Create validates req, fills the id and creation time when absent and
// stores it. Stored requests are never modified.
func (s *Service) Create(ctx context.Context, req types.CreditRequest) (types.CreditRequest, error) {
	if err := Validate(req); err != nil {
		return types.CreditRequest{}, err
	}
	if _, err := s.Store.GetCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.CreditRequest{}, fmt.Errorf("customer %s: %w", req.CustomerID, store.ErrNotFound)
		}
		return types.CreditRequest{}, err
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = "REQ-" + uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.Now().UTC()
	}
	if err := s.Store.PutRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrExists) {
			return types.CreditRequest{}, fmt.Errorf("%w: request %s already exists", ErrValidation, req.RequestID)
		}
		return types.CreditRequest{}, err
	}
	s.Logger.Info("credit request created", "request_id", req.RequestID, "customer_id", req.CustomerID, "request_type", req.Kind)
	return req, nil
}
