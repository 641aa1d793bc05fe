package types

import "time"

type DecisionKind string

const (
	DecisionApprove            DecisionKind = "APPROVE"
	DecisionApproveWithChanges DecisionKind = "APPROVE_WITH_CHANGES"
	DecisionReject             DecisionKind = "REJECT"
)

func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionApprove, DecisionApproveWithChanges, DecisionReject:
		return true
	default:
		return false
	}
}

// Approved is true for every decision other than REJECT.
func (k DecisionKind) Approved() bool {
	return k == DecisionApprove || k == DecisionApproveWithChanges
}

type ApprovalDecision struct {
	Decision      DecisionKind `json:"decision"`
	ApprovedLimit *float64     `json:"approved_limit,omitempty"`
	Comments      string       `json:"comments"`
	SubmittedBy   string       `json:"submitted_by,omitempty"`
	SubmittedAt   time.Time    `json:"submitted_at,omitempty"`
	AutoApproved  bool         `json:"auto_approved,omitempty"`
}
