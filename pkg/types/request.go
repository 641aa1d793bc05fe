package types

import "time"

type RequestKind string

const (
	RequestBlock         RequestKind = "BLOCK"
	RequestUnblock       RequestKind = "UNBLOCK"
	RequestLimitIncrease RequestKind = "LIMIT_INCREASE"
)

// Valid reports whether k is one of the known request kinds.
func (k RequestKind) Valid() bool {
	switch k {
	case RequestBlock, RequestUnblock, RequestLimitIncrease:
		return true
	default:
		return false
	}
}

type Requestor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreditRequest is created once through intake and never mutated afterwards.
type CreditRequest struct {
	RequestID      string      `json:"request_id"`
	CustomerID     string      `json:"customer_id"`
	Kind           RequestKind `json:"request_type"`
	RequestedLimit *float64    `json:"requested_limit,omitempty"`
	Reason         string      `json:"reason"`
	Requestor      Requestor   `json:"requestor"`
	CreatedAt      time.Time   `json:"created_at"`
}
