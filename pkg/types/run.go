package types

import "time"

type RunState string

const (
	StateCreated          RunState = "Created"
	StateTriggered        RunState = "Triggered"
	StateAnalyzed         RunState = "Analyzed"
	StateAwaitingApproval RunState = "AwaitingApproval"
	StateDecided          RunState = "Decided"
	StateLedgerUpdated    RunState = "LedgerUpdated"
	StateNotified         RunState = "Notified"
	StateCompleted        RunState = "Completed"
	StateFailed           RunState = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status collapses the state machine into the run lifecycle status.
func (s RunState) Status() RunStatus {
	switch s {
	case StateCompleted:
		return RunCompleted
	case StateFailed:
		return RunFailed
	default:
		return RunRunning
	}
}

type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

type WorkflowRun struct {
	RequestID     string           `json:"request_id"`
	Status        RunStatus        `json:"status"`
	State         RunState         `json:"state"`
	Attempt       int              `json:"attempt"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"completed_at,omitempty"`
	FailureReason string           `json:"error,omitempty"`
	Result        *WorkflowSummary `json:"result,omitempty"`
}

type WorkflowSummary struct {
	RequestID        string          `json:"request_id"`
	Synopsis         string          `json:"workflow_summary"`
	FinalDecision    string          `json:"final_decision"`
	FinalCreditLimit float64         `json:"final_credit_limit"`
	FinalBlocked     bool            `json:"final_block_status"`
	Narrative        []string        `json:"talk_track"`
	Events           []WorkflowEvent `json:"events"`
}

const (
	FinalApproved = "APPROVED"
	FinalRejected = "REJECTED"
)
