package types

import "time"

type Stage string

const (
	StageTrigger      Stage = "TRIGGER"
	StageAnalysis     Stage = "ANALYSIS"
	StageApproval     Stage = "APPROVAL"
	StageLedgerUpdate Stage = "LEDGER_UPDATE"
	StageNotification Stage = "NOTIFICATION"
)

var stageOrder = []Stage{StageTrigger, StageAnalysis, StageApproval, StageLedgerUpdate, StageNotification}

// Stages returns the canonical pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index is the position of s in the canonical order, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

type EventStatus string

const (
	EventPending    EventStatus = "PENDING"
	EventInProgress EventStatus = "IN_PROGRESS"
	EventCompleted  EventStatus = "COMPLETED"
	EventRejected   EventStatus = "REJECTED"
)

type Actor string

const (
	ActorAI     Actor = "AI"
	ActorHuman  Actor = "HUMAN"
	ActorLedger Actor = "LEDGER"
)

// WorkflowEvent is one stage record. Seq is unique per request across all
// attempts; Attempt ties the event to the run that wrote it.
type WorkflowEvent struct {
	Seq        int64          `json:"seq"`
	Attempt    int            `json:"attempt"`
	Stage      Stage          `json:"step"`
	Status     EventStatus    `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Actor      Actor          `json:"actor"`
	Payload    map[string]any `json:"payload"`
	PrevDigest string         `json:"prev_digest,omitempty"`
	Digest     string         `json:"digest,omitempty"`
}
