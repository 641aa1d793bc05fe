package types

// #nosec G101 -- receipt schema label is not a credential.
const ReceiptSchema = "creditgate.receipt.v0.1"

type ReceiptDecision struct {
	Decision     DecisionKind `json:"decision"`
	SubmittedBy  string       `json:"submitted_by,omitempty"`
	AutoApproved bool         `json:"auto_approved"`
}

type ReceiptOutcome struct {
	FinalDecision    string  `json:"final_decision"`
	FinalCreditLimit float64 `json:"final_credit_limit"`
	FinalBlocked     bool    `json:"final_block_status"`
	LedgerReference  string  `json:"ledger_reference,omitempty"`
}

// Receipt is the signed attestation of a completed run. ReceiptID is the
// digest of BodyJSON.
type Receipt struct {
	ReceiptID  string `json:"receipt_id"`
	RequestID  string `json:"request_id"`
	Attempt    int    `json:"attempt"`
	EventsHead string `json:"events_head"`
	BodyJSON   []byte `json:"body_json"`
	BodyDigest string `json:"body_digest"`
	KeyID      string `json:"key_id"`
	Sig        []byte `json:"sig"`
	CreatedAt  string `json:"created_at"`
}
