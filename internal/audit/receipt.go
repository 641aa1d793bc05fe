package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/davidahmann/creditgate/pkg/types"
)

type ReceiptInput struct {
	RequestID  string
	Attempt    int
	EventsHead string
	CreatedAt  string

	RequestKind    types.RequestKind
	Recommendation types.Recommendation
	Decision       types.ReceiptDecision
	Outcome        types.ReceiptOutcome
}

// MakeReceipt canonicalizes, hashes and signs the receipt body for a
// finished run.
func MakeReceipt(in ReceiptInput, signer Signer) (types.Receipt, error) {
	if in.RequestID == "" || in.EventsHead == "" || in.CreatedAt == "" {
		return types.Receipt{}, fmt.Errorf("missing required receipt fields")
	}
	if signer == nil {
		return types.Receipt{}, fmt.Errorf("receipt signer required")
	}

	var recommendedLimit any
	if in.Recommendation.RecommendedLimit != nil {
		recommendedLimit = *in.Recommendation.RecommendedLimit
	}
	body := map[string]any{
		"schema":       types.ReceiptSchema,
		"request_id":   in.RequestID,
		"attempt":      in.Attempt,
		"events_head":  in.EventsHead,
		"created_at":   in.CreatedAt,
		"request_type": string(in.RequestKind),
		"recommendation": map[string]any{
			"recommendation":    string(in.Recommendation.Kind),
			"recommended_limit": recommendedLimit,
			"confidence":        in.Recommendation.Confidence,
			"matched_rule":      in.Recommendation.MatchedRule,
			"policy_hash":       in.Recommendation.PolicyHash,
		},
		"decision": map[string]any{
			"decision":      string(in.Decision.Decision),
			"submitted_by":  in.Decision.SubmittedBy,
			"auto_approved": in.Decision.AutoApproved,
		},
		"outcome": map[string]any{
			"final_decision":     in.Outcome.FinalDecision,
			"final_credit_limit": in.Outcome.FinalCreditLimit,
			"final_block_status": in.Outcome.FinalBlocked,
			"ledger_reference":   in.Outcome.LedgerReference,
		},
	}

	canonical, err := Canonicalize(body)
	if err != nil {
		return types.Receipt{}, err
	}
	sum := sha256.Sum256(canonical)
	sig, err := signer.Sign(sum[:])
	if err != nil {
		return types.Receipt{}, err
	}
	digest := Digest(canonical)

	return types.Receipt{
		ReceiptID:  digest,
		RequestID:  in.RequestID,
		Attempt:    in.Attempt,
		EventsHead: in.EventsHead,
		BodyJSON:   canonical,
		BodyDigest: digest,
		KeyID:      signer.KeyID(),
		Sig:        sig,
		CreatedAt:  in.CreatedAt,
	}, nil
}

// VerifyReceipt checks that the body digest and id agree and that the
// signature covers the body.
func VerifyReceipt(r types.Receipt, pub ed25519.PublicKey) error {
	digest := Digest(r.BodyJSON)
	if r.BodyDigest != digest || r.ReceiptID != digest {
		return ErrDigestMismatch
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidKeyLength
	}
	sum := sha256.Sum256(r.BodyJSON)
	if !ed25519.Verify(pub, sum[:], r.Sig) {
		return ErrBadSignature
	}
	return nil
}
