package workflow

import (
	"fmt"
	"strings"

	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/pkg/types"
)

// ledgerOutcome is what the ledger stage did. Called is false when no
// ledger mutation was dispatched.
type ledgerOutcome struct {
	Called bool
	Action string
	Result gateway.LedgerResult
	Limit  float64
}

func notificationMessage(req types.CreditRequest, d types.ApprovalDecision, lo ledgerOutcome) (string, string) {
	if d.Decision == types.DecisionReject {
		subject := fmt.Sprintf("Credit Request %s - REJECTED", req.RequestID)
		body := fmt.Sprintf(`Dear %s,

Your credit request for customer %s has been REJECTED.

Request Type: %s
Decision: %s
Reason: %s

If you have questions, please contact the credit control team.

Best regards,
Credit Control System`, req.Requestor.Name, req.CustomerID, req.Kind, d.Decision, d.Comments)
		return subject, body
	}

	ref, action := "N/A", "N/A"
	if lo.Called {
		ref, action = lo.Result.ReferenceID, lo.Result.ActionDescription
	}
	subject := fmt.Sprintf("Credit Request %s - APPROVED", req.RequestID)
	body := fmt.Sprintf(`Dear %s,

Your credit request for customer %s has been APPROVED.

Request Type: %s
Decision: %s
Comments: %s

Ledger Reference: %s
Action Taken: %s

The change has been recorded in the credit ledger.

Best regards,
Credit Control System`, req.Requestor.Name, req.CustomerID, req.Kind, d.Decision, d.Comments, ref, action)
	return subject, body
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func buildSummary(
	req types.CreditRequest,
	snap types.CustomerSnapshot,
	rec types.Recommendation,
	d types.ApprovalDecision,
	lo ledgerOutcome,
	events []types.WorkflowEvent,
) types.WorkflowSummary {
	approved := d.Decision.Approved()
	verb := "rejected"
	if approved {
		verb = "approved"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Credit workflow completed for %s (Customer ID: %s).\n", snap.Name, req.CustomerID)
	fmt.Fprintf(&b, "Request type was %s. AI analysis identified %d risk signals and recommended %s with %s confidence.\n",
		req.Kind, len(rec.RiskSignals), rec.Kind, percent(rec.Confidence))
	if d.AutoApproved {
		b.WriteString("No approver responded in time; the request was auto-approved.")
	} else {
		fmt.Fprintf(&b, "Human approver %s the request.", verb)
	}
	if approved {
		ref := "N/A"
		if lo.Called {
			ref = lo.Result.ReferenceID
		}
		fmt.Fprintf(&b, " The credit ledger was updated successfully (Ref: %s).", ref)
	}

	signals := "None"
	if len(rec.RiskSignals) > 0 {
		signals = strings.Join(rec.RiskSignals, ", ")
	}
	comments := d.Comments
	if r := []rune(comments); len(r) > 100 {
		comments = string(r[:100])
	}
	talk := []string{
		fmt.Sprintf("AI analyzed customer data: DSO %.0f days, %.1f%% utilisation, %s-grade risk", snap.DSO, snap.UtilisationPct, snap.RiskCategory),
		fmt.Sprintf("Identified %d risk signals: %s", len(rec.RiskSignals), signals),
		fmt.Sprintf("AI recommended: %s (%s confidence)", rec.Kind, percent(rec.Confidence)),
		fmt.Sprintf("Human %s: %s", verb, comments),
	}
	switch {
	case lo.Called:
		talk = append(talk, "Ledger updated: "+lo.Result.ActionDescription)
	case approved:
		talk = append(talk, "No ledger changes ("+lo.Action+")")
	default:
		talk = append(talk, "No ledger changes (request rejected)")
	}

	finalLimit, finalBlock := snap.CurrentLimit, snap.CreditBlock
	if approved && lo.Called {
		switch req.Kind {
		case types.RequestUnblock:
			finalBlock = false
		case types.RequestLimitIncrease:
			finalLimit = lo.Limit
		}
	}

	final := types.FinalRejected
	if approved {
		final = types.FinalApproved
	}
	return types.WorkflowSummary{
		RequestID:        req.RequestID,
		Synopsis:         b.String(),
		FinalDecision:    final,
		FinalCreditLimit: finalLimit,
		FinalBlocked:     finalBlock,
		Narrative:        talk,
		Events:           events,
	}
}
