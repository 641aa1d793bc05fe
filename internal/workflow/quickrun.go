package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/davidahmann/creditgate/pkg/types"
)

type scenario struct {
	customerID string
	kind       types.RequestKind
	limit      float64
	reason     string
}

var scenarios = map[string]scenario{
	"unblock-good": {
		customerID: "CUST001",
		kind:       types.RequestUnblock,
		reason:     "Customer cleared 80% overdue. Major payment received from government contract.",
	},
	"unblock-risky": {
		customerID: "CUST003",
		kind:       types.RequestUnblock,
		reason:     "Customer requesting unblock for urgent order.",
	},
	"limit-increase": {
		customerID: "CUST002",
		kind:       types.RequestLimitIncrease,
		limit:      150_000_000,
		reason:     "Expanding business relationship. Customer has excellent payment history.",
	},
}

// Scenarios lists the demo scenario names accepted by QuickRun.
func Scenarios() []string {
	out := make([]string, 0, len(scenarios))
	for name := range scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// QuickRun creates a demo request, pre-submits an approval and runs the
// workflow synchronously. The demo customers must be seeded.
func (s *Service) QuickRun(ctx context.Context, name string) (types.WorkflowSummary, error) {
	sc, ok := scenarios[name]
	if !ok {
		return types.WorkflowSummary{}, fmt.Errorf("%w: scenario %q", ErrNotFound, name)
	}
	req := types.CreditRequest{
		CustomerID: sc.customerID,
		Kind:       sc.kind,
		Reason:     sc.reason,
		Requestor:  types.Requestor{Name: "Demo User", Email: "demo@company.com"},
	}
	if sc.limit > 0 {
		limit := sc.limit
		req.RequestedLimit = &limit
	}
	created, err := s.CreateRequest(ctx, req)
	if err != nil {
		return types.WorkflowSummary{}, err
	}

	d := types.ApprovalDecision{
		Decision:    types.DecisionApprove,
		Comments:    "Demo auto-approval",
		SubmittedBy: "demo",
	}
	if created.RequestedLimit != nil {
		limit := *created.RequestedLimit
		d.ApprovedLimit = &limit
	}
	if err := s.SubmitApproval(ctx, created.RequestID, d); err != nil {
		return types.WorkflowSummary{}, err
	}
	return s.RunWorkflow(ctx, created.RequestID)
}
