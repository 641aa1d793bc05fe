package store

import (
	"context"
	"errors"
	"time"

	"github.com/davidahmann/creditgate/pkg/types"
)

// DemoCustomers are the three accounts the demo scenarios run against.
func DemoCustomers() []types.CustomerSnapshot {
	return []types.CustomerSnapshot{
		{
			CustomerID:     "CUST001",
			Name:           "Tata Steel Limited",
			Segment:        "Large Enterprise",
			CurrentLimit:   50_000_000,
			Currency:       "INR",
			CreditBlock:    true,
			UtilisationPct: 72.5,
			DSO:            42,
			Ageing:         types.AgeingBuckets{Days0To30: 25_000_000, Days31To60: 8_000_000, Days61To90: 3_000_000, Days90Plus: 500_000},
			RiskCategory:   types.RiskB,
		},
		{
			CustomerID:     "CUST002",
			Name:           "Reliance Industries Ltd",
			Segment:        "Large Enterprise",
			CurrentLimit:   100_000_000,
			Currency:       "INR",
			UtilisationPct: 45,
			DSO:            35,
			Ageing:         types.AgeingBuckets{Days0To30: 40_000_000, Days31To60: 5_000_000},
			RiskCategory:   types.RiskA,
		},
		{
			CustomerID:     "CUST003",
			Name:           "Mahindra & Mahindra",
			Segment:        "Mid Enterprise",
			CurrentLimit:   25_000_000,
			Currency:       "INR",
			CreditBlock:    true,
			UtilisationPct: 88,
			DSO:            65,
			Ageing:         types.AgeingBuckets{Days0To30: 8_000_000, Days31To60: 7_000_000, Days61To90: 5_000_000, Days90Plus: 2_000_000},
			RiskCategory:   types.RiskC,
		},
	}
}

// SeedDemo loads the demo customers and request REQ001. Re-seeding keeps
// an existing REQ001.
func SeedDemo(ctx context.Context, s Store, now time.Time) error {
	for _, snap := range DemoCustomers() {
		if err := s.PutCustomer(ctx, snap); err != nil {
			return err
		}
	}
	err := s.PutRequest(ctx, types.CreditRequest{
		RequestID:  "REQ001",
		CustomerID: "CUST001",
		Kind:       types.RequestUnblock,
		Reason:     "Customer has cleared 80% of overdue invoices. Major payment received from government project.",
		Requestor:  types.Requestor{Name: "Rajesh Kumar", Email: "rajesh.kumar@company.com"},
		CreatedAt:  now.UTC(),
	})
	if err != nil && !errors.Is(err, ErrExists) {
		return err
	}
	return nil
}
