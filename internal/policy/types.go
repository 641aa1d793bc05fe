package policy

import (
	"fmt"

	"github.com/davidahmann/creditgate/pkg/types"
)

// Policy carries every threshold and confidence used by Evaluate. A YAML
// file only needs to name the values it changes.
type Policy struct {
	PolicyID      string             `yaml:"policy_id"`
	PolicyVersion string             `yaml:"policy_version"`
	Currency      string             `yaml:"currency"`
	Signals       SignalThresholds   `yaml:"signals"`
	Unblock       UnblockRules       `yaml:"unblock"`
	LimitIncrease LimitIncreaseRules `yaml:"limit_increase"`
	Review        ReviewRule         `yaml:"review"`
}

type SignalThresholds struct {
	DSODays        float64 `yaml:"dso_days"`
	OverduePct     float64 `yaml:"overdue_pct"`
	UtilisationPct float64 `yaml:"utilisation_pct"`
	Ageing90Plus   float64 `yaml:"ageing_90_plus"`
}

type UnblockRules struct {
	StrongRisk           types.RiskCategory `yaml:"strong_risk_category"`
	StrongMaxOverduePct  float64            `yaml:"strong_max_overdue_pct"`
	StrongConfidence     float64            `yaml:"strong_confidence"`
	ManageableMaxSignals int                `yaml:"manageable_max_signals"`
	ManageableMaxOverdue float64            `yaml:"manageable_max_overdue_pct"`
	ManageableConfidence float64            `yaml:"manageable_confidence"`
	MaintainConfidence   float64            `yaml:"maintain_confidence"`
}

type LimitIncreaseRules struct {
	FullMaxUtilisation float64 `yaml:"full_max_utilisation_pct"`
	FullConfidence     float64 `yaml:"full_confidence"`
	PartialMaxSignals  int     `yaml:"partial_max_signals"`
	PartialConfidence  float64 `yaml:"partial_confidence"`
	RejectConfidence   float64 `yaml:"reject_confidence"`
	Uplift             float64 `yaml:"uplift"`
}

type ReviewRule struct {
	Confidence float64 `yaml:"confidence"`
}

// DefaultPolicy is the credit-control rule book the service ships with.
func DefaultPolicy() Policy {
	return Policy{
		PolicyID:      "creditgate-default",
		PolicyVersion: "2025-01-01",
		Currency:      "INR",
		Signals: SignalThresholds{
			DSODays:        60,
			OverduePct:     30,
			UtilisationPct: 85,
			Ageing90Plus:   1_000_000,
		},
		Unblock: UnblockRules{
			StrongRisk:           types.RiskA,
			StrongMaxOverduePct:  20,
			StrongConfidence:     0.85,
			ManageableMaxSignals: 2,
			ManageableMaxOverdue: 40,
			ManageableConfidence: 0.70,
			MaintainConfidence:   0.80,
		},
		LimitIncrease: LimitIncreaseRules{
			FullMaxUtilisation: 70,
			FullConfidence:     0.90,
			PartialMaxSignals:  1,
			PartialConfidence:  0.75,
			RejectConfidence:   0.85,
			Uplift:             1.3,
		},
		Review: ReviewRule{Confidence: 0.70},
	}
}

func (p Policy) Validate() error {
	confidences := map[string]float64{
		"unblock.strong_confidence":         p.Unblock.StrongConfidence,
		"unblock.manageable_confidence":     p.Unblock.ManageableConfidence,
		"unblock.maintain_confidence":       p.Unblock.MaintainConfidence,
		"limit_increase.full_confidence":    p.LimitIncrease.FullConfidence,
		"limit_increase.partial_confidence": p.LimitIncrease.PartialConfidence,
		"limit_increase.reject_confidence":  p.LimitIncrease.RejectConfidence,
		"review.confidence":                 p.Review.Confidence,
	}
	for name, c := range confidences {
		if c < 0 || c > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, c)
		}
	}
	if p.LimitIncrease.Uplift <= 0 {
		return fmt.Errorf("limit_increase.uplift must be positive")
	}
	if p.Unblock.ManageableMaxSignals < 0 || p.LimitIncrease.PartialMaxSignals < 0 {
		return fmt.Errorf("signal counts must not be negative")
	}
	if p.Unblock.StrongRisk != "" && p.Unblock.StrongRisk.Rank() < 0 {
		return fmt.Errorf("unblock.strong_risk_category is invalid: %q", p.Unblock.StrongRisk)
	}
	return nil
}
