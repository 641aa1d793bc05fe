package types

type RecommendationKind string

const (
	RecommendReleaseBlock         RecommendationKind = "RELEASE_BLOCK"
	RecommendMaintainBlock        RecommendationKind = "MAINTAIN_BLOCK"
	RecommendPartialLimitIncrease RecommendationKind = "PARTIAL_LIMIT_INCREASE"
	RecommendFullLimitIncrease    RecommendationKind = "FULL_LIMIT_INCREASE"
	RecommendRejectRequest        RecommendationKind = "REJECT_REQUEST"
)

type Recommendation struct {
	Kind             RecommendationKind `json:"recommendation"`
	RecommendedLimit *float64           `json:"recommended_limit,omitempty"`
	Confidence       float64            `json:"confidence"`
	Rationale        string             `json:"rationale"`
	KeyMetrics       map[string]any     `json:"key_metrics"`
	RiskSignals      []string           `json:"risk_signals"`
	MatchedRule      string             `json:"matched_rule"`
	PolicyHash       string             `json:"policy_hash,omitempty"`
}
