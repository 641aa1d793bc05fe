package types

type RiskCategory string

const (
	RiskA RiskCategory = "A"
	RiskB RiskCategory = "B"
	RiskC RiskCategory = "C"
	RiskD RiskCategory = "D"
)

// Rank orders categories from lowest (0) to critical (3) risk. Unknown values rank -1.
func (c RiskCategory) Rank() int {
	switch c {
	case RiskA:
		return 0
	case RiskB:
		return 1
	case RiskC:
		return 2
	case RiskD:
		return 3
	default:
		return -1
	}
}

type AgeingBuckets struct {
	Days0To30  float64 `json:"0_30"`
	Days31To60 float64 `json:"31_60"`
	Days61To90 float64 `json:"61_90"`
	Days90Plus float64 `json:"90_plus"`
}

// Total is the sum of all four buckets.
func (a AgeingBuckets) Total() float64 {
	return a.Days0To30 + a.Days31To60 + a.Days61To90 + a.Days90Plus
}

// Overdue is everything past 30 days.
func (a AgeingBuckets) Overdue() float64 {
	return a.Days31To60 + a.Days61To90 + a.Days90Plus
}

type CustomerSnapshot struct {
	CustomerID     string        `json:"customer_id"`
	Name           string        `json:"name"`
	Segment        string        `json:"segment"`
	CurrentLimit   float64       `json:"current_limit"`
	Currency       string        `json:"currency"`
	CreditBlock    bool          `json:"credit_block"`
	UtilisationPct float64       `json:"utilisation_pct"`
	DSO            float64       `json:"dso"`
	Ageing         AgeingBuckets `json:"ageing"`
	RiskCategory   RiskCategory  `json:"risk_category"`
}
