package audit

import "github.com/davidahmann/creditgate/pkg/types"

// InputDigest addresses the analysis inputs so a replay can show that the
// same request and snapshot were evaluated.
func InputDigest(req types.CreditRequest, snap types.CustomerSnapshot) (string, error) {
	var requested any
	if req.RequestedLimit != nil {
		requested = *req.RequestedLimit
	}
	return DigestValue(map[string]any{
		"request": map[string]any{
			"request_id":      req.RequestID,
			"customer_id":     req.CustomerID,
			"request_type":    string(req.Kind),
			"requested_limit": requested,
			"reason":          req.Reason,
		},
		"snapshot": map[string]any{
			"customer_id":     snap.CustomerID,
			"current_limit":   snap.CurrentLimit,
			"currency":        snap.Currency,
			"credit_block":    snap.CreditBlock,
			"utilisation_pct": snap.UtilisationPct,
			"dso":             snap.DSO,
			"risk_category":   string(snap.RiskCategory),
			"ageing": map[string]any{
				"0_30":    snap.Ageing.Days0To30,
				"31_60":   snap.Ageing.Days31To60,
				"61_90":   snap.Ageing.Days61To90,
				"90_plus": snap.Ageing.Days90Plus,
			},
		},
	})
}
