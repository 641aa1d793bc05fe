package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/davidahmann/creditgate/pkg/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	RuleUnblockStrong        = "unblock_strong"
	RuleUnblockManageable    = "unblock_manageable"
	RuleUnblockMaintain      = "unblock_maintain"
	RuleLimitIncreaseFull    = "limit_increase_full"
	RuleLimitIncreasePartial = "limit_increase_partial"
	RuleLimitIncreaseReject  = "limit_increase_reject"
	RuleReview               = "review_required"
)

// Signal labels. Each signal string starts with one of these.
const (
	SignalHighDSO         = "High DSO"
	SignalHighOverdue     = "High overdue"
	SignalHighUtilisation = "High utilisation"
	SignalAgeing90Plus    = "Significant 90+ ageing"
)

var printer = message.NewPrinter(language.English)

type Metrics struct {
	TotalOutstanding float64
	OverduePct       float64
}

// ComputeMetrics derives total outstanding and the overdue share. OverduePct
// is 0 when nothing is outstanding.
func ComputeMetrics(snap types.CustomerSnapshot) Metrics {
	total := snap.Ageing.Total()
	m := Metrics{TotalOutstanding: total}
	if total > 0 {
		m.OverduePct = 100 * snap.Ageing.Overdue() / total
	}
	return m
}

// Signals returns the risk signals in fixed order. Every condition is
// checked independently.
func Signals(p Policy, snap types.CustomerSnapshot, overduePct float64) []string {
	signals := []string{}
	if snap.DSO > p.Signals.DSODays {
		signals = append(signals, printer.Sprintf("%s: %.0f days", SignalHighDSO, snap.DSO))
	}
	if overduePct > p.Signals.OverduePct {
		signals = append(signals, printer.Sprintf("%s: %.1f%%", SignalHighOverdue, overduePct))
	}
	if snap.UtilisationPct > p.Signals.UtilisationPct {
		signals = append(signals, printer.Sprintf("%s: %.1f%%", SignalHighUtilisation, snap.UtilisationPct))
	}
	if snap.Ageing.Days90Plus > p.Signals.Ageing90Plus {
		signals = append(signals, printer.Sprintf("%s: %.0f %s", SignalAgeing90Plus, snap.Ageing.Days90Plus, currency(p, snap)))
	}
	return signals
}

// Evaluate applies the first matching branch of the decision table for the
// request kind. It is a pure function of its arguments.
func Evaluate(p Policy, policyHash string, req types.CreditRequest, snap types.CustomerSnapshot) types.Recommendation {
	m := ComputeMetrics(snap)
	signals := Signals(p, snap, m.OverduePct)
	n := len(signals)

	rec := types.Recommendation{
		RiskSignals: signals,
		PolicyHash:  policyHash,
		KeyMetrics: map[string]any{
			"dso":               snap.DSO,
			"utilisation_pct":   snap.UtilisationPct,
			"overdue_pct":       round1(m.OverduePct),
			"risk_category":     string(snap.RiskCategory),
			"total_outstanding": m.TotalOutstanding,
			"signal_count":      n,
		},
	}

	switch req.Kind {
	case types.RequestUnblock:
		u := p.Unblock
		switch {
		case n == 0 || (snap.RiskCategory == u.StrongRisk && m.OverduePct < u.StrongMaxOverduePct):
			rec.Kind = types.RecommendReleaseBlock
			rec.Confidence = u.StrongConfidence
			rec.MatchedRule = RuleUnblockStrong
			rec.Rationale = printer.Sprintf("Customer shows strong payment discipline with DSO of %.0f days and %.1f%% overdue. Risk category %s supports unblocking.", snap.DSO, m.OverduePct, snap.RiskCategory)
		case n <= u.ManageableMaxSignals && m.OverduePct < u.ManageableMaxOverdue:
			rec.Kind = types.RecommendReleaseBlock
			rec.Confidence = u.ManageableConfidence
			rec.MatchedRule = RuleUnblockManageable
			rec.Rationale = "Moderate risk signals present but manageable. Customer has demonstrated recent payment improvement. Recommend unblocking with close monitoring."
		default:
			rec.Kind = types.RecommendMaintainBlock
			rec.Confidence = u.MaintainConfidence
			rec.MatchedRule = RuleUnblockMaintain
			rec.Rationale = fmt.Sprintf("Multiple risk signals identified: %s. Maintain block until payment discipline improves.", firstSignals(signals))
		}

	case types.RequestLimitIncrease:
		l := p.LimitIncrease
		switch {
		case n == 0 && snap.UtilisationPct < l.FullMaxUtilisation:
			rec.Kind = types.RecommendFullLimitIncrease
			rec.Confidence = l.FullConfidence
			rec.MatchedRule = RuleLimitIncreaseFull
			rec.RecommendedLimit = upliftedLimit(snap.CurrentLimit, l.Uplift)
			rec.Rationale = printer.Sprintf("Excellent payment track record and healthy utilisation at %.1f%%. Full increase approved.", snap.UtilisationPct)
		case n <= l.PartialMaxSignals:
			rec.Kind = types.RecommendPartialLimitIncrease
			rec.Confidence = l.PartialConfidence
			rec.MatchedRule = RuleLimitIncreasePartial
			rec.RecommendedLimit = upliftedLimit(snap.CurrentLimit, l.Uplift)
			rec.Rationale = "Good payment history with minor concerns. Recommend partial increase of 30-50% with review in 90 days."
		default:
			rec.Kind = types.RecommendRejectRequest
			rec.Confidence = l.RejectConfidence
			rec.MatchedRule = RuleLimitIncreaseReject
			rec.Rationale = fmt.Sprintf("Multiple credit concerns prevent limit increase: %s. Focus on clearing overdue first.", firstSignals(signals))
		}

	default:
		rec.Kind = types.RecommendMaintainBlock
		rec.Confidence = p.Review.Confidence
		rec.MatchedRule = RuleReview
		rec.Rationale = "Request requires further review by credit committee."
	}
	return rec
}

// Annotator may rewrite the rationale of a recommendation that is already
// fixed. Only the returned Rationale is used.
type Annotator interface {
	Annotate(ctx context.Context, req types.CreditRequest, snap types.CustomerSnapshot, rec types.Recommendation) (string, error)
}

// Engine evaluates requests against a loaded policy.
type Engine struct {
	Loaded    LoadedPolicy
	Annotator Annotator
	Logger    *slog.Logger
}

func NewEngine(loaded LoadedPolicy, annotator Annotator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Loaded: loaded, Annotator: annotator, Logger: logger.With("component", "policy")}
}

// Recommend evaluates the rule table, then offers the result to the
// annotator. Annotator errors keep the rule rationale.
func (e *Engine) Recommend(ctx context.Context, req types.CreditRequest, snap types.CustomerSnapshot) types.Recommendation {
	rec := Evaluate(e.Loaded.Policy, e.Loaded.Hash, req, snap)
	if e.Annotator == nil {
		return rec
	}
	text, err := e.Annotator.Annotate(ctx, req, snap, rec)
	if err != nil {
		e.Logger.Warn("narrative unavailable, keeping rule rationale", "request_id", req.RequestID, "error", err)
		return rec
	}
	if text = strings.TrimSpace(text); text != "" {
		rec.Rationale = text
	}
	return rec
}

func upliftedLimit(current, uplift float64) *float64 {
	v := math.Round(current*uplift*100) / 100
	return &v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func firstSignals(signals []string) string {
	if len(signals) > 2 {
		signals = signals[:2]
	}
	return strings.Join(signals, ", ")
}

func currency(p Policy, snap types.CustomerSnapshot) string {
	if snap.Currency != "" {
		return snap.Currency
	}
	if p.Currency != "" {
		return p.Currency
	}
	return "INR"
}
