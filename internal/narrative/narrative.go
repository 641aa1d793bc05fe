// Package narrative asks an external text oracle for a readable rationale
// once a recommendation has been fixed by the rule table.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidahmann/creditgate/pkg/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const systemPrompt = "You are a senior credit analyst. The recommendation below is final. Explain it in two or three sentences for a credit controller. Do not propose a different outcome."

// Oracle produces free text for a prompt.
type Oracle interface {
	Narrate(ctx context.Context, p Prompt) (string, error)
}

type Prompt struct {
	System string
	Text   string
}

var printer = message.NewPrinter(language.English)

// BuildPrompt describes the request, the customer and the recommendation
// that has already been decided.
func BuildPrompt(req types.CreditRequest, snap types.CustomerSnapshot, rec types.Recommendation) Prompt {
	requested := "N/A"
	if req.RequestedLimit != nil {
		requested = printer.Sprintf("%.2f", *req.RequestedLimit)
	}
	recommended := "N/A"
	if rec.RecommendedLimit != nil {
		recommended = printer.Sprintf("%.2f", *rec.RecommendedLimit)
	}
	block := "No"
	if snap.CreditBlock {
		block = "Yes"
	}
	signals := "None"
	if len(rec.RiskSignals) > 0 {
		signals = strings.Join(rec.RiskSignals, "; ")
	}

	var b strings.Builder
	b.WriteString("REQUEST:\n")
	fmt.Fprintf(&b, "- Type: %s\n- Requested Limit: %s\n- Reason: %s\n\n", req.Kind, requested, req.Reason)
	b.WriteString("CUSTOMER SNAPSHOT:\n")
	printer.Fprintf(&b, "- Name: %s\n- Segment: %s\n- Current Limit: %.2f %s\n- Credit Block: %s\n- Utilisation: %.1f%%\n- DSO: %.0f days\n- Risk Category: %s\n\n",
		snap.Name, snap.Segment, snap.CurrentLimit, snap.Currency, block, snap.UtilisationPct, snap.DSO, snap.RiskCategory)
	b.WriteString("AGEING:\n")
	printer.Fprintf(&b, "- 0-30 days: %.2f\n- 31-60 days: %.2f\n- 61-90 days: %.2f\n- 90+ days: %.2f\n\n",
		snap.Ageing.Days0To30, snap.Ageing.Days31To60, snap.Ageing.Days61To90, snap.Ageing.Days90Plus)
	b.WriteString("RECOMMENDATION:\n")
	fmt.Fprintf(&b, "- Outcome: %s\n- Recommended Limit: %s\n- Confidence: %.0f%%\n- Risk Signals: %s\n",
		rec.Kind, recommended, rec.Confidence*100, signals)

	return Prompt{System: systemPrompt, Text: b.String()}
}

// Annotator adapts an Oracle to the policy engine.
type Annotator struct {
	Oracle Oracle
}

func (a Annotator) Annotate(ctx context.Context, req types.CreditRequest, snap types.CustomerSnapshot, rec types.Recommendation) (string, error) {
	if a.Oracle == nil {
		return "", nil
	}
	return a.Oracle.Narrate(ctx, BuildPrompt(req, snap, rec))
}

// Annotate returns a copy of rec whose rationale is the oracle's text. Any
// oracle error or empty answer leaves rec unchanged.
func Annotate(ctx context.Context, oracle Oracle, req types.CreditRequest, snap types.CustomerSnapshot, rec types.Recommendation) types.Recommendation {
	if oracle == nil {
		return rec
	}
	text, err := oracle.Narrate(ctx, BuildPrompt(req, snap, rec))
	if err != nil {
		return rec
	}
	if text = strings.TrimSpace(text); text != "" {
		rec.Rationale = text
	}
	return rec
}
