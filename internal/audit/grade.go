package audit

import (
	"sort"

	"github.com/davidahmann/creditgate/pkg/types"
)

type GradeResult struct {
	Grade   string   `json:"grade"`
	Reasons []string `json:"reasons"`
}

// Grade scores how well a completed run can be audited. A broken chain or
// a missing stage fails outright; an approval nobody reviewed is weaker
// evidence than one a person submitted.
func Grade(summary types.WorkflowSummary, chainValid bool) GradeResult {
	reasons := []string{}
	if !chainValid {
		reasons = append(reasons, "chain_broken")
	}

	seen := map[types.Stage]types.WorkflowEvent{}
	for _, ev := range summary.Events {
		seen[ev.Stage] = ev
	}
	missingStage := false
	for _, st := range types.Stages() {
		if _, ok := seen[st]; !ok {
			missingStage = true
			reasons = append(reasons, "missing_stage:"+string(st))
		}
	}

	autoApproved := false
	if ev, ok := seen[types.StageApproval]; ok {
		if v, _ := ev.Payload["auto_approved"].(bool); v {
			autoApproved = true
			reasons = append(reasons, "auto_approved")
		}
	}
	notifyFailed := false
	if ev, ok := seen[types.StageNotification]; ok && ev.Status == types.EventRejected {
		notifyFailed = true
		reasons = append(reasons, "notification_failed")
	}
	if summary.FinalDecision == types.FinalRejected {
		reasons = append(reasons, "rejected")
	}
	sort.Strings(reasons)

	grade := "A"
	switch {
	case !chainValid || missingStage:
		grade = "F"
	case autoApproved && notifyFailed:
		grade = "D"
	case autoApproved:
		grade = "C"
	case notifyFailed:
		grade = "B"
	}
	return GradeResult{Grade: grade, Reasons: reasons}
}
