package audit

import (
	"reflect"
	"testing"

	"github.com/davidahmann/creditgate/pkg/types"
)

func completeEvents() []types.WorkflowEvent {
	out := []types.WorkflowEvent{}
	for _, st := range types.Stages() {
		out = append(out, types.WorkflowEvent{Stage: st, Status: types.EventCompleted, Payload: map[string]any{}})
	}
	return out
}

func TestGradeComplete(t *testing.T) {
	got := Grade(types.WorkflowSummary{FinalDecision: types.FinalApproved, Events: completeEvents()}, true)
	if got.Grade != "A" || len(got.Reasons) != 0 {
		t.Fatalf("unexpected grade %+v", got)
	}
}

func TestGradeMissingStage(t *testing.T) {
	events := completeEvents()[:3]
	got := Grade(types.WorkflowSummary{Events: events}, true)
	if got.Grade != "F" {
		t.Fatalf("expected F, got %s", got.Grade)
	}
	want := []string{"missing_stage:LEDGER_UPDATE", "missing_stage:NOTIFICATION"}
	if !reflect.DeepEqual(got.Reasons, want) {
		t.Fatalf("unexpected reasons %v", got.Reasons)
	}
}

func TestGradeAutoApprovedAndNotificationFailure(t *testing.T) {
	events := completeEvents()
	events[2].Payload["auto_approved"] = true
	got := Grade(types.WorkflowSummary{Events: events}, true)
	if got.Grade != "C" {
		t.Fatalf("expected C, got %s", got.Grade)
	}

	events[4].Status = types.EventRejected
	got = Grade(types.WorkflowSummary{Events: events}, true)
	if got.Grade != "D" {
		t.Fatalf("expected D, got %s", got.Grade)
	}
}

func TestGradeRejectedIsInformational(t *testing.T) {
	got := Grade(types.WorkflowSummary{FinalDecision: types.FinalRejected, Events: completeEvents()}, true)
	if got.Grade != "A" {
		t.Fatalf("expected A, got %s", got.Grade)
	}
	if !reflect.DeepEqual(got.Reasons, []string{"rejected"}) {
		t.Fatalf("unexpected reasons %v", got.Reasons)
	}
}

func TestGradeBrokenChain(t *testing.T) {
	got := Grade(types.WorkflowSummary{Events: completeEvents()}, false)
	if got.Grade != "F" {
		t.Fatalf("expected F, got %s", got.Grade)
	}
}
