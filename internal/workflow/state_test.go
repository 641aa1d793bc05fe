package workflow

import (
	"testing"

	"github.com/davidahmann/creditgate/pkg/types"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []types.RunState{
		types.StateCreated,
		types.StateTriggered,
		types.StateAnalyzed,
		types.StateAwaitingApproval,
		types.StateDecided,
		types.StateLedgerUpdated,
		types.StateNotified,
		types.StateCompleted,
	}
	for i := 0; i+1 < len(path); i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s", path[i], path[i+1])
		}
		if !CanTransition(path[i], types.StateFailed) {
			t.Fatalf("expected %s -> Failed", path[i])
		}
	}
}

func TestCanTransitionRejects(t *testing.T) {
	cases := []struct {
		from, to types.RunState
	}{
		{types.StateCreated, types.StateAnalyzed},
		{types.StateAwaitingApproval, types.StateLedgerUpdated},
		{types.StateCompleted, types.StateFailed},
		{types.StateFailed, types.StateCreated},
		{types.StateDecided, types.StateAwaitingApproval},
	}
	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("unexpected transition %s -> %s", tc.from, tc.to)
		}
	}
}

func TestStateAfterCoversEveryStage(t *testing.T) {
	for _, st := range types.Stages() {
		if StateAfter(st) == "" {
			t.Fatalf("no state after %s", st)
		}
	}
	if StateAfter("BOGUS") != "" {
		t.Fatalf("expected empty state for unknown stage")
	}
}
