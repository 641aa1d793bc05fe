package workflow

import (
	"fmt"

	"github.com/davidahmann/creditgate/pkg/types"
)

var transitions = map[types.RunState]types.RunState{
	types.StateCreated:          types.StateTriggered,
	types.StateTriggered:        types.StateAnalyzed,
	types.StateAnalyzed:         types.StateAwaitingApproval,
	types.StateAwaitingApproval: types.StateDecided,
	types.StateDecided:          types.StateLedgerUpdated,
	types.StateLedgerUpdated:    types.StateNotified,
	types.StateNotified:         types.StateCompleted,
}

// CanTransition reports whether a run may move from one state to another.
// Failed is reachable from every non-terminal state.
func CanTransition(from, to types.RunState) bool {
	if from.Terminal() {
		return false
	}
	if to == types.StateFailed {
		return true
	}
	next, ok := transitions[from]
	return ok && next == to
}

// StateAfter maps a finished stage to the state the run enters once the
// stage's event is durable.
func StateAfter(stage types.Stage) types.RunState {
	switch stage {
	case types.StageTrigger:
		return types.StateTriggered
	case types.StageAnalysis:
		return types.StateAnalyzed
	case types.StageApproval:
		return types.StateDecided
	case types.StageLedgerUpdate:
		return types.StateLedgerUpdated
	case types.StageNotification:
		return types.StateNotified
	default:
		return ""
	}
}

func checkTransition(from, to types.RunState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal run transition %s -> %s", from, to)
	}
	return nil
}
