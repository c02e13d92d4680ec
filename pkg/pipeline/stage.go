package pipeline

// Stage is a state of a single submission. Runs move strictly forward and
// end in StageSucceeded or StageFailed.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageFetching         Stage = "fetching"
	StageContextBuilding  Stage = "context_building"
	StageAgentsConfigured Stage = "agents_configured"
	StageTasksBuilt       Stage = "tasks_built"
	StageExecuting        Stage = "executing"
	StageSucceeded        Stage = "succeeded"
	StageFailed           Stage = "failed"
)

// order is the forward sequence of non-terminal stages.
var order = []Stage{
	StageIdle,
	StageFetching,
	StageContextBuilding,
	StageAgentsConfigured,
	StageTasksBuilt,
	StageExecuting,
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

func (s Stage) index() int {
	for i, o := range order {
		if o == s {
			return i
		}
	}
	return len(order)
}

// canTransition reports whether a run may move from one stage to the next.
// Non-terminal stages advance one step at a time; any non-terminal stage
// may fail, and only Executing may succeed.
func canTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StageFailed:
		return true
	case StageSucceeded:
		return from == StageExecuting
	}
	return to.index() == from.index()+1
}
