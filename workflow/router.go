package workflow

// Node names one stage of the workflow graph.
type Node string

const (
	NodeDecision  Node = "decision"
	NodePlanning  Node = "planning"
	NodeTools     Node = "tools"
	NodeAnswering Node = "answering"
	NodeJudging   Node = "judging"
	NodeDone      Node = "done"
)

// The routing functions are pure: they read the state and return the next
// node without side effects, so routing the same state twice always yields
// the same decision.

// RouteAfterDecision directs the query to planning when research is needed,
// otherwise the direct answer ends the run.
func RouteAfterDecision(s *State) Node {
	if s.RequiresResearch {
		return NodePlanning
	}
	return NodeDone
}

// RouteAfterAnswering loops back into tool execution while the assistant
// still requests tools, and moves on to judging once it produced plain text.
func RouteAfterAnswering(s *State) Node {
	if len(s.PendingToolCalls()) > 0 {
		return NodeTools
	}
	return NodeJudging
}

// RouteAfterJudging ends the run on a good answer and re-plans with the
// accumulated feedback otherwise.
func RouteAfterJudging(s *State) Node {
	if s.IsGoodAnswer {
		return NodeDone
	}
	return NodePlanning
}
