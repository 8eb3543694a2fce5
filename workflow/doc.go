// Package workflow implements the research assistant's orchestration state
// machine: a single mutable State threaded through five stages (decision,
// planning, tool execution, answering, judging), pure routing functions
// encoding the cycle topology, and an Engine that drives the loop under hard
// iteration ceilings with cooperative cancellation and lifecycle events.
//
// The topology mirrors a LangGraph-style conditional graph:
//
//	decision ──▶ done
//	    │
//	    ▼
//	planning ──▶ answering ◀─▶ tools
//	    ▲            │
//	    │            ▼
//	    └───────── judging ──▶ done
//
// Stages never abort the run: model failures collapse into safe defaults and
// tool failures surface as data in the message log. Only the plan-cycle
// ceiling and cancellation escape as run-level terminal statuses.
package workflow
