package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

// Status is the terminal status of a run. Only ceiling-exceeded and
// cancellation escape as statuses distinct from normal completion;
// everything below the Engine is contained.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusCeilingExceeded Status = "ceiling_exceeded"
	StatusFailed          Status = "failed"
)

// Result reports the outcome of one run.
type Result struct {
	RunID       string `json:"run_id"`
	Status      Status `json:"status"`
	FinalAnswer string `json:"final_answer,omitempty"`
	State       *State `json:"state,omitempty"`
}

// Config bounds one engine's behavior.
type Config struct {
	// MaxResearchCycles caps Planning re-entries; breaching it is fatal to
	// the run. Default 10.
	MaxResearchCycles int
	// MaxFeedbackRequests caps real judge evaluations before acceptance is
	// forced. Default 2.
	MaxFeedbackRequests int
	// ToolWorkers caps concurrent tool calls within one batch. Default 4.
	ToolWorkers int
}

func (c Config) withDefaults() Config {
	if c.MaxResearchCycles <= 0 {
		c.MaxResearchCycles = 10
	}
	if c.MaxFeedbackRequests <= 0 {
		c.MaxFeedbackRequests = 2
	}
	if c.ToolWorkers <= 0 {
		c.ToolWorkers = 4
	}
	return c
}

// Engine drives the stage/router loop for a single user query. It is the
// sole caller of stages, the sole owner of the State, and the only place
// that checks ceilings and cancellation. Engines are not reusable across
// queries; create one per run.
type Engine struct {
	stages    map[Node]Stage
	cfg       Config
	sink      EventSink
	logger    *zap.Logger
	cancelled atomic.Bool
}

// New creates an engine wiring the five stages to the given model provider
// and tool registry.
func New(provider llm.Provider, registry *tools.Registry, cfg Config, sink EventSink, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		stages: map[Node]Stage{
			NodeDecision:  NewDecisionStage(provider, logger),
			NodePlanning:  NewPlanningStage(provider, registry, cfg.MaxResearchCycles, logger),
			NodeTools:     NewToolsStage(registry, cfg.ToolWorkers, logger),
			NodeAnswering: NewAnsweringStage(provider, registry, logger),
			NodeJudging:   NewJudgingStage(provider, cfg.MaxFeedbackRequests, logger),
		},
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(zap.String("component", "engine")),
	}
}

// Cancel requests cooperative cancellation. The engine stops advancing at
// the next transition boundary; in-flight tool calls finish, no new stage
// is entered.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Run executes the workflow until a terminal status is reached. The error
// return is non-nil only for the fatal ceiling breach and for internal
// failures; cancellation is a status, not an error.
func (e *Engine) Run(ctx context.Context, s *State) (*Result, error) {
	runID := uuid.NewString()
	result := &Result{RunID: runID, State: s}

	emit := func(ev Event) {
		ev.RunID = runID
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		e.sink.OnEvent(ev)
	}
	ctx = withEmitter(ctx, emit)

	emit(Event{Type: EventRunStart})
	e.logger.Info("run started", zap.String("run_id", runID))

	node := NodeDecision
	for node != NodeDone {
		// Cancellation is checked once per transition boundary.
		if e.cancelRequested(ctx) {
			emit(Event{Type: EventCancelled, Node: node})
			e.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("node", string(node)))
			result.Status = StatusCancelled
			return result, nil
		}

		if node == NodePlanning {
			s.ResearchCycles++
			if s.ResearchCycles > e.cfg.MaxResearchCycles {
				err := types.NewError(types.ErrCycleCeiling,
					fmt.Sprintf("research cycle ceiling of %d exceeded", e.cfg.MaxResearchCycles))
				emit(Event{Type: EventFailed, Node: node, Err: err.Error()})
				e.logger.Error("run exceeded cycle ceiling",
					zap.String("run_id", runID),
					zap.Int("cycles", s.ResearchCycles),
				)
				result.Status = StatusCeilingExceeded
				return result, err
			}
		}

		stage, ok := e.stages[node]
		if !ok {
			err := fmt.Errorf("no stage registered for node %q", node)
			emit(Event{Type: EventFailed, Node: node, Err: err.Error()})
			result.Status = StatusFailed
			return result, err
		}

		emit(Event{Type: EventStageStart, Node: node})
		update, err := stage.Execute(ctx, s)
		if err != nil {
			if ctx.Err() != nil || e.cancelled.Load() {
				emit(Event{Type: EventCancelled, Node: node})
				result.Status = StatusCancelled
				return result, nil
			}
			emit(Event{Type: EventFailed, Node: node, Err: err.Error()})
			result.Status = StatusFailed
			return result, fmt.Errorf("stage %s failed: %w", node, err)
		}
		if err := s.Apply(update); err != nil {
			emit(Event{Type: EventFailed, Node: node, Err: err.Error()})
			result.Status = StatusFailed
			return result, fmt.Errorf("stage %s produced invalid update: %w", node, err)
		}
		emit(Event{Type: EventStageEnd, Node: node})

		node = e.route(node, s)
	}

	result.Status = StatusCompleted
	result.FinalAnswer = s.LastAssistantContent()
	emit(Event{Type: EventCompleted})
	e.logger.Info("run completed",
		zap.String("run_id", runID),
		zap.Int("cycles", s.ResearchCycles),
		zap.Int("feedback_requests", s.FeedbackRequests),
	)
	return result, nil
}

func (e *Engine) cancelRequested(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// route encodes the cycle topology: fixed edges for planning and tool
// execution, conditional edges everywhere else.
func (e *Engine) route(node Node, s *State) Node {
	switch node {
	case NodeDecision:
		return RouteAfterDecision(s)
	case NodePlanning, NodeTools:
		return NodeAnswering
	case NodeAnswering:
		return RouteAfterAnswering(s)
	case NodeJudging:
		return RouteAfterJudging(s)
	default:
		return NodeDone
	}
}
