package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/llm"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// Graph is the compiled case state machine. Built once per process; every
// invocation carries its own RunState, so a single Graph serves all cases.
type Graph struct {
	store  Storage
	llm    llm.Provider
	exec   ActionExecutor
	ckpt   Checkpoints
	router *Router
	cfg    config.EngineConfig
	clock  func() time.Time
}

// NewGraph wires the graph's collaborators.
func NewGraph(store Storage, provider llm.Provider, exec ActionExecutor, ckpt Checkpoints, cfg config.EngineConfig) *Graph {
	return &Graph{
		store:  store,
		llm:    provider,
		exec:   exec,
		ckpt:   ckpt,
		router: NewRouter(cfg),
		cfg:    cfg,
	}
}

// Run drives the machine from startNode until it reaches END or a node
// suspends. The state is checkpointed after every step; a suspension stores
// the interrupt payload alongside and returns it. A completed run clears the
// thread's checkpoint.
func (g *Graph) Run(ctx context.Context, st RunState, startNode string) (RunState, *domain.InterruptPayload, error) {
	threadID := checkpoint.ThreadID(st.CaseID)
	node := startNode
	if node == "" {
		node = NodeLoadContext
	}

	for node != NodeEnd {
		if node == NodeDecideNextAction {
			st.Iteration++
			if st.Iteration > g.cfg.MaxIterations {
				st.addReasoning(fmt.Sprintf("iteration bound %d reached, ending run", g.cfg.MaxIterations))
				st.EndReason = "max_iterations_reached"
				node = NodeCommitState
				continue
			}
		}
		st.NodeTrace = append(st.NodeTrace, node)
		if err := g.store.SetRunNode(ctx, st.RunID, node, st.Iteration); err != nil {
			logger.Warn("set run node failed", "run_id", st.RunID, "node", node, "error", err.Error())
		}

		res := g.step(ctx, node, st)
		st = res.State

		snap, err := json.Marshal(st)
		if err != nil {
			return st, nil, fmt.Errorf("marshal run state: %w", err)
		}

		if res.Interrupt != nil {
			payload, err := json.Marshal(res.Interrupt)
			if err != nil {
				return st, nil, fmt.Errorf("marshal interrupt: %w", err)
			}
			if _, err := g.ckpt.SaveInterrupt(ctx, threadID, node, snap, payload); err != nil {
				return st, nil, err
			}
			return st, res.Interrupt, nil
		}

		if _, err := g.ckpt.Save(ctx, threadID, res.Next, snap); err != nil {
			return st, nil, err
		}
		node = res.Next
	}

	if err := g.ckpt.Clear(ctx, threadID); err != nil {
		logger.Warn("clear checkpoint failed", "case_id", st.CaseID, "error", err.Error())
	}
	return st, nil, nil
}

func (g *Graph) step(ctx context.Context, node string, st RunState) NodeResult {
	switch node {
	case NodeLoadContext:
		return g.loadContext(ctx, st)
	case NodeClassifyInbound:
		return g.classifyInbound(ctx, st)
	case NodeUpdateConstraints:
		return g.updateConstraints(ctx, st)
	case NodeDecideNextAction:
		return g.decideNextAction(ctx, st)
	case NodeDraftResponse:
		return g.draftResponse(ctx, st)
	case NodeSafetyCheck:
		return g.safetyCheck(ctx, st)
	case NodeGateOrExecute:
		return g.gateOrExecute(ctx, st)
	case NodeExecuteAction:
		return g.executeAction(ctx, st)
	case NodeCommitState:
		return g.commitState(ctx, st)
	default:
		st.addError(fmt.Sprintf("unknown node %q", node))
		return goTo(st, NodeEnd)
	}
}
