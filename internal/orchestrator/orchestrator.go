// Package orchestrator implements the tiered orchestrator: it
// decomposes incoming work into child items, distributes them through
// at most one intermediate coordination tier down to workers, gates
// every result behind the audit pipeline, and aggregates child
// outcomes into a terminal /done or /escalated state. Every
// coordinator owns one bounded context window; every dispatch carries
// a snapshot of its coordinator's window.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hivecore/internal/audit"
	"hivecore/internal/config"
	"hivecore/internal/events"
	"hivecore/internal/logging"
	"hivecore/internal/protocol"
	"hivecore/internal/router"
	"hivecore/internal/types"
)

// StateSink receives durable copies of work item states and task
// results. Optional.
type StateSink interface {
	SaveWorkItem(item types.WorkItem, state types.WorkItemState) error
	AppendTaskResult(res types.TaskResult) error
}

// Outcome is the terminal report for one orchestrated work item tree.
type Outcome struct {
	WorkItemID   string              `json:"work_item_id"`
	State        types.WorkItemState `json:"state"` // /done or /escalated
	Result       types.TaskResult    `json:"result"`
	ChildResults []types.TaskResult  `json:"child_results,omitempty"`
}

// itemRun is the orchestrator's live bookkeeping for one work item.
type itemRun struct {
	item     types.WorkItem
	state    types.WorkItemState
	cancel   context.CancelFunc
	children []string
	window   *ContextWindow
}

// Orchestrator coordinates the full delegation tree.
type Orchestrator struct {
	cfg        *config.Config
	router     *router.Router
	protocol   *protocol.Protocol
	audit      *audit.Pipeline
	bus        *events.Bus
	decomposer types.Decomposer
	stateSink  StateSink

	mu   sync.Mutex
	runs map[string]*itemRun
}

// New creates an orchestrator wired to its collaborators.
func New(cfg *config.Config, rt *router.Router, proto *protocol.Protocol, pipe *audit.Pipeline, bus *events.Bus, dec types.Decomposer) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		router:     rt,
		protocol:   proto,
		audit:      pipe,
		bus:        bus,
		decomposer: dec,
		runs:       make(map[string]*itemRun),
	}
}

// SetStateSink attaches a durable sink for states and results.
func (o *Orchestrator) SetStateSink(s StateSink) { o.stateSink = s }

// Run executes one top-level work item to a terminal state. The only
// error returned before a terminal state is a decomposition contract
// violation, which leaves the item /decomposed and never delegated.
func (o *Orchestrator) Run(ctx context.Context, item types.WorkItem) (Outcome, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Tier == "" {
		item.Tier = types.TierTop
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	logging.Orchestrator("Running work item %s: %s", item.ID, item.Description)
	return o.runCoordinator(ctx, item, 0)
}

// ItemState reports the current state machine position of a tracked
// work item.
func (o *Orchestrator) ItemState(workItemID string) (types.WorkItemState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[workItemID]
	if !ok {
		return "", false
	}
	return run.state, true
}

// Cancel aborts a work item in any state except /done. Cancellation
// propagates depth-first: children are cancelled before the item
// itself, and in-flight dispatches receive a best-effort signal
// through their contexts.
func (o *Orchestrator) Cancel(workItemID string) error {
	o.mu.Lock()
	run, ok := o.runs[workItemID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown work item %s", workItemID)
	}
	if run.state == types.StateDone {
		o.mu.Unlock()
		return fmt.Errorf("work item %s already done", workItemID)
	}
	o.mu.Unlock()

	o.cancelTree(workItemID)
	return nil
}

func (o *Orchestrator) cancelTree(workItemID string) {
	o.mu.Lock()
	run, ok := o.runs[workItemID]
	if !ok {
		o.mu.Unlock()
		return
	}
	children := append([]string(nil), run.children...)
	o.mu.Unlock()

	for _, childID := range children {
		o.cancelTree(childID)
	}

	o.mu.Lock()
	done := run.state == types.StateDone
	if !done {
		run.state = types.StateCancelled
	}
	cancel := run.cancel
	o.mu.Unlock()

	if !done && cancel != nil {
		logging.Orchestrator("Cancelling work item %s", workItemID)
		cancel()
		o.bus.Publish(events.EventWorkItemState, map[string]any{
			"work_item_id": workItemID, "state": string(types.StateCancelled),
		})
	}
}

// runCoordinator is the state machine for one coordinator node (top
// tier at depth 0, intermediate tier at depth 1).
func (o *Orchestrator) runCoordinator(ctx context.Context, item types.WorkItem, depth int) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := o.register(item, cancel)
	o.setState(run, types.StateReceived)

	children, err := o.decomposer.Decompose(ctx, item)
	if err != nil {
		logging.OrchestratorWarn("Decomposition failed for %s: %v", item.ID, err)
		return o.escalate(run, fmt.Sprintf("decomposition failed: %v", err)), nil
	}
	o.setState(run, types.StateDecomposed)

	children = o.adoptChildren(item, children)
	if err := validateDecomposition(item, children); err != nil {
		// Contract violation: the item stays /decomposed and is never
		// delegated.
		logging.OrchestratorWarn("Rejecting decomposition of %s: %v", item.ID, err)
		return Outcome{}, err
	}

	o.setState(run, types.StateDelegated)

	results := make([]types.TaskResult, len(children))
	states := make([]types.WorkItemState, len(children))

	g, gctx := errgroup.WithContext(ctx)
	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			results[i], states[i] = o.delegateChild(gctx, child, depth+1, run)
			return nil
		})
	}
	_ = g.Wait()

	o.setState(run, types.StateAggregating)
	return o.aggregate(run, children, results, states), nil
}

// adoptChildren stamps ids, parentage, and defaults onto provider
// supplied children.
func (o *Orchestrator) adoptChildren(parent types.WorkItem, children []types.WorkItem) []types.WorkItem {
	out := make([]types.WorkItem, len(children))
	for i, child := range children {
		if child.ID == "" {
			child.ID = uuid.NewString()
		}
		child.ParentID = parent.ID
		if child.Tier == "" {
			child.Tier = types.TierWorker
		}
		if child.Priority == "" {
			child.Priority = parent.Priority
		}
		if child.TimeoutMs == 0 {
			child.TimeoutMs = parent.TimeoutMs
		}
		if child.VerificationSuite == "" {
			child.VerificationSuite = parent.VerificationSuite
		}
		if child.CreatedAt.IsZero() {
			child.CreatedAt = time.Now()
		}
		out[i] = child
	}
	return out
}

// delegateChild routes one child either through a nested intermediate
// coordinator or straight to a worker.
func (o *Orchestrator) delegateChild(ctx context.Context, child types.WorkItem, depth int, parent *itemRun) (types.TaskResult, types.WorkItemState) {
	if child.Tier == types.TierIntermediate {
		if depth >= o.cfg.MaxTierDepth {
			msg := fmt.Sprintf("%v: child %s requires coordination at depth %d (max %d)",
				types.ErrTierDepthExceeded, child.ID, depth, o.cfg.MaxTierDepth)
			logging.OrchestratorWarn("%s", msg)
			childRun := o.register(child, nil)
			o.linkChild(parent, child.ID)
			return o.escalate(childRun, msg).Result, types.StateEscalated
		}
		o.linkChild(parent, child.ID)
		out, err := o.runCoordinator(ctx, child, depth)
		if err != nil {
			// Nested contract violation escalates to this coordinator.
			return types.TaskResult{
				WorkItemID:   child.ID,
				Status:       types.ResultFailed,
				ErrorMessage: err.Error(),
				CompletedAt:  time.Now(),
			}, types.StateEscalated
		}
		parent.window.Add("result:"+child.ID, out.Result.Output)
		return out.Result, out.State
	}
	return o.runWorkerChild(ctx, child, parent)
}

// runWorkerChild dispatches one worker-tier child and gates the result
// behind the audit pipeline.
func (o *Orchestrator) runWorkerChild(ctx context.Context, child types.WorkItem, parent *itemRun) (types.TaskResult, types.WorkItemState) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := o.register(child, cancel)
	o.linkChild(parent, child.ID)
	o.setState(run, types.StateReceived)

	desc, err := o.router.Route(child, types.TierWorker)
	if err != nil {
		return o.escalate(run, err.Error()).Result, types.StateEscalated
	}
	o.setState(run, types.StateDelegated)

	result, err := o.protocol.Assign(ctx, desc.ID, child, parent.window.Snapshot())
	if err != nil {
		return o.escalate(run, err.Error()).Result, types.StateEscalated
	}
	o.recordResult(result)
	if result.Failed() {
		// The dispatch itself failed (timeout, provider error); the
		// audit pipeline only gates produced results.
		return o.escalate(run, result.ErrorMessage).Result, types.StateEscalated
	}

	rd := &workerRedispatcher{orch: o, workerID: desc.ID, parent: parent}
	final, err := o.audit.Review(ctx, child, result, rd)
	o.recordResult(final)
	if err != nil {
		out := o.escalate(run, final.ErrorMessage)
		out.Result = final
		return final, types.StateEscalated
	}
	if final.Failed() {
		// A /failed result can never complete the child, whatever the
		// audit verdict on its output.
		return o.escalate(run, final.ErrorMessage).Result, types.StateEscalated
	}

	parent.window.Add("result:"+child.ID, final.Output)
	o.setState(run, types.StateDone)
	return final, types.StateDone
}

// aggregate merges child results into the parent's terminal outcome.
func (o *Orchestrator) aggregate(run *itemRun, children []types.WorkItem, results []types.TaskResult, states []types.WorkItemState) Outcome {
	merged := types.TaskResult{
		WorkItemID:  run.item.ID,
		Status:      types.ResultCompleted,
		CompletedAt: time.Now(),
	}
	escalated := false
	for i, res := range results {
		if states[i] != types.StateDone {
			escalated = true
			if merged.ErrorMessage == "" {
				merged.ErrorMessage = fmt.Sprintf("child %s: %s", children[i].ID, res.ErrorMessage)
			}
		}
		if res.Output != "" {
			if merged.Output != "" {
				merged.Output += "\n"
			}
			merged.Output += res.Output
		}
		merged.Artifacts = append(merged.Artifacts, res.Artifacts...)
	}

	state := types.StateDone
	if escalated {
		state = types.StateEscalated
		merged.Status = types.ResultFailed
	}
	o.setState(run, state)
	o.recordResult(merged)
	logging.Orchestrator("Work item %s terminal state %s (%d children)", run.item.ID, state, len(children))
	return Outcome{
		WorkItemID:   run.item.ID,
		State:        state,
		Result:       merged,
		ChildResults: results,
	}
}

// escalate moves a run to /escalated with a failed result.
func (o *Orchestrator) escalate(run *itemRun, msg string) Outcome {
	o.setState(run, types.StateEscalated)
	return Outcome{
		WorkItemID: run.item.ID,
		State:      types.StateEscalated,
		Result: types.TaskResult{
			WorkItemID:   run.item.ID,
			Status:       types.ResultFailed,
			ErrorMessage: msg,
			CompletedAt:  time.Now(),
		},
	}
}

// register creates (or refreshes) the live bookkeeping for an item,
// including its tier-sized context window.
func (o *Orchestrator) register(item types.WorkItem, cancel context.CancelFunc) *itemRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[item.ID]
	if !ok {
		run = &itemRun{
			item:   item,
			window: NewContextWindow(item.ID, o.cfg.ContextCapacity(item.Tier)),
		}
		o.runs[item.ID] = run
	}
	run.cancel = cancel
	return run
}

func (o *Orchestrator) linkChild(parent *itemRun, childID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent.children = append(parent.children, childID)
}

// setState advances a run's state machine, mirroring the transition on
// the bus and into the durable sink.
func (o *Orchestrator) setState(run *itemRun, state types.WorkItemState) {
	o.mu.Lock()
	if run.state == types.StateCancelled {
		o.mu.Unlock()
		return
	}
	run.state = state
	o.mu.Unlock()

	logging.OrchestratorDebug("Item %s -> %s", run.item.ID, state)
	o.bus.Publish(events.EventWorkItemState, map[string]any{
		"work_item_id": run.item.ID, "state": string(state),
	})
	if o.stateSink != nil {
		if err := o.stateSink.SaveWorkItem(run.item, state); err != nil {
			logging.OrchestratorWarn("Failed to persist state for %s: %v", run.item.ID, err)
		}
	}
}

func (o *Orchestrator) recordResult(res types.TaskResult) {
	if o.stateSink == nil {
		return
	}
	if err := o.stateSink.AppendTaskResult(res); err != nil {
		logging.OrchestratorWarn("Failed to persist result for %s: %v", res.WorkItemID, err)
	}
}

// workerRedispatcher routes an item back to its assigned worker with
// audit notes attached, satisfying the one-active-dispatch invariant
// because the audit stage loop is sequential per item.
type workerRedispatcher struct {
	orch     *Orchestrator
	workerID string
	parent   *itemRun
}

// Redispatch implements audit.Redispatcher.
func (r *workerRedispatcher) Redispatch(ctx context.Context, item types.WorkItem, notes string) (types.TaskResult, error) {
	retry := item
	retry.Description = item.Description + "\n\nAudit feedback (must be addressed):\n" + notes
	result, err := r.orch.protocol.Assign(ctx, r.workerID, retry, r.parent.window.Snapshot())
	if err != nil {
		return types.TaskResult{}, err
	}
	r.orch.recordResult(result)
	return result, nil
}
