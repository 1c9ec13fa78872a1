// Package audit implements the three-stage verification pipeline that
// gates task completion: authenticity, execution verification, and
// quality. Each stage holds its own retry budget; a failing stage
// re-dispatches the work item to its worker with the failure notes
// attached and re-attempts the SAME stage - stages never restart from
// the top. Every attempt appends an immutable AuditRecord.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hivecore/internal/config"
	"hivecore/internal/events"
	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// stageOrder is the fixed stage sequence.
var stageOrder = []types.AuditStage{
	types.StageAuthenticity,
	types.StageExecution,
	types.StageQuality,
}

// Redispatcher routes a work item back to its assigned worker with
// audit notes as additional input. Implemented by the orchestrator on
// top of the coordination protocol.
type Redispatcher interface {
	Redispatch(ctx context.Context, item types.WorkItem, notes string) (types.TaskResult, error)
}

// Pipeline runs results through the ordered stages.
type Pipeline struct {
	budget           int
	qualityThreshold float64
	execTimeout      time.Duration

	executor types.Executor
	recorder types.AuditRecorder
	bus      *events.Bus
}

// New creates a pipeline. executor and recorder may be nil: without an
// executor the execution stage passes vacuously (the collaborator is
// external); without a recorder the trail only reaches the event bus.
func New(cfg *config.Config, executor types.Executor, recorder types.AuditRecorder, bus *events.Bus) *Pipeline {
	return &Pipeline{
		budget:           cfg.AuditRetryBudgetPerStage,
		qualityThreshold: cfg.QualityThreshold,
		execTimeout:      cfg.DefaultTimeout(),
		executor:         executor,
		recorder:         recorder,
		bus:              bus,
	}
}

// Review gates one task result. On success the (possibly re-dispatched)
// result comes back with status /completed. When a stage exhausts its
// budget, the result comes back with status /failed, ErrorMessage set
// to the stage's last notes, and the error wraps
// types.ErrRetryBudgetExhausted so the orchestrator escalates.
func (p *Pipeline) Review(ctx context.Context, item types.WorkItem, result types.TaskResult, redispatch Redispatcher) (types.TaskResult, error) {
	current := result
	for _, stage := range stageOrder {
		verdict, err := p.runStage(ctx, stage, item, &current, redispatch)
		if err != nil {
			current.Status = types.ResultFailed
			current.ErrorMessage = verdict
			return current, err
		}
	}
	logging.Audit("Item %s passed all audit stages", item.ID)
	return current, nil
}

// runStage retries one stage until it passes or the budget runs out.
// It returns the last notes alongside any terminal error. The current
// result is replaced in place by re-dispatches so later stages see the
// newest attempt.
func (p *Pipeline) runStage(ctx context.Context, stage types.AuditStage, item types.WorkItem, current *types.TaskResult, redispatch Redispatcher) (string, error) {
	var notes string
	for attempt := 1; attempt <= p.budget; attempt++ {
		var passed bool
		passed, notes = p.evaluate(ctx, stage, item, *current)
		p.append(types.AuditRecord{
			ID:         uuid.NewString(),
			WorkItemID: item.ID,
			Stage:      stage,
			Attempt:    attempt,
			Passed:     passed,
			Notes:      notes,
			CreatedAt:  time.Now(),
		})

		if passed {
			logging.AuditDebug("Item %s passed stage %s on attempt %d", item.ID, stage, attempt)
			return notes, nil
		}
		logging.Audit("Item %s failed stage %s attempt %d/%d: %s",
			item.ID, stage, attempt, p.budget, notes)

		if attempt == p.budget {
			break
		}

		// Route back to the worker with the notes as extra input, then
		// re-attempt this same stage against the fresh result. A failed
		// re-dispatch is not a response: it consumes the attempt but the
		// previous result stays current, so the stage can never pass on
		// the back of a /failed dispatch.
		redone, err := redispatch.Redispatch(ctx, item, notes)
		if err != nil {
			notes = fmt.Sprintf("%s; re-dispatch failed: %v", notes, err)
			continue
		}
		if redone.Failed() {
			notes = fmt.Sprintf("%s; re-dispatch returned failure: %s", notes, redone.ErrorMessage)
			continue
		}
		*current = redone
	}
	return notes, fmt.Errorf("%w: stage %s after %d attempts: %s",
		types.ErrRetryBudgetExhausted, stage, p.budget, notes)
}

// evaluate runs one stage predicate over the current result.
func (p *Pipeline) evaluate(ctx context.Context, stage types.AuditStage, item types.WorkItem, result types.TaskResult) (bool, string) {
	switch stage {
	case types.StageAuthenticity:
		return checkAuthenticity(result)
	case types.StageExecution:
		return p.verifyExecution(ctx, item, result)
	case types.StageQuality:
		return scanQuality(result, p.qualityThreshold)
	}
	return false, fmt.Sprintf("unknown audit stage %s", stage)
}

// verifyExecution runs every artifact through the isolated executor
// with the item's verification suite.
func (p *Pipeline) verifyExecution(ctx context.Context, item types.WorkItem, result types.TaskResult) (bool, string) {
	if p.executor == nil {
		return true, "no executor configured; execution stage skipped"
	}
	if len(result.Artifacts) == 0 {
		return true, "no artifacts to execute"
	}
	for _, artifact := range result.Artifacts {
		report, err := p.executor.Run(ctx, artifact.Ref, item.VerificationSuite, p.execTimeout)
		if err != nil {
			return false, fmt.Sprintf("%v: artifact %s: %v", types.ErrExecutionFailure, artifact.Ref, err)
		}
		if !report.Passed {
			return false, fmt.Sprintf("%v: artifact %s: %s", types.ErrExecutionFailure, artifact.Ref, report.Logs)
		}
	}
	return true, fmt.Sprintf("%d artifacts passed verification", len(result.Artifacts))
}

// append persists one audit record and mirrors it on the bus.
func (p *Pipeline) append(rec types.AuditRecord) {
	if p.recorder != nil {
		if err := p.recorder.AppendAuditRecord(rec); err != nil {
			logging.Audit("Failed to persist audit record for %s/%s: %v", rec.WorkItemID, rec.Stage, err)
		}
	}
	if p.bus != nil {
		p.bus.Publish(events.EventAuditRecord, rec)
	}
}
