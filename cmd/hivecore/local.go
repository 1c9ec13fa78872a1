package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hivecore/internal/registry"
	"hivecore/internal/types"
)

// defaultRoster is the built-in worker set used when the config file
// carries no roster.
func defaultRoster() []types.WorkerDescriptor {
	return []types.WorkerDescriptor{
		{
			ID:        "ui-worker",
			Category:  types.TierWorker,
			Keywords:  []string{"ui", "react", "component", "frontend", "css"},
			TaskTypes: []string{"implement-ui"},
		},
		{
			ID:        "api-worker",
			Category:  types.TierWorker,
			Keywords:  []string{"api", "endpoint", "rest", "handler", "server"},
			TaskTypes: []string{"implement-api"},
		},
		{
			ID:        "test-worker",
			Category:  types.TierWorker,
			Keywords:  []string{"test", "coverage", "verify", "suite"},
			TaskTypes: []string{"write-tests"},
		},
		{
			ID:        "general-worker",
			Category:  types.TierWorker,
			Keywords:  []string{},
			TaskTypes: []string{"general"},
		},
		{
			ID:        "build-coordinator",
			Category:  types.TierIntermediate,
			Keywords:  []string{"build", "integrate", "assemble"},
			TaskTypes: []string{"coordinate-build"},
		},
	}
}

// localProvider is the demo capability provider: it synthesizes a
// completed result from the item description. Real deployments bind a
// subprocess or remote provider instead; the core never knows the
// difference.
func localProvider(desc types.WorkerDescriptor) types.CapabilityProvider {
	return types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		summary := item.Description
		if idx := strings.IndexByte(summary, '\n'); idx > 0 {
			summary = summary[:idx]
		}
		return types.TaskResult{
			WorkItemID: item.ID,
			Status:     types.ResultCompleted,
			Output: fmt.Sprintf("[%s] handled %q with %d context entries",
				desc.ID, summary, len(snapshot)),
			CompletedAt: time.Now(),
		}, nil
	})
}

// localDecomposer splits a description on ';' into children, tagging
// each child with the best-scoring task type from the registry so the
// router has something to match on.
func localDecomposer(reg *registry.Registry) types.Decomposer {
	return types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		parts := strings.Split(item.Description, ";")
		children := make([]types.WorkItem, 0, len(parts))
		seen := make(map[string]bool)
		for i, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			taskType := inferTaskType(reg, part)
			if seen[taskType] {
				taskType = fmt.Sprintf("%s-%d", taskType, i)
			}
			seen[taskType] = true
			children = append(children, types.WorkItem{
				Description: part,
				TaskType:    taskType,
				Tier:        types.TierWorker,
				Resource:    fmt.Sprintf("part-%d", i),
			})
		}
		return children, nil
	})
}

// inferTaskType picks the first declared task type of the best keyword
// match, defaulting to "general".
func inferTaskType(reg *registry.Registry, description string) string {
	cands := reg.FindCandidates("", description, types.TierWorker)
	if len(cands) > 0 && len(cands[0].Descriptor.TaskTypes) > 0 {
		return cands[0].Descriptor.TaskTypes[0]
	}
	return "general"
}

// localExecutor is the demo isolated executor: it accepts every
// artifact. Deployments point the audit pipeline at a sandboxed runner.
type localExecutor struct{}

// Run implements types.Executor.
func (localExecutor) Run(ctx context.Context, artifactRef, suiteRef string, timeout time.Duration) (types.ExecutionReport, error) {
	return types.ExecutionReport{Passed: true, Logs: fmt.Sprintf("artifact %s accepted", artifactRef)}, nil
}
