package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/audit"
	"hivecore/internal/config"
	"hivecore/internal/events"
	"hivecore/internal/protocol"
	"hivecore/internal/registry"
	"hivecore/internal/router"
	"hivecore/internal/types"
)

// trailRecorder collects audit records so tests can assert whether the
// pipeline ran at all.
type trailRecorder struct {
	mu      sync.Mutex
	records []types.AuditRecord
}

func (r *trailRecorder) AppendAuditRecord(rec types.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *trailRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fixture struct {
	cfg   *config.Config
	proto *protocol.Protocol
	orch  *Orchestrator
	trail *trailRecorder
}

// newFixture wires a single worker "w1" (tier default) behind the given
// provider and a scripted decomposer.
func newFixture(t *testing.T, provider types.CapabilityProvider, dec types.Decomposer) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DefaultTimeoutMs = 500

	reg := registry.New()
	require.NoError(t, reg.Register(types.WorkerDescriptor{ID: "w1", Category: types.TierWorker}))
	require.NoError(t, reg.SetDefaultWorker(types.TierWorker, "w1"))

	bus := events.NewBus(time.Second)
	t.Cleanup(bus.Close)

	proto := protocol.New(reg, bus, cfg)
	proto.BindProvider("w1", provider)

	trail := &trailRecorder{}
	pipe := audit.New(cfg, nil, trail, bus)
	rt := router.New(reg, proto)

	return &fixture{
		cfg:   cfg,
		proto: proto,
		orch:  New(cfg, rt, proto, pipe, bus, dec),
		trail: trail,
	}
}

func echoProvider() types.CapabilityProvider {
	return types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		return types.TaskResult{
			WorkItemID: item.ID,
			Status:     types.ResultCompleted,
			Output:     "handled " + item.TaskType,
		}, nil
	})
}

func twoChildDecomposer() types.Decomposer {
	return types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return []types.WorkItem{
			{Description: "build the api", TaskType: "implement-api", Resource: "src/api.go"},
			{Description: "build the ui", TaskType: "implement-ui", Resource: "src/ui.go"},
		}, nil
	})
}

func TestRun_HappyPathToDone(t *testing.T) {
	f := newFixture(t, echoProvider(), twoChildDecomposer())

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "build the app"})
	require.NoError(t, err)

	assert.Equal(t, types.StateDone, out.State)
	assert.Equal(t, types.ResultCompleted, out.Result.Status)
	require.Len(t, out.ChildResults, 2)
	assert.Contains(t, out.Result.Output, "handled implement-api")
	assert.Contains(t, out.Result.Output, "handled implement-ui")

	state, ok := f.orch.ItemState("top")
	require.True(t, ok)
	assert.Equal(t, types.StateDone, state)

	// Three audit stages per worker child.
	assert.Equal(t, 6, f.trail.count())

	// Each child's gated output landed in the top coordinator's window.
	f.orch.mu.Lock()
	window := f.orch.runs["top"].window
	f.orch.mu.Unlock()
	assert.Equal(t, 2, window.Len())
}

func TestRun_OverlappingDecompositionRejected(t *testing.T) {
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return []types.WorkItem{
			{Description: "edit the handler", TaskType: "implement-api", Resource: "src/API.go"},
			{Description: "test the handler", TaskType: "write-tests", Resource: "./src/api.go"},
		}, nil
	})
	f := newFixture(t, echoProvider(), dec)

	_, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "conflicting plan"})
	require.ErrorIs(t, err, ErrDecompositionContract)

	// The item was never delegated and no child ever reached a worker.
	state, ok := f.orch.ItemState("top")
	require.True(t, ok)
	assert.Equal(t, types.StateDecomposed, state)
	assert.Equal(t, 0, f.trail.count())
}

func TestRun_DecomposerErrorEscalates(t *testing.T) {
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return nil, fmt.Errorf("planner unavailable")
	})
	f := newFixture(t, echoProvider(), dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.StateEscalated, out.State)
	assert.True(t, out.Result.Failed())
	assert.Contains(t, out.Result.ErrorMessage, "planner unavailable")
}

func TestRun_FailedDispatchEscalatesWithoutAudit(t *testing.T) {
	provider := types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		return types.TaskResult{}, fmt.Errorf("worker crashed")
	})
	f := newFixture(t, provider, twoChildDecomposer())

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.StateEscalated, out.State)
	assert.Contains(t, out.Result.ErrorMessage, "worker crashed")

	// Dispatch failures never enter the audit pipeline.
	assert.Equal(t, 0, f.trail.count())
}

func TestRun_AuditExhaustionEscalates(t *testing.T) {
	// Every attempt, including re-dispatches with audit notes, produces
	// a placeholder result the authenticity stage rejects.
	provider := types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		return types.TaskResult{
			WorkItemID: item.ID,
			Status:     types.ResultCompleted,
			Output:     "TODO: actually do the work",
		}, nil
	})
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return []types.WorkItem{
			{Description: "one child", TaskType: "implement-api"},
		}, nil
	})
	f := newFixture(t, provider, dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.StateEscalated, out.State)
	require.Len(t, out.ChildResults, 1)
	assert.True(t, out.ChildResults[0].Failed())

	// Budget of 3 authenticity attempts, all recorded.
	assert.Equal(t, 3, f.trail.count())
}

func TestRun_FailedRedispatchNeverCompletesChild(t *testing.T) {
	// The first dispatch produces a placeholder; every audit-driven
	// re-dispatch comes back /failed carrying output that would pass
	// all three stages. The child, and therefore the parent, must
	// escalate rather than ride the failed result to /done.
	var mu sync.Mutex
	calls := 0
	provider := types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return types.TaskResult{WorkItemID: item.ID, Status: types.ResultCompleted, Output: "TODO: do the work"}, nil
		}
		return types.TaskResult{
			WorkItemID:   item.ID,
			Status:       types.ResultFailed,
			Output:       "looks perfectly fine",
			ErrorMessage: "worker crashed mid-retry",
		}, nil
	})
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return []types.WorkItem{{ID: "child", Description: "do the work", TaskType: "implement-api"}}, nil
	})
	f := newFixture(t, provider, dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)

	assert.Equal(t, types.StateEscalated, out.State)
	assert.True(t, out.Result.Failed())
	require.Len(t, out.ChildResults, 1)
	assert.True(t, out.ChildResults[0].Failed())

	state, ok := f.orch.ItemState("child")
	require.True(t, ok)
	assert.Equal(t, types.StateEscalated, state)
}

func TestRun_RedispatchCarriesAuditNotes(t *testing.T) {
	var mu sync.Mutex
	var descriptions []string
	provider := types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		mu.Lock()
		descriptions = append(descriptions, item.Description)
		attempt := len(descriptions)
		mu.Unlock()
		output := "finished cleanly"
		if attempt == 1 {
			output = "TODO: finish this"
		}
		return types.TaskResult{WorkItemID: item.ID, Status: types.ResultCompleted, Output: output}, nil
	})
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		return []types.WorkItem{{Description: "do the thing", TaskType: "implement-api"}}, nil
	})
	f := newFixture(t, provider, dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.StateDone, out.State)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, descriptions, 2)
	assert.Equal(t, "do the thing", descriptions[0])
	assert.Contains(t, descriptions[1], "Audit feedback")
	assert.Contains(t, descriptions[1], "todo")
}

func TestRun_IntermediateTierCoordination(t *testing.T) {
	// The top item delegates one subtree through an intermediate
	// coordinator whose own children are plain workers.
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		if item.ID == "top" {
			return []types.WorkItem{
				{ID: "mid", Description: "coordinate the backend", TaskType: "coordinate-build", Tier: types.TierIntermediate},
			}, nil
		}
		return []types.WorkItem{
			{Description: "build the api", TaskType: "implement-api"},
		}, nil
	})
	f := newFixture(t, echoProvider(), dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "big build"})
	require.NoError(t, err)
	assert.Equal(t, types.StateDone, out.State)

	state, ok := f.orch.ItemState("mid")
	require.True(t, ok)
	assert.Equal(t, types.StateDone, state)
}

func TestRun_TierDepthLimitEscalates(t *testing.T) {
	// An intermediate coordinator that tries to spawn a further
	// intermediate tier exceeds the depth limit.
	dec := types.DecomposerFunc(func(ctx context.Context, item types.WorkItem) ([]types.WorkItem, error) {
		switch item.ID {
		case "top":
			return []types.WorkItem{
				{ID: "mid", Description: "coordinate", TaskType: "coordinate-build", Tier: types.TierIntermediate},
			}, nil
		case "mid":
			return []types.WorkItem{
				{ID: "deep", Description: "coordinate deeper", TaskType: "coordinate-more", Tier: types.TierIntermediate},
			}, nil
		}
		return nil, fmt.Errorf("unexpected decomposition of %s", item.ID)
	})
	f := newFixture(t, echoProvider(), dec)

	out, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "too deep"})
	require.NoError(t, err)
	assert.Equal(t, types.StateEscalated, out.State)
	assert.Contains(t, out.Result.ErrorMessage, types.ErrTierDepthExceeded.Error())

	state, ok := f.orch.ItemState("deep")
	require.True(t, ok)
	assert.Equal(t, types.StateEscalated, state)
}

func TestCancel_UnknownAndDoneItems(t *testing.T) {
	f := newFixture(t, echoProvider(), twoChildDecomposer())

	assert.Error(t, f.orch.Cancel("never-seen"))

	_, err := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
	require.NoError(t, err)
	assert.Error(t, f.orch.Cancel("top"), "completed items cannot be cancelled")
}

func TestCancel_InFlightTree(t *testing.T) {
	started := make(chan struct{}, 4)
	provider := types.ProviderFunc(func(ctx context.Context, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return types.TaskResult{}, ctx.Err()
	})
	f := newFixture(t, provider, twoChildDecomposer())

	outcome := make(chan Outcome, 1)
	go func() {
		out, _ := f.orch.Run(context.Background(), types.WorkItem{ID: "top", Description: "x"})
		outcome <- out
	}()

	// Wait until both children are blocked inside their dispatches.
	<-started
	<-started

	require.NoError(t, f.orch.Cancel("top"))

	select {
	case out := <-outcome:
		assert.Equal(t, types.StateEscalated, out.State)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not unwind after cancellation")
	}

	state, ok := f.orch.ItemState("top")
	require.True(t, ok)
	assert.Equal(t, types.StateCancelled, state)
}
