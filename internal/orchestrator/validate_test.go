package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/types"
)

func TestValidateDecomposition(t *testing.T) {
	parent := types.WorkItem{ID: "parent"}

	tests := []struct {
		name     string
		children []types.WorkItem
		wantErr  bool
	}{
		{
			name: "disjoint children accepted",
			children: []types.WorkItem{
				{ID: "c1", Description: "build api", TaskType: "implement-api", Resource: "src/api.go"},
				{ID: "c2", Description: "build ui", TaskType: "implement-ui", Resource: "src/ui.go"},
			},
		},
		{
			name:    "no children",
			wantErr: true,
		},
		{
			name: "missing description",
			children: []types.WorkItem{
				{ID: "c1", Description: "  ", TaskType: "implement-api"},
			},
			wantErr: true,
		},
		{
			name: "missing task type",
			children: []types.WorkItem{
				{ID: "c1", Description: "build api"},
			},
			wantErr: true,
		},
		{
			name: "duplicate task type",
			children: []types.WorkItem{
				{ID: "c1", Description: "build api", TaskType: "implement-api"},
				{ID: "c2", Description: "build more api", TaskType: "implement-api"},
			},
			wantErr: true,
		},
		{
			name: "same resource different spelling",
			children: []types.WorkItem{
				{ID: "c1", Description: "edit handler", TaskType: "implement-api", Resource: "src/API.go"},
				{ID: "c2", Description: "edit handler again", TaskType: "write-tests", Resource: "./src/api.go"},
			},
			wantErr: true,
		},
		{
			name: "empty resources never collide",
			children: []types.WorkItem{
				{ID: "c1", Description: "research", TaskType: "research"},
				{ID: "c2", Description: "summarize", TaskType: "summarize"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDecomposition(parent, tt.children)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecompositionContract)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeResource(t *testing.T) {
	assert.Equal(t, normalizeResource("src/API.go"), normalizeResource("./src/api.go"))
	assert.Equal(t, normalizeResource("a/b/../b/c"), normalizeResource("a/b/c"))
	assert.NotEqual(t, normalizeResource("a/b"), normalizeResource("a/c"))
}
