package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"hivecore/internal/types"
)

// ErrDecompositionContract marks a decomposition rejected before
// delegation: children must be mutually exclusive in responsibility
// and collectively cover the parent.
var ErrDecompositionContract = errors.New("decomposition violates contract")

// validateDecomposition enforces the shape contract on provider
// output. Children overlap when they share a normalized target
// resource or a task type; either rejects the whole decomposition.
func validateDecomposition(parent types.WorkItem, children []types.WorkItem) error {
	if len(children) == 0 {
		return fmt.Errorf("%w: no children produced for %s", ErrDecompositionContract, parent.ID)
	}

	seenTypes := make(map[string]string, len(children))
	seenResources := make(map[string]string, len(children))

	for _, child := range children {
		if strings.TrimSpace(child.Description) == "" {
			return fmt.Errorf("%w: child %s has no description", ErrDecompositionContract, child.ID)
		}
		if child.TaskType == "" {
			return fmt.Errorf("%w: child %s has no task type", ErrDecompositionContract, child.ID)
		}
		if prev, dup := seenTypes[child.TaskType]; dup {
			return fmt.Errorf("%w: children %s and %s share task type %q",
				ErrDecompositionContract, prev, child.ID, child.TaskType)
		}
		seenTypes[child.TaskType] = child.ID

		if child.Resource != "" {
			res := normalizeResource(child.Resource)
			if prev, dup := seenResources[res]; dup {
				return fmt.Errorf("%w: children %s and %s target the same resource %q",
					ErrDecompositionContract, prev, child.ID, res)
			}
			seenResources[res] = child.ID
		}
	}
	return nil
}

// normalizeResource cleans resource paths so lexically different
// spellings of the same target collide.
func normalizeResource(resource string) string {
	return strings.ToLower(filepath.ToSlash(filepath.Clean(resource)))
}
