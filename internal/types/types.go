// Package types defines the shared data model for the delegation core:
// work items, worker descriptors, task results, health records, audit
// records, and event envelopes. Cross-package interfaces live in
// interfaces.go so component packages depend on types, never on each other.
package types

import (
	"time"
)

// Tier identifies a level in the delegation hierarchy.
// At most three levels exist: the top coordinator, one intermediate
// coordinator tier, and workers.
type Tier string

const (
	TierTop          Tier = "/top"
	TierIntermediate Tier = "/intermediate"
	TierWorker       Tier = "/worker"
)

// WorkItemState represents a work item's position in the orchestration
// state machine.
type WorkItemState string

const (
	StateReceived    WorkItemState = "/received"
	StateDecomposed  WorkItemState = "/decomposed"
	StateDelegated   WorkItemState = "/delegated"
	StateAggregating WorkItemState = "/aggregating"
	StateDone        WorkItemState = "/done"
	StateEscalated   WorkItemState = "/escalated"
	StateCancelled   WorkItemState = "/cancelled"
)

// ResultStatus is the terminal status of a single dispatch attempt.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "/completed"
	ResultFailed    ResultStatus = "/failed"
)

// HealthState tracks a worker's dispatch health.
type HealthState string

const (
	HealthHealthy   HealthState = "/healthy"
	HealthDegraded  HealthState = "/degraded"
	HealthUnhealthy HealthState = "/unhealthy"
	HealthUnknown   HealthState = "/unknown"
)

// AuditStage identifies one of the three ordered audit pipeline stages.
type AuditStage string

const (
	StageAuthenticity AuditStage = "/authenticity"
	StageExecution    AuditStage = "/execution"
	StageQuality      AuditStage = "/quality"
)

// TaskPriority represents work item priority levels.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "/critical"
	PriorityHigh     TaskPriority = "/high"
	PriorityNormal   TaskPriority = "/normal"
	PriorityLow      TaskPriority = "/low"
)

// DispatchState is the lifecycle of a tracked dispatch (optional
// tracking mode only).
type DispatchState string

const (
	DispatchInProgress DispatchState = "/in_progress"
	DispatchCompleted  DispatchState = "/completed"
	DispatchFailed     DispatchState = "/failed"
)

// WorkItem is an immutable unit of work. Decomposition supersedes a
// parent with child WorkItems; the parent itself is never mutated.
type WorkItem struct {
	ID          string       `json:"id"`
	ParentID    string       `json:"parent_id,omitempty"`
	Description string       `json:"description"`
	TaskType    string       `json:"task_type,omitempty"`
	Tier        Tier         `json:"tier"`
	Priority    TaskPriority `json:"priority"`
	TimeoutMs   int          `json:"timeout_ms,omitempty"`

	// Resource is the file or resource this item targets. Children of
	// one decomposition must not share a resource.
	Resource string `json:"resource,omitempty"`

	// VerificationSuite references the suite the execution audit stage
	// runs produced artifacts against.
	VerificationSuite string `json:"verification_suite,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Timeout returns the item's dispatch timeout, falling back to the
// given default when unset.
func (w WorkItem) Timeout(fallback time.Duration) time.Duration {
	if w.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// ArtifactRef references an artifact produced by a dispatch. Only
// references travel through the core; payloads stay external.
type ArtifactRef struct {
	Type string `json:"type"` // /source_file, /test_file, /config, /doc
	Ref  string `json:"ref"`
	Hash string `json:"hash,omitempty"`
}

// TaskResult is produced exactly once per dispatch attempt.
type TaskResult struct {
	WorkItemID   string        `json:"work_item_id"`
	WorkerID     string        `json:"worker_id,omitempty"`
	Status       ResultStatus  `json:"status"`
	Output       string        `json:"output,omitempty"`
	Artifacts    []ArtifactRef `json:"artifacts,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Failed reports whether the attempt ended in failure.
func (r TaskResult) Failed() bool { return r.Status == ResultFailed }

// WorkerDescriptor describes one worker in the capability registry.
// Descriptors are static per deployment.
type WorkerDescriptor struct {
	ID        string   `json:"id"`
	Category  Tier     `json:"category"`
	Keywords  []string `json:"keywords,omitempty"`
	TaskTypes []string `json:"task_types,omitempty"`
}

// HealthStatus is mutated only by the coordination protocol, one
// update at a time per worker.
type HealthStatus struct {
	WorkerID            string      `json:"worker_id"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastCheckedAt       time.Time   `json:"last_checked_at"`
}

// AuditRecord is one append-only entry in the audit trail: one record
// per attempt per stage, never mutated after creation.
type AuditRecord struct {
	ID         string     `json:"id"`
	WorkItemID string     `json:"work_item_id"`
	Stage      AuditStage `json:"stage"`
	Attempt    int        `json:"attempt"`
	Passed     bool       `json:"passed"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DispatchRecord is the bookkeeping kept in optional tracking mode.
type DispatchRecord struct {
	WorkItemID string        `json:"work_item_id"`
	WorkerID   string        `json:"worker_id"`
	State      DispatchState `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitempty"`
}

// EventEnvelope is the immutable wire shape every bus event travels
// in. Envelopes are totally ordered per publisher by
// (Timestamp, SequenceNumber).
type EventEnvelope struct {
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber uint64    `json:"sequence_number"`
	Payload        any       `json:"payload,omitempty"`
}

// ContextEntry is one FIFO entry in a coordinator's bounded context
// window.
type ContextEntry struct {
	Key     string    `json:"key"`
	Data    string    `json:"data"`
	AddedAt time.Time `json:"added_at"`
}

// Size returns the entry's accounted size in bytes.
func (e ContextEntry) Size() int { return len(e.Key) + len(e.Data) }

// ExecutionReport is what the isolated executor returns for an
// artifact run.
type ExecutionReport struct {
	Passed bool   `json:"passed"`
	Logs   string `json:"logs,omitempty"`
}
