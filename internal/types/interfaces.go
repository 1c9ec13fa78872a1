package types

import (
	"context"
	"time"
)

// CapabilityProvider is the external black box that performs the
// actual generation or execution for a dispatched work item. It may be
// a local function, a subprocess, or a remote call; the core never
// assumes which. Providers are leaves: further delegation is the
// orchestrator's responsibility, never the provider's.
type CapabilityProvider interface {
	Invoke(ctx context.Context, item WorkItem, contextSnapshot []ContextEntry) (TaskResult, error)
}

// Decomposer splits a work item into child work items. The shape
// contract (distinct task types, disjoint target resources) is
// enforced by the orchestrator, not the decomposer.
type Decomposer interface {
	Decompose(ctx context.Context, item WorkItem) ([]WorkItem, error)
}

// Executor runs an artifact and its verification suite in isolation
// for the execution audit stage. No shared filesystem or network with
// the caller by default.
type Executor interface {
	Run(ctx context.Context, artifactRef, verificationSuiteRef string, timeout time.Duration) (ExecutionReport, error)
}

// AuditRecorder appends audit records to a durable, append-only trail.
type AuditRecorder interface {
	AppendAuditRecord(rec AuditRecord) error
}

// EventSink consumes the envelope stream, e.g. a UI bridge or the
// durable event table. Envelope shape is stable; delivery semantics
// are the bus's.
type EventSink interface {
	Consume(env EventEnvelope)
}

// ProviderFunc adapts a plain function to CapabilityProvider.
type ProviderFunc func(ctx context.Context, item WorkItem, contextSnapshot []ContextEntry) (TaskResult, error)

// Invoke implements CapabilityProvider.
func (f ProviderFunc) Invoke(ctx context.Context, item WorkItem, snapshot []ContextEntry) (TaskResult, error) {
	return f(ctx, item, snapshot)
}

// DecomposerFunc adapts a plain function to Decomposer.
type DecomposerFunc func(ctx context.Context, item WorkItem) ([]WorkItem, error)

// Decompose implements Decomposer.
func (f DecomposerFunc) Decompose(ctx context.Context, item WorkItem) ([]WorkItem, error) {
	return f(ctx, item)
}
