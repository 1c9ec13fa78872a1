package types

import "errors"

// Error taxonomy for the delegation core. Dispatch-local and
// audit-local failures are converted into failed TaskResults or
// failing AuditRecords inside their owning component; only
// ErrRetryBudgetExhausted and ErrTierDepthExceeded escalate to the
// parent coordinator.
var (
	// ErrUnknownWorker is returned when a dispatch names a worker the
	// protocol has no registration for.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrDispatchTimeout marks a dispatch that lost the race against
	// its timeout.
	ErrDispatchTimeout = errors.New("dispatch timeout")

	// ErrCircuitOpen marks a worker currently excluded by its circuit
	// breaker.
	ErrCircuitOpen = errors.New("worker circuit open")

	// ErrAuthenticityFailure marks an artifact rejected by the
	// authenticity audit stage.
	ErrAuthenticityFailure = errors.New("authenticity check failed")

	// ErrExecutionFailure marks an artifact whose verification suite
	// did not complete successfully.
	ErrExecutionFailure = errors.New("execution verification failed")

	// ErrQualityFailure marks output below the configured quality
	// threshold.
	ErrQualityFailure = errors.New("quality scan failed")

	// ErrTierDepthExceeded is returned when delegation would nest more
	// than one intermediate coordinator tier.
	ErrTierDepthExceeded = errors.New("tier depth exceeded")

	// ErrRetryBudgetExhausted is returned when an audit stage uses up
	// its retry budget - escalating to the parent coordinator.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted - escalating to coordinator")
)
