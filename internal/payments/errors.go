package payments

import "errors"

// Error taxonomy of the payment engine. Callers match with errors.Is.
var (
	// ErrInvalidState means a stage precondition is not met; not
	// retryable without an upstream state change.
	ErrInvalidState = errors.New("proposal state does not permit stage")

	// ErrDuplicateStage means a concurrent writer created the stage
	// first. Recovered locally by re-fetching; surfaced only when the
	// re-fetch itself fails.
	ErrDuplicateStage = errors.New("stage payment already exists")

	// ErrAmountMismatch means a non-pending record's stored amount
	// differs from the recomputed one. Surfaced to an operator, never
	// silently resolved.
	ErrAmountMismatch = errors.New("stored amount differs from recomputed amount")

	// ErrGatewayFailure means the external gateway rejected or failed
	// the order. The stage is marked failed and can be retried.
	ErrGatewayFailure = errors.New("payment gateway failure")

	// ErrAlreadyFinalized means a confirmation arrived for a record that
	// is already completed or failed. Logged, ignored by webhook callers.
	ErrAlreadyFinalized = errors.New("payment already finalized")
)
