package model

import "errors"

// Error kinds surfaced by the oracle, calculator, and rebalancing machine.
// Callers match them with errors.Is; every failing call leaves persisted state untouched.
var (
	ErrMathOverflow            = errors.New("math overflow")
	ErrDistributionInvalid     = errors.New("distribution invalid")
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrOutOfOrderExecution     = errors.New("out of order execution")
	ErrAlreadyInProgress       = errors.New("rebalancing already in progress")
	ErrAuthorityMismatch       = errors.New("authority mismatch")
	ErrExternalOperationFailed = errors.New("external operation failed")

	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrDistributionStale  = errors.New("distribution is stale")
	ErrIncomeRefreshed    = errors.New("income refreshed too recently")
	ErrNotFound           = errors.New("not found")
)
