package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can
// classify failures without depending on adapter internals.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Admission control. Malformed orders are rejected before policy
	// evaluation and carry a distinct category from policy rejections.
	ErrMalformedOrder = errors.New("order failed structural validation")
	ErrOrderRejected  = errors.New("order rejected by safety policy")

	// Infrastructure. Any uncertainty about risk-state validity fails
	// closed: the order is rejected, never silently admitted.
	ErrStateUnavailable     = errors.New("risk state store unreadable or unwritable")
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrPositionNotFound     = errors.New("position not found at the broker")

	// Persistence
	ErrDuplicateEntry = errors.New("record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
