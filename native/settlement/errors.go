package settlement

import "errors"

var (
	errNilState = errors.New("settlement engine: state not configured")

	// ErrInvalidAmount rejects zero or negative inputs.
	ErrInvalidAmount = errors.New("settlement engine: amount must be positive")
	// ErrInsufficientReserve signals that a payout would exceed the
	// net-available reserve.
	ErrInsufficientReserve = errors.New("settlement engine: insufficient reserve")
	// ErrActionBlockedByLevel signals that the current collateral-ratio tier
	// does not permit the operation.
	ErrActionBlockedByLevel = errors.New("settlement engine: action blocked at current level")
	// ErrOracleStale rejects price updates whose age exceeds the staleness
	// bound.
	ErrOracleStale = errors.New("settlement engine: oracle price stale")
	// ErrOracleStepTooLarge rejects price updates that move more than the
	// maximum relative step in a single observation.
	ErrOracleStepTooLarge = errors.New("settlement engine: oracle price step too large")
	// ErrTicketNotFound signals an unknown redemption ticket ID.
	ErrTicketNotFound = errors.New("settlement engine: redemption ticket not found")
	// ErrTicketExpired signals a claim against a ticket past its expiration.
	ErrTicketExpired = errors.New("settlement engine: redemption ticket expired")
	// ErrTicketNotYetExpired signals a reclaim attempt on a live ticket.
	ErrTicketNotYetExpired = errors.New("settlement engine: redemption ticket not yet expired")
)
