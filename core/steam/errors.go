package steam

import "errors"

// Sentinel errors reported by the content delivery service. Callers classify
// failures with errors.Is; wrapped variants carry the underlying detail.
var (
	// ErrNotFound indicates an absent manifest, depot or decryption key.
	ErrNotFound = errors.New("steam: not found")

	// ErrTimeout indicates a bounded network wait was exceeded.
	ErrTimeout = errors.New("steam: request timed out")

	// ErrAuthRejected indicates a credential or token logon was refused.
	ErrAuthRejected = errors.New("steam: authentication rejected")

	// ErrMissingToken indicates a lookup was rejected for missing
	// entitlement and should be retried once with an access token.
	ErrMissingToken = errors.New("steam: access token required")

	// ErrProtocol indicates an unexpected response shape from the service.
	ErrProtocol = errors.New("steam: protocol error")
)
