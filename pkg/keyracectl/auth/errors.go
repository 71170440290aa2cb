package auth

import "errors"

// Sentinel errors for the identity core. Callers classify failures with
// errors.Is; an empty value is never used to signal an error.
var (
	// ErrNetworkUnavailable means a request never reached, or was not
	// understood by, the authorization server. Retryable by starting a new
	// login attempt.
	ErrNetworkUnavailable = errors.New("authorization server unreachable")

	// ErrDenied means the user explicitly rejected the authorization request.
	ErrDenied = errors.New("authorization denied by user")

	// ErrSessionExpired means the user did not complete authorization before
	// the device session expired.
	ErrSessionExpired = errors.New("device authorization session expired")

	// ErrStorageUnavailable means the local credential store could not be
	// read or written.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrUnauthorized means a previously valid credential was rejected by the
	// server, for example after the user revoked the grant. The stored
	// credential is invalidated and the next login starts from scratch.
	ErrUnauthorized = errors.New("credential rejected by server")
)
