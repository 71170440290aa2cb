package auth

import (
	"sync"
	"time"
)

// SessionState tracks a device authorization session through its lifecycle.
// A session moves from SessionPending to exactly one terminal state and
// never leaves it.
type SessionState int

const (
	SessionPending SessionState = iota
	SessionAuthorized
	SessionDenied
	SessionExpired
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionAuthorized:
		return "authorized"
	case SessionDenied:
		return "denied"
	case SessionExpired:
		return "expired"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeviceSession is one device authorization attempt. It is created by
// RequestDeviceCode and owned by that attempt; a finished session cannot be
// polled again.
type DeviceSession struct {
	// UserCode is the short code the user enters at VerificationURI.
	UserCode string
	// VerificationURI is the URL the user visits to authorize the device.
	VerificationURI string
	// ExpiresIn is how long the server keeps this session alive.
	ExpiresIn time.Duration
	// Interval is the server-requested minimum delay between polls. It may
	// grow during the session when the server asks to slow down.
	Interval time.Duration

	// deviceCode is the polling secret. It is never shown to the user and
	// never logged.
	deviceCode string
	clientID   string
	startedAt  time.Time

	mu    sync.Mutex
	state SessionState
}

// State returns the current session state.
func (s *DeviceSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// finish moves the session into a terminal state. It reports false if the
// session already reached one, in which case the state is unchanged.
func (s *DeviceSession) finish(state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPending {
		return false
	}
	s.state = state
	return true
}
