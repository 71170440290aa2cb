package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the identity service's login state. The failure states are all
// recoverable: the next Login starts over from scratch.
type State int

const (
	StateLoggedOut State = iota
	StateAwaitingUserAction
	StatePollingForAuthorization
	StateLoggedIn
	StateLoginFailed
	StateAuthorizationDenied
	StateAuthorizationExpired
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged-out"
	case StateAwaitingUserAction:
		return "awaiting-user-action"
	case StatePollingForAuthorization:
		return "polling-for-authorization"
	case StateLoggedIn:
		return "logged-in"
	case StateLoginFailed:
		return "login-failed"
	case StateAuthorizationDenied:
		return "authorization-denied"
	case StateAuthorizationExpired:
		return "authorization-expired"
	default:
		return "unknown"
	}
}

// Service orchestrates login attempts: it consults the token store, runs the
// device flow when needed, persists the credential, and resolves the
// username. At most one attempt is active per service; starting a new one
// cancels its predecessor before any of the new attempt's work begins, and
// a superseded attempt never fires another callback.
//
// The service is the only writer of its TokenStore.
type Service struct {
	device  *DeviceClient
	store   TokenStore
	profile *ProfileClient
	log     *zap.Logger

	mu         sync.Mutex
	state      State
	username   string
	generation uint64
	cancel     context.CancelFunc
}

type ServiceOption func(*Service)

func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

func NewService(device *DeviceClient, store TokenStore, profile *ProfileClient, opts ...ServiceOption) *Service {
	s := &Service{
		device:  device,
		store:   store,
		profile: profile,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login starts a login attempt and returns immediately; all network work
// runs on its own goroutine. onUserCode fires when the user must enter a
// code, strictly before onComplete. onComplete fires exactly once per
// attempt: nil on success, otherwise an error matching the package's
// sentinel taxonomy. If a previous attempt is still in flight it is
// cancelled and its callbacks never fire again.
func (s *Service) Login(ctx context.Context, clientID, scope string, onUserCode func(userCode, verificationURI string), onComplete func(error)) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	gen := s.generation
	attemptCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.runLogin(attemptCtx, gen, clientID, scope, onUserCode, onComplete)
}

func (s *Service) runLogin(ctx context.Context, gen uint64, clientID, scope string, onUserCode func(string, string), onComplete func(error)) {
	log := s.log.With(zap.String("attempt_id", uuid.NewString()))

	_, ok, err := s.store.Get()
	if err != nil {
		log.Error("reading credential store failed", zap.Error(err))
		s.finishAttempt(gen, StateLoginFailed, err, onComplete)
		return
	}

	if ok {
		s.mu.Lock()
		known := s.username != ""
		s.mu.Unlock()
		if known {
			// Idempotent fast path: nothing to do, no network.
			s.finishAttempt(gen, StateLoggedIn, nil, onComplete)
			return
		}
		err := s.RefreshIdentity(ctx)
		switch {
		case err == nil:
			s.finishAttempt(gen, StateLoggedIn, nil, onComplete)
		case errors.Is(err, ErrUnauthorized):
			log.Warn("stored credential revoked, cleared")
			s.finishAttempt(gen, StateAuthorizationExpired, err, onComplete)
		default:
			s.finishAttempt(gen, StateLoginFailed, err, onComplete)
		}
		return
	}

	session, err := s.device.RequestDeviceCode(ctx, clientID, scope)
	if err != nil {
		log.Warn("device code request failed", zap.Error(err))
		s.finishAttempt(gen, StateLoginFailed, err, onComplete)
		return
	}
	log.Info("device authorization started",
		zap.String("verification_uri", session.VerificationURI),
		zap.Duration("expires_in", session.ExpiresIn))

	if !s.advance(gen, StateAwaitingUserAction) {
		return
	}
	if onUserCode != nil {
		onUserCode(session.UserCode, session.VerificationURI)
	}
	if !s.advance(gen, StatePollingForAuthorization) {
		return
	}

	results, err := s.device.Poll(ctx, session)
	if err != nil {
		s.finishAttempt(gen, StateLoginFailed, err, onComplete)
		return
	}
	for result := range results {
		switch result.Status {
		case PollPending:
			log.Debug("authorization pending")
		case PollTransportError:
			if result.Terminal {
				log.Warn("polling aborted", zap.Error(result.Err))
				s.finishAttempt(gen, StateLoginFailed, result.Err, onComplete)
				return
			}
			log.Debug("transient poll failure", zap.Error(result.Err))
		case PollAuthorized:
			if err := s.store.Set(result.Credential); err != nil {
				log.Error("persisting credential failed", zap.Error(err))
				s.finishAttempt(gen, StateLoginFailed, err, onComplete)
				return
			}
			if err := s.RefreshIdentity(ctx); err != nil {
				// The grant itself succeeded; the username stays unknown
				// until the next refresh.
				log.Warn("username resolution failed", zap.Error(err))
			}
			log.Info("login complete")
			s.finishAttempt(gen, StateLoggedIn, nil, onComplete)
			return
		case PollDenied:
			log.Info("authorization denied by user")
			s.finishAttempt(gen, StateAuthorizationDenied, result.Err, onComplete)
			return
		case PollExpired:
			log.Info("device session expired")
			s.finishAttempt(gen, StateAuthorizationExpired, result.Err, onComplete)
			return
		}
	}
	// Sequence torn down without a terminal result: this attempt was
	// superseded or its context cancelled. No callback fires.
}

// advance moves the state machine if this attempt is still the current one.
func (s *Service) advance(gen uint64, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.state = state
	return true
}

// finishAttempt records the terminal state and invokes onComplete exactly
// once, unless the attempt has been superseded in the meantime.
func (s *Service) finishAttempt(gen uint64, state State, err error, onComplete func(error)) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if onComplete != nil {
		onComplete(err)
	}
}

// AdoptCredential persists a credential obtained outside the device flow
// (the browser-based grant) and resolves its username. The service stays
// the only writer of the token store.
func (s *Service) AdoptCredential(ctx context.Context, cred Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("credential has no access token")
	}
	if err := s.store.Set(cred); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = StateLoggedIn
	s.mu.Unlock()
	if err := s.RefreshIdentity(ctx); err != nil {
		s.log.Warn("username resolution failed", zap.Error(err))
	}
	return nil
}

// RefreshIdentity resolves the username for the stored credential. When the
// server rejects the credential the store is cleared so the next Login runs
// a fresh device flow, and ErrUnauthorized is returned.
func (s *Service) RefreshIdentity(ctx context.Context) error {
	cred, ok, err := s.store.Get()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no stored credential", ErrUnauthorized)
	}

	username, err := s.profile.Username(ctx, cred)
	if errors.Is(err, ErrUnauthorized) {
		if clearErr := s.store.Clear(); clearErr != nil {
			s.log.Error("clearing revoked credential failed", zap.Error(clearErr))
		}
		s.mu.Lock()
		s.username = ""
		s.state = StateAuthorizationExpired
		s.mu.Unlock()
		return err
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
	return nil
}

// CurrentUsername returns the resolved username, if any. A username only
// exists while a credential does.
func (s *Service) CurrentUsername() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.username != ""
}

// State returns the current login state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Logout cancels any in-flight attempt and clears the stored credential.
func (s *Service) Logout() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.username = ""
	s.state = StateLoggedOut
	s.mu.Unlock()

	return s.store.Clear()
}
