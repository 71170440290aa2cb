package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// slowDownIncrement is the fixed amount added to the poll interval on a
	// slow_down response, per RFC 8628 section 3.5.
	slowDownIncrement = 5 * time.Second

	defaultPollInterval       = 5 * time.Second
	defaultSessionLifetime    = 15 * time.Minute
	defaultMaxTransportErrors = 5
)

// Endpoints are the authorization server URLs the device flow talks to.
// They are configured directly for GitHub-style providers or resolved via
// OIDC discovery.
type Endpoints struct {
	DeviceAuthURL string
	TokenURL      string
	ProfileURL    string
}

// PollStatus classifies one result of the token polling sequence.
type PollStatus int

const (
	// PollPending means the user has not acted yet; polling continues.
	PollPending PollStatus = iota
	// PollAuthorized carries the granted credential; the sequence ends.
	PollAuthorized
	// PollDenied means the user rejected the request; the sequence ends.
	PollDenied
	// PollExpired means the session outlived its lifetime; the sequence ends.
	PollExpired
	// PollTransportError reports a failed poll request. The sequence
	// continues unless Terminal is set.
	PollTransportError
)

// PollResult is one element of the polling sequence. Terminal marks the
// final element; the channel closes right after it.
type PollResult struct {
	Status     PollStatus
	Credential Credential
	Err        error
	Terminal   bool
}

// DeviceClient implements the device authorization grant against one
// authorization server. It is stateless across attempts and safe for
// concurrent use.
type DeviceClient struct {
	endpoints          Endpoints
	http               *http.Client
	maxTransportErrors int

	// overridable in tests
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

type DeviceOption func(*DeviceClient)

func WithHTTPClient(client *http.Client) DeviceOption {
	return func(c *DeviceClient) {
		c.http = client
	}
}

// WithMaxTransportErrors bounds how many consecutive failed polls are
// absorbed before the sequence ends with a terminal transport error.
func WithMaxTransportErrors(n int) DeviceOption {
	return func(c *DeviceClient) {
		c.maxTransportErrors = n
	}
}

func NewDeviceClient(endpoints Endpoints, opts ...DeviceOption) *DeviceClient {
	c := &DeviceClient{
		endpoints:          endpoints,
		http:               &http.Client{Timeout: 30 * time.Second},
		maxTransportErrors: defaultMaxTransportErrors,
		now:                time.Now,
		sleep:              sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// RequestDeviceCode starts a new device authorization session. Any failure
// here happens before the user sees a code, so it is reported as
// ErrNetworkUnavailable rather than an authorization failure.
func (c *DeviceClient) RequestDeviceCode(ctx context.Context, clientID, scope string) (*DeviceSession, error) {
	if c.endpoints.DeviceAuthURL == "" {
		return nil, fmt.Errorf("device authorization endpoint not configured")
	}
	values := url.Values{}
	values.Set("client_id", clientID)
	if scope != "" {
		values.Set("scope", scope)
	}

	var payload deviceCodeResponse
	if err := c.postForm(ctx, c.endpoints.DeviceAuthURL, values, &payload); err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	if payload.DeviceCode == "" || payload.UserCode == "" || payload.VerificationURI == "" {
		return nil, fmt.Errorf("%w: device code response missing required fields", ErrNetworkUnavailable)
	}

	session := &DeviceSession{
		UserCode:        payload.UserCode,
		VerificationURI: payload.VerificationURI,
		ExpiresIn:       time.Duration(payload.ExpiresIn) * time.Second,
		Interval:        time.Duration(payload.Interval) * time.Second,
		deviceCode:      payload.DeviceCode,
		clientID:        clientID,
		startedAt:       c.now(),
		state:           SessionPending,
	}
	if session.Interval <= 0 {
		session.Interval = defaultPollInterval
	}
	if session.ExpiresIn <= 0 {
		session.ExpiresIn = defaultSessionLifetime
	}
	return session, nil
}

// Poll consumes the session by polling the token endpoint at the
// server-dictated interval. Results arrive on the returned channel in
// request order; the channel closes after the terminal result, or without
// one if ctx is cancelled first. A session that already reached a terminal
// state cannot be polled again.
func (c *DeviceClient) Poll(ctx context.Context, session *DeviceSession) (<-chan PollResult, error) {
	if state := session.State(); state != SessionPending {
		return nil, fmt.Errorf("device session already %s", state)
	}
	results := make(chan PollResult)
	go c.pollLoop(ctx, session, results)
	return results, nil
}

func (c *DeviceClient) pollLoop(ctx context.Context, session *DeviceSession, results chan<- PollResult) {
	defer close(results)

	emit := func(r PollResult) bool {
		select {
		case results <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	interval := session.Interval
	deadline := session.startedAt.Add(session.ExpiresIn)
	consecutiveErrs := 0

	for {
		if err := c.sleep(ctx, interval); err != nil {
			session.finish(SessionFailed)
			return
		}
		if c.now().After(deadline) {
			session.finish(SessionExpired)
			emit(PollResult{Status: PollExpired, Err: ErrSessionExpired, Terminal: true})
			return
		}

		cred, outcome, err := c.requestToken(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				session.finish(SessionFailed)
				return
			}
			consecutiveErrs++
			if consecutiveErrs >= c.maxTransportErrors {
				session.finish(SessionFailed)
				emit(PollResult{
					Status:   PollTransportError,
					Err:      fmt.Errorf("%w: %d consecutive poll failures: %w", ErrNetworkUnavailable, consecutiveErrs, err),
					Terminal: true,
				})
				return
			}
			if !emit(PollResult{Status: PollTransportError, Err: err}) {
				session.finish(SessionFailed)
				return
			}
			continue
		}
		consecutiveErrs = 0

		switch outcome {
		case outcomeAuthorized:
			session.finish(SessionAuthorized)
			emit(PollResult{Status: PollAuthorized, Credential: cred, Terminal: true})
			return
		case outcomePending:
			if !emit(PollResult{Status: PollPending}) {
				session.finish(SessionFailed)
				return
			}
		case outcomeSlowDown:
			// The interval only ever grows within a session.
			interval += slowDownIncrement
			if !emit(PollResult{Status: PollPending}) {
				session.finish(SessionFailed)
				return
			}
		case outcomeDenied:
			session.finish(SessionDenied)
			emit(PollResult{Status: PollDenied, Err: ErrDenied, Terminal: true})
			return
		case outcomeExpired:
			session.finish(SessionExpired)
			emit(PollResult{Status: PollExpired, Err: ErrSessionExpired, Terminal: true})
			return
		}
	}
}

type tokenOutcome int

const (
	outcomeAuthorized tokenOutcome = iota
	outcomePending
	outcomeSlowDown
	outcomeDenied
	outcomeExpired
)

func (c *DeviceClient) requestToken(ctx context.Context, session *DeviceSession) (Credential, tokenOutcome, error) {
	values := url.Values{}
	values.Set("grant_type", deviceGrantType)
	values.Set("device_code", session.deviceCode)
	values.Set("client_id", session.clientID)

	var payload tokenResponse
	if err := c.postForm(ctx, c.endpoints.TokenURL, values, &payload); err != nil {
		return Credential{}, 0, err
	}

	switch payload.Error {
	case "":
	case "authorization_pending":
		return Credential{}, outcomePending, nil
	case "slow_down":
		return Credential{}, outcomeSlowDown, nil
	case "access_denied":
		return Credential{}, outcomeDenied, nil
	case "expired_token":
		return Credential{}, outcomeExpired, nil
	default:
		return Credential{}, 0, fmt.Errorf("token endpoint error: %s", payload.Error)
	}

	if payload.AccessToken == "" {
		return Credential{}, 0, fmt.Errorf("%w: token response missing access token", ErrNetworkUnavailable)
	}
	cred := Credential{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
	}
	if payload.ExpiresIn > 0 {
		cred.Expiry = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return cred, outcomeAuthorized, nil
}

func (c *DeviceClient) postForm(ctx context.Context, endpoint string, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// GitHub answers with a query string unless JSON is requested explicitly.
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server returned %s", ErrNetworkUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrNetworkUnavailable, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
