package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastClock replaces the client's sleep with an instant fake that advances
// a synthetic clock, so poll tests run without real delays.
type fastClock struct {
	base    time.Time
	elapsed time.Duration
	sleeps  []time.Duration
}

func (f *fastClock) install(c *DeviceClient) {
	f.base = time.Now()
	c.now = func() time.Time { return f.base.Add(f.elapsed) }
	c.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		f.elapsed += d
		return nil
	}
}

func deviceServer(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "secret-device-code",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		})
	})
	mux.HandleFunc("/login/oauth/access_token", tokenHandler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server, opts ...DeviceOption) *DeviceClient {
	return NewDeviceClient(Endpoints{
		DeviceAuthURL: server.URL + "/login/device/code",
		TokenURL:      server.URL + "/login/oauth/access_token",
	}, opts...)
}

func TestRequestDeviceCode(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(server)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "read:user")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", session.UserCode)
	assert.Equal(t, "https://github.com/login/device", session.VerificationURI)
	assert.Equal(t, 15*time.Minute, session.ExpiresIn)
	assert.Equal(t, 5*time.Second, session.Interval)
	assert.Equal(t, SessionPending, session.State())
}

func TestRequestDeviceCode_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewDeviceClient(Endpoints{
		DeviceAuthURL: server.URL + "/device",
		TokenURL:      server.URL + "/token",
	})

	_, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestRequestDeviceCode_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"device_code": "only-this"})
	}))
	defer server.Close()
	client := NewDeviceClient(Endpoints{DeviceAuthURL: server.URL, TokenURL: server.URL})

	_, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func collectResults(t *testing.T, results <-chan PollResult) []PollResult {
	t.Helper()
	var all []PollResult
	deadline := time.After(10 * time.Second)
	for {
		select {
		case result, ok := <-results:
			if !ok {
				return all
			}
			all = append(all, result)
		case <-deadline:
			t.Fatal("poll sequence did not finish")
		}
	}
}

func TestPoll_PendingThenAuthorized(t *testing.T) {
	var calls int32
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "gho_token",
			"token_type":   "bearer",
			"scope":        "read:user",
		})
	})
	client := newTestClient(server)
	(&fastClock{}).install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "read:user")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.Len(t, all, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, PollPending, all[i].Status)
		assert.False(t, all[i].Terminal)
	}
	final := all[3]
	assert.Equal(t, PollAuthorized, final.Status)
	assert.True(t, final.Terminal)
	assert.Equal(t, "gho_token", final.Credential.AccessToken)
	assert.Equal(t, "read:user", final.Credential.Scope)
	assert.Equal(t, SessionAuthorized, session.State())
}

func TestPoll_Expires(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	})
	client := newTestClient(server)
	clock := &fastClock{}
	clock.install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)
	session.ExpiresIn = 12 * time.Second // three ticks at the 5s interval

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.NotEmpty(t, all)
	for _, result := range all[:len(all)-1] {
		assert.Equal(t, PollPending, result.Status)
	}
	final := all[len(all)-1]
	assert.Equal(t, PollExpired, final.Status)
	assert.True(t, final.Terminal)
	assert.ErrorIs(t, final.Err, ErrSessionExpired)
	assert.Equal(t, SessionExpired, session.State())
}

func TestPoll_SlowDownBackoff(t *testing.T) {
	var calls int32
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "slow_down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_token"})
	})
	client := newTestClient(server)
	clock := &fastClock{}
	clock.install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.Len(t, all, 4)
	assert.Equal(t, PollAuthorized, all[3].Status)

	require.Len(t, clock.sleeps, 4)
	for i := 1; i < len(clock.sleeps); i++ {
		assert.GreaterOrEqual(t, clock.sleeps[i], clock.sleeps[i-1], "poll interval must never shrink")
	}
	assert.Equal(t, session.Interval+3*slowDownIncrement, clock.sleeps[3])
}

func TestPoll_Denied(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	})
	client := newTestClient(server)
	(&fastClock{}).install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.Len(t, all, 1)
	assert.Equal(t, PollDenied, all[0].Status)
	assert.True(t, all[0].Terminal)
	assert.ErrorIs(t, all[0].Err, ErrDenied)
	assert.Equal(t, SessionDenied, session.State())
}

func TestPoll_TransientTransportErrors(t *testing.T) {
	var calls int32
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_token"})
	})
	client := newTestClient(server)
	(&fastClock{}).install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.Len(t, all, 3)
	assert.Equal(t, PollTransportError, all[0].Status)
	assert.False(t, all[0].Terminal)
	assert.Equal(t, PollTransportError, all[1].Status)
	assert.Equal(t, PollAuthorized, all[2].Status)
	assert.Equal(t, SessionAuthorized, session.State())
}

func TestPoll_TransportErrorCap(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	})
	client := newTestClient(server, WithMaxTransportErrors(3))
	(&fastClock{}).install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	all := collectResults(t, results)

	require.Len(t, all, 3)
	assert.False(t, all[0].Terminal)
	assert.False(t, all[1].Terminal)
	assert.True(t, all[2].Terminal)
	assert.ErrorIs(t, all[2].Err, ErrNetworkUnavailable)
	assert.Equal(t, SessionFailed, session.State())
}

func TestPoll_FinishedSessionCannotRestart(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_token"})
	})
	client := newTestClient(server)
	(&fastClock{}).install(client)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)

	results, err := client.Poll(context.Background(), session)
	require.NoError(t, err)
	collectResults(t, results)
	require.Equal(t, SessionAuthorized, session.State())

	_, err = client.Poll(context.Background(), session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already authorized")
}

func TestPoll_ContextCancellation(t *testing.T) {
	server := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
	})
	client := newTestClient(server)

	session, err := client.RequestDeviceCode(context.Background(), "client-id", "")
	require.NoError(t, err)
	session.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	results, err := client.Poll(ctx, session)
	require.NoError(t, err)

	// Let at least one pending result through, then tear the session down.
	select {
	case <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("no poll result before cancellation")
	}
	cancel()

	for range results {
	}
	assert.Equal(t, SessionFailed, session.State())
}
