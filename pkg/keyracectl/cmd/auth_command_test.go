package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrace/keyracectl/pkg/keyracectl/config"
)

func TestAuthCommandStructure(t *testing.T) {
	cmd := NewAuthCommand()
	assert.Equal(t, "auth", cmd.Use)

	subs := map[string]bool{}
	for _, sub := range cmd.Commands() {
		subs[sub.Use] = true
	}
	assert.True(t, subs["login"])
	assert.True(t, subs["status"])
	assert.True(t, subs["logout"])
}

// providerServer fakes a GitHub-style authorization server that approves
// the device grant on the first poll.
func providerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-123",
			"user_code":        "WDJB-MJHT",
			"verification_uri": "https://provider.example/activate",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-123", r.Form.Get("device_code"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "nat"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func providerConfig(t *testing.T, server *httptest.Server) string {
	t.Helper()
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Provider = config.Provider{
		Name:          "test",
		ClientID:      "test-client",
		GrantType:     config.GrantDeviceCode,
		DeviceAuthURL: server.URL + "/login/device/code",
		TokenURL:      server.URL + "/login/oauth/access_token",
		ProfileURL:    server.URL + "/user",
	}
	cfg.Settings.TokenStorage = "file"
	require.NoError(t, config.Save(path, &cfg))
	return path
}

func TestAuthLoginStatusLogout(t *testing.T) {
	// Keep token files inside the test sandbox.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KEYRACE_NO_BROWSER", "true")

	server := providerServer(t)
	path := providerConfig(t, server)

	buf, err := newTestRoot(t, path, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Not logged in")

	buf, err = newTestRoot(t, path, "auth", "login")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Visit https://provider.example/activate and enter code: WDJB-MJHT")
	assert.Contains(t, buf.String(), "Logged in as @nat")

	buf, err = newTestRoot(t, path, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Logged in as @nat")

	buf, err = newTestRoot(t, path, "auth", "logout")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Logged out")

	buf, err = newTestRoot(t, path, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Not logged in")
}

func TestAuthLogin_SecondLoginUsesStoredCredential(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KEYRACE_NO_BROWSER", "true")

	server := providerServer(t)
	path := providerConfig(t, server)

	_, err := newTestRoot(t, path, "auth", "login")
	require.NoError(t, err)

	buf, err := newTestRoot(t, path, "auth", "login")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "enter code")
	assert.Contains(t, buf.String(), "Logged in as @nat")
}
