package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverEndpoints(t *testing.T) {
	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token_endpoint":                serverURL + "/token",
			"device_authorization_endpoint": serverURL + "/device",
			"userinfo_endpoint":             serverURL + "/userinfo",
		})
	}))
	defer server.Close()
	serverURL = server.URL

	endpoints, err := DiscoverEndpoints(context.Background(), nil, server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/device", endpoints.DeviceAuthURL)
	assert.Equal(t, server.URL+"/token", endpoints.TokenURL)
	assert.Equal(t, server.URL+"/userinfo", endpoints.ProfileURL)
}

func TestDiscoverEndpoints_NoDeviceSupport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token_endpoint": "https://example.com/token"})
	}))
	defer server.Close()

	_, err := DiscoverEndpoints(context.Background(), nil, server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device authorization endpoint not advertised")
}

func TestDiscoverEndpoints_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := DiscoverEndpoints(context.Background(), nil, server.URL)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestBrowserLogin_RequiresConfig(t *testing.T) {
	_, err := BrowserLogin(context.Background(), BrowserLoginConfig{ClientID: "client-id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")

	_, err = BrowserLogin(context.Background(), BrowserLoginConfig{Authority: "https://example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestNewPKCEPair(t *testing.T) {
	verifier, challenge, err := newPKCEPair()
	require.NoError(t, err)
	assert.NotEmpty(t, verifier)
	assert.NotEmpty(t, challenge)
	assert.NotEqual(t, verifier, challenge)

	_, challenge2, err := newPKCEPair()
	require.NoError(t, err)
	assert.NotEqual(t, challenge, challenge2)
}
