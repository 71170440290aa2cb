package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

type oidcDiscovery struct {
	TokenEndpoint               string `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	UserinfoEndpoint            string `json:"userinfo_endpoint"`
}

// DiscoverEndpoints resolves the device-flow endpoints from an OIDC
// authority's discovery document. GitHub-style providers configure their
// endpoints directly and skip this.
func DiscoverEndpoints(ctx context.Context, client *http.Client, authority string) (Endpoints, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	wellKnown := strings.TrimRight(authority, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return Endpoints{}, fmt.Errorf("%w: discovery returned %s", ErrNetworkUnavailable, resp.Status)
	}
	var discovery oidcDiscovery
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return Endpoints{}, fmt.Errorf("%w: decoding discovery document: %w", ErrNetworkUnavailable, err)
	}
	if discovery.DeviceAuthorizationEndpoint == "" {
		return Endpoints{}, errors.New("device authorization endpoint not advertised")
	}
	if discovery.TokenEndpoint == "" {
		return Endpoints{}, errors.New("token endpoint not advertised")
	}
	return Endpoints{
		DeviceAuthURL: discovery.DeviceAuthorizationEndpoint,
		TokenURL:      discovery.TokenEndpoint,
		ProfileURL:    discovery.UserinfoEndpoint,
	}, nil
}

// BrowserLoginConfig configures the authorization-code grant with PKCE for
// OIDC providers, used when a browser is at hand and the device grant is
// not wanted.
type BrowserLoginConfig struct {
	Authority    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client
}

// BrowserLogin runs the authorization-code grant: it opens the provider's
// consent page in the browser and captures the code on a loopback listener.
func BrowserLogin(ctx context.Context, cfg BrowserLoginConfig) (Credential, error) {
	if cfg.Authority == "" || cfg.ClientID == "" {
		return Credential{}, errors.New("authority and client id are required")
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.Authority)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: discovering provider: %w", ErrNetworkUnavailable, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return Credential{}, err
	}
	state, err := randomToken(24)
	if err != nil {
		return Credential{}, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Credential{}, fmt.Errorf("starting callback listener: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	oauthCfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  fmt.Sprintf("http://%s/callback", listener.Addr().String()),
		Scopes:       scopes,
	}
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	credCh := make(chan Credential, 1)
	errCh := make(chan error, 1)
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			if r.URL.Query().Get("state") != state {
				errCh <- errors.New("invalid state in callback")
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				errCh <- errors.New("missing code in callback")
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			token, err := oauthCfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
			if err != nil {
				errCh <- fmt.Errorf("token exchange failed: %w", err)
				http.Error(w, "token exchange failed", http.StatusInternalServerError)
				return
			}
			_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
			credCh <- credentialFromToken(token)
		}),
	}
	go func() {
		_ = server.Serve(listener)
	}()

	_, _ = fmt.Fprintf(os.Stdout, "Open the following URL in your browser:\n%s\n", authURL)
	_ = OpenBrowser(authURL)

	select {
	case <-ctx.Done():
		_ = server.Close()
		return Credential{}, ctx.Err()
	case err := <-errCh:
		_ = server.Close()
		return Credential{}, err
	case cred := <-credCh:
		_ = server.Close()
		return cred, nil
	}
}

func credentialFromToken(token *oauth2.Token) Credential {
	cred := Credential{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		cred.IDToken = idToken
	}
	return cred
}

func newPKCEPair() (string, string, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// OpenBrowser opens url with the platform's default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
