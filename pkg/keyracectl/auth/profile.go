package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ProfileClient resolves the account's public username from the provider's
// profile endpoint (GitHub's /user). Providers without a profile endpoint
// fall back to ID token claims.
type ProfileClient struct {
	url  string
	http *http.Client
}

func NewProfileClient(url string, client *http.Client) *ProfileClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProfileClient{url: url, http: client}
}

// Username fetches the username for the credential. A 401 or 403 answer
// means the credential was revoked and is reported as ErrUnauthorized.
func (p *ProfileClient) Username(ctx context.Context, cred Credential) (string, error) {
	if !cred.Valid() {
		return "", fmt.Errorf("%w: no credential", ErrUnauthorized)
	}
	if p.url == "" {
		return usernameFromIDToken(cred)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: profile lookup returned %s", ErrNetworkUnavailable, resp.Status)
	}

	var payload struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decoding profile: %w", ErrNetworkUnavailable, err)
	}
	if payload.Login == "" {
		return "", fmt.Errorf("%w: profile response missing login", ErrNetworkUnavailable)
	}
	return payload.Login, nil
}

// usernameFromIDToken extracts a display name from unverified ID token
// claims. The token was just received over TLS from the issuer; it is not
// used for authorization decisions here.
func usernameFromIDToken(cred Credential) (string, error) {
	if cred.IDToken == "" {
		return "", fmt.Errorf("%w: provider has no profile endpoint and credential has no id token", ErrUnauthorized)
	}
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(cred.IDToken, claims); err != nil {
		return "", fmt.Errorf("parsing id token: %w", err)
	}
	for _, key := range []string{"preferred_username", "email", "sub"} {
		if value, ok := claims[key].(string); ok && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("id token carries no usable identity claim")
}
