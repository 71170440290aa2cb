package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// refreshWindow is how close to expiry a credential may get before it is
// refreshed proactively.
const refreshWindow = 2 * time.Minute

// RefreshCredential refreshes the stored credential through the provider's
// token endpoint when it is about to expire, and persists the result. It
// reports whether a refresh happened. Credentials without an expiry (GitHub
// device tokens) are returned as-is.
func (s *Service) RefreshCredential(ctx context.Context, oauthCfg oauth2.Config) (Credential, bool, error) {
	cred, ok, err := s.store.Get()
	if err != nil || !ok {
		return cred, false, err
	}
	if cred.Expiry.IsZero() || time.Until(cred.Expiry) > refreshWindow {
		return cred, false, nil
	}
	if cred.RefreshToken == "" {
		return cred, false, fmt.Errorf("%w: credential expired and no refresh token available", ErrUnauthorized)
	}

	source := oauthCfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	})
	token, err := source.Token()
	if err != nil {
		return cred, false, fmt.Errorf("%w: refreshing credential: %w", ErrUnauthorized, err)
	}

	refreshed := credentialFromToken(token)
	refreshed.Scope = cred.Scope
	if refreshed.IDToken == "" {
		refreshed.IDToken = cred.IDToken
	}
	if err := s.store.Set(refreshed); err != nil {
		return refreshed, true, err
	}
	return refreshed, true, nil
}

// ResolveClientSecret picks the client secret from an inline value, an
// environment variable name, or a file path, in that order of precedence.
func ResolveClientSecret(secret, secretEnv, secretFile string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if secretEnv != "" {
		value := strings.TrimSpace(os.Getenv(secretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", secretEnv)
		}
		return value, nil
	}
	if secretFile != "" {
		content, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("reading client secret file: %w", err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return "", nil
}
