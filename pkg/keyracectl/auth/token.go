package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credential is the secret obtained after a successful authorization.
// GitHub device tokens carry only AccessToken and Scope; OIDC providers may
// additionally fill TokenType, RefreshToken, Expiry and IDToken.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// Valid reports whether the credential holds an access token.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// TokenStore is a durable single-slot credential holder. Get never touches
// the network. Implementations are safe for concurrent use; failures wrap
// ErrStorageUnavailable.
type TokenStore interface {
	Get() (Credential, bool, error)
	Set(Credential) error
	Clear() error
}

// Token storage backends.
const (
	StorageKeychain = "keychain"
	StorageFile     = "file"
)

// NewTokenStore builds a store for the given backend name. An empty name
// selects the keychain.
func NewTokenStore(backend, service, account, filePath string) (TokenStore, error) {
	switch backend {
	case "", StorageKeychain:
		return NewKeychainStore(service, account), nil
	case StorageFile:
		return NewFileStore(filePath), nil
	default:
		return nil, fmt.Errorf("unsupported token storage backend: %s", backend)
	}
}

// FileStore keeps the credential as a JSON file with owner-only permissions.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get() (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	var cred Credential
	if err := json.Unmarshal(content, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("%w: parsing token file: %w", ErrStorageUnavailable, err)
	}
	return cred, cred.Valid(), nil
}

func (s *FileStore) Set(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating token dir: %w", ErrStorageUnavailable, err)
	}
	content, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling token: %w", ErrStorageUnavailable, err)
	}
	// Write-then-rename so readers never observe a partial credential.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
