package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeychainStore keeps the credential in the OS keychain (macOS Keychain,
// Windows Credential Manager, or the freedesktop Secret Service). The
// credential is stored as a JSON blob under one service/account pair.
type KeychainStore struct {
	mu      sync.Mutex
	service string
	account string
}

func NewKeychainStore(service, account string) *KeychainStore {
	return &KeychainStore{service: service, account: account}
}

func (s *KeychainStore) Get() (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := keyring.Get(s.service, s.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return Credential{}, false, fmt.Errorf("%w: parsing keychain entry: %w", ErrStorageUnavailable, err)
	}
	return cred, cred.Valid(), nil
}

func (s *KeychainStore) Set(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("%w: marshaling credential: %w", ErrStorageUnavailable, err)
	}
	if err := keyring.Set(s.service, s.account, string(secret)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *KeychainStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, s.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
