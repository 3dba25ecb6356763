package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const keychainService = "mealkit"

// Keychain reads and writes secrets in the platform secret store: the macOS
// Keychain on darwin, a 0600 JSON file elsewhere.
type Keychain struct{}

func NewKeychain() Keychain { return Keychain{} }

func (Keychain) Get(service, account string) (string, error) {
	b, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func (Keychain) Delete(service, account string) error {
	return keychainDelete(service, account)
}

// SecretStore is the read/write subset of Keychain used by token helpers.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token guarding the local API, generating
// and storing a new one on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if tok, err := s.Get(keychainService, "api_token"); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := s.Set(keychainService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
