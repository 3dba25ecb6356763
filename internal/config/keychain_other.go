//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "mealkit", "secrets.json")
}

// secrets is the on-disk layout of the secrets file: service → account → value.
type secrets map[string]map[string]string

func readSecrets() (secrets, error) {
	var sec secrets
	if err := readJSONFile(secretsFilePath(), &sec); err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if sec == nil {
		sec = secrets{}
	}
	return sec, nil
}

func keychainGet(service, account string) ([]byte, error) {
	sec, err := readSecrets()
	if err != nil {
		return nil, fmt.Errorf("keychain not available: %w", err)
	}
	svc, ok := sec[service]
	if !ok {
		return nil, fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return nil, fmt.Errorf("account %q not found in service %q", account, service)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	sec, err := readSecrets()
	if err != nil {
		return err
	}
	if sec[service] == nil {
		sec[service] = map[string]string{}
	}
	sec[service][account] = value
	return writeJSONFile(secretsFilePath(), sec, 0o600)
}

func keychainDelete(service, account string) error {
	sec, err := readSecrets()
	if err != nil {
		return err
	}
	svc, ok := sec[service]
	if !ok {
		return nil
	}
	if _, ok := svc[account]; !ok {
		return nil
	}
	delete(svc, account)
	return writeJSONFile(secretsFilePath(), sec, 0o600)
}
