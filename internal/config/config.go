package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Backend   BackendConfig
	Calls     CallsConfig
	Assistant AssistantConfig
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Planner   PlannerConfig
}

// BackendConfig locates the hosted backend. Both fields are required.
type BackendConfig struct {
	BaseURL   string
	PublicKey string
}

type CallsConfig struct {
	DefaultTimeout string
}

type AssistantConfig struct {
	Function         string
	Timeout          string
	MaxMessageLength int
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type PlannerConfig struct {
	WeekStart string
}

func defaults() Config {
	return Config{
		Calls: CallsConfig{
			DefaultTimeout: "90s",
		},
		Assistant: AssistantConfig{
			Function:         "meal-assistant",
			Timeout:          "30s",
			MaxMessageLength: 10000,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Planner: PlannerConfig{
			WeekStart: "monday",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.mealkit.app) and the
// public key falls back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/mealkit/config.json
// and the fallback secret store is $XDG_DATA_HOME/mealkit/secrets.json.
//
// Environment variables (MEALKIT_*) override backend values on all platforms.
// A missing backend URL or public key is an error: the process must not start
// without them.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret-store reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Backend.PublicKey == "" {
		if key, err := kc.Get(keychainService, "public_key"); err == nil && key != "" {
			cfg.Backend.PublicKey = key
		}
	}

	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")

	var missing []string
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "backend base URL (MEALKIT_BACKEND_URL)")
	}
	if cfg.Backend.PublicKey == "" {
		missing = append(missing, "backend public key (MEALKIT_PUBLIC_KEY"+publicKeyHint()+")")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// ParseDuration parses a duration config value, falling back to def when
// the value is empty or malformed.
func ParseDuration(value string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}
