package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/kalambet/mealkit/internal/calendar"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
	// check validates a value before `config set` stores it.
	check func(v string) error
}

func checkDuration(v string) error {
	_, err := ParseDuration(v, 0)
	return err
}

func checkWeekday(v string) error {
	_, err := calendar.ParseWeekday(v)
	return err
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		if slices.Contains(allowed, strings.ToLower(strings.TrimSpace(v))) {
			return nil
		}
		return fmt.Errorf("%q is not one of %s", v, strings.Join(allowed, ", "))
	}
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "MEALKIT_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.public_key", typ: kString, env: "MEALKIT_PUBLIC_KEY",
		apply:   func(cfg *Config, v any) { cfg.Backend.PublicKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.PublicKey },
	},
	{
		key: "calls.default_timeout", typ: kString, env: "MEALKIT_CALLS_DEFAULT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Calls.DefaultTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Calls.DefaultTimeout },
		check:   checkDuration,
	},
	{
		key: "assistant.function", typ: kString, env: "MEALKIT_ASSISTANT_FUNCTION",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Function = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Function },
	},
	{
		key: "assistant.timeout", typ: kString, env: "MEALKIT_ASSISTANT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Timeout },
		check:   checkDuration,
	},
	{
		key: "assistant.max_message_length", typ: kInt, env: "MEALKIT_ASSISTANT_MAX_MESSAGE_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Assistant.MaxMessageLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.MaxMessageLength },
	},
	{
		key: "server.port", typ: kInt, env: "MEALKIT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MEALKIT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MEALKIT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
		check:   oneOf("debug", "info", "warn", "warning", "error"),
	},
	{
		key: "log.format", typ: kString, env: "MEALKIT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
		check:   oneOf("text", "json"),
	},
	{
		key: "planner.week_start", typ: kString, env: "MEALKIT_PLANNER_WEEK_START",
		apply:   func(cfg *Config, v any) { cfg.Planner.WeekStart = v.(string) },
		extract: func(cfg Config) any { return cfg.Planner.WeekStart },
		check:   checkWeekday,
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			i, err := intValue(s.env, raw)
			if err != nil {
				slog.Warn("ignoring env override", "var", s.env, "value", raw, "error", err)
				continue
			}
			s.apply(cfg, i)
		}
	}
}
