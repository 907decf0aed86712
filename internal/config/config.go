// Package config loads Kestrel configuration from defaults, an optional
// YAML file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Environment variables read outside the koanf tree.
const (
	EnvPrefix = "KESTREL_"
	EnvTier   = "KESTREL_TIER"
	EnvFile   = "KESTREL_CONFIG"
	EnvDebug  = "KESTREL_DEBUG"

	DefaultFile = "kestrel.yaml"
)

// Load builds the configuration. Later sources override earlier ones:
// tier defaults, then the YAML file at path (skipped if missing), then
// KESTREL_* variables where a double underscore separates sections,
// e.g. KESTREL_CACHE__REDIS_ADDR.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if domain.Tier(os.Getenv(EnvTier)) == domain.TierPro {
		defaults = domain.ProConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}

	return &cfg, nil
}

// Path returns the config file location from KESTREL_CONFIG or the default.
func Path() string {
	if p := os.Getenv(EnvFile); p != "" {
		return p
	}
	return DefaultFile
}

// envKey maps KESTREL_EVENT_BUS__NATS_URL to event_bus.nats_url.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
