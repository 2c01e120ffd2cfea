// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads reportcard configuration from defaults, files,
// environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (REPORTCARD_QDRANT_URL -> qdrant.url).
const EnvPrefix = "REPORTCARD_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// QdrantConfig points the record store at a Qdrant collection.
type QdrantConfig struct {
	URL        string `koanf:"url"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`
	Dimension  int    `koanf:"dimension"`
	PoolSize   int    `koanf:"pool_size"`
}

type EmbedderConfig struct {
	Provider string `koanf:"provider"` // openai, ollama, none
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	// MaxAttempts > 1 retries rate-limited or 5xx embedding calls.
	MaxAttempts int `koanf:"max_attempts"`
}

// StorageConfig selects the key-value backend used by the report store.
type StorageConfig struct {
	Driver string `koanf:"driver"` // file, sqlite, memory, none
	Path   string `koanf:"path"`
	Key    string `koanf:"key"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("qdrant.url", "http://localhost:6334")
	k.Set("qdrant.api_key", "")
	k.Set("qdrant.collection", "i")
	k.Set("qdrant.dimension", 3072)
	k.Set("qdrant.pool_size", 1)

	k.Set("embedder.provider", "openai")
	k.Set("embedder.base_url", "https://api.openai.com")
	k.Set("embedder.model", "text-embedding-3-large")
	k.Set("embedder.max_attempts", 1)

	k.Set("storage.driver", "file")
	k.Set("storage.path", defaultStoragePath())
	k.Set("storage.key", "studentReports")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".reportcard"
	}
	return filepath.Join(dir, "reportcard")
}

// Load reads configuration from defaults, the optional file at path and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus an optional profile overlay (config.<profile>.yaml).
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Load from file, then the profile overlay next to it.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		if profile != "" {
			overlay := ProfileConfigPath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("config: load profile %s: %w", overlay, err)
				}
			}
		}
	}

	// 2. Bare QDRANT_URL / QDRANT_KEY as used by existing deployments.
	if err := k.Load(env.Provider("QDRANT_", ".", legacyQdrantKey), nil); err != nil {
		return nil, err
	}

	// 3. REPORTCARD_QDRANT_API_KEY -> qdrant.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 4. --set overrides win.
	for key, val := range overrides {
		k.Set(key, val)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func legacyQdrantKey(s string) string {
	switch s {
	case "QDRANT_URL":
		return "qdrant.url"
	case "QDRANT_KEY":
		return "qdrant.api_key"
	}
	return ""
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

// ProfileConfigPath returns the overlay path for a profile: config.yaml -> config.dev.yaml.
func ProfileConfigPath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// CLIArgs holds the configuration-related command line arguments.
type CLIArgs struct {
	Path      string
	Profile   string
	Overrides map[string]any
}

// ParseCLIArgs extracts --config, --profile and --set k=v from args.
func ParseCLIArgs(args []string) (CLIArgs, error) {
	out := CLIArgs{Overrides: map[string]any{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			return out, fmt.Errorf("config: unknown argument %q", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("config: %s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			out.Path = value
		case "--profile":
			out.Profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return out, fmt.Errorf("config: --set expects key=value, got %q", value)
			}
			out.Overrides[key] = parseScalar(raw)
		}
	}
	return out, nil
}

// LoadWithCLI loads configuration honouring --config, --profile and --set flags.
func LoadWithCLI(args []string) (*Config, error) {
	cli, err := ParseCLIArgs(args)
	if err != nil {
		return nil, err
	}
	return load(cli.Path, cli.Profile, cli.Overrides)
}

// parseScalar decodes a --set value as YAML so that numbers and booleans keep their type.
func parseScalar(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// Validate reports configuration combinations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Qdrant.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("qdrant.dimension must be positive, got %d", c.Qdrant.Dimension))
	}
	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is required"))
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Telemetry.Enabled && c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required for the otlp exporter"))
	}
	return errors.Join(errs...)
}
