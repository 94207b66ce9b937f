package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/ccbridge/ccbridge/internal/app"
)

// envPrefix namespaces environment overrides, e.g. CCBRIDGE_SERVER__PORT=9000.
const envPrefix = "CCBRIDGE_"

// legacyEnv maps the flat variables of earlier deployments to config keys.
var legacyEnv = map[string]string{
	"AZURE_ENDPOINT":         "upstream.endpoint",
	"AZURE_API_KEY":          "upstream.api_key",
	"SERVICE_API_KEY":        "server.service_api_key",
	"PORT":                   "server.port",
	"THINKING_BUDGET_TOKENS": "models.thinking_budget_tokens",
	"ANTHROPIC_VERSION":      "upstream.anthropic_version",
}

// flagKeys maps CLI flags to config keys. Only flags set explicitly override.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"host":       "server.host",
	"port":       "server.port",
	"endpoint":   "upstream.endpoint",
}

// listKeys are config keys whose env values are comma separated.
var listKeys = map[string]bool{
	"models.thinking_keywords": true,
}

// loadConfig merges defaults, the config file, environment and flags, in that order.
func loadConfig(path string, cmd *cli.Command, environ func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(app.Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	legacy := env.Provider(".", env.Opt{
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			if value == "" {
				return "", nil
			}
			return legacyEnv[key], value
		},
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	namespaced := env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		EnvironFunc:   environ,
		TransformFunc: transformEnv,
	})
	if err := k.Load(namespaced, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if cmd != nil {
		flags := make(map[string]any)
		for name, key := range flagKeys {
			if cmd.IsSet(name) {
				flags[key] = cmd.Value(name)
			}
		}
		if err := k.Load(confmap.Provider(flags, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg app.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv turns CCBRIDGE_UPSTREAM__RETRY__MAX_ATTEMPTS into upstream.retry.max_attempts.
func transformEnv(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if listKeys[key] {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format %q (use .toml or .yaml)", filepath.Ext(path))
	}
}
