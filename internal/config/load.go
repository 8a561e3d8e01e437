package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads, checks and validates a config file. Unknown keys are fatal
// and come with "did you mean" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(md.Undecoded()); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields DefaultConfig.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain defaults -> config file -> environment
// -> flags and returns a validated profile.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedProfile, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	profileName := cli.Profile
	if profileName == "" {
		profileName = env.Profile
	}

	// Without a config file the environment alone can describe a server.
	if len(cfg.Profiles) == 0 {
		name := defaultProfileName
		if profileName != "" {
			name = profileName
		}

		cfg.Profiles = map[string]Profile{name: {}}
	}

	resolved, err := ResolveProfile(cfg, profileName)
	if err != nil {
		return nil, err
	}

	env.apply(resolved)

	if cli.URL != nil {
		resolved.URL = *cli.URL
	}

	if cli.LogLevel != nil {
		resolved.Logging.LogLevel = *cli.LogLevel
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.Debug("resolved profile",
		slog.String("config", cfgPath),
		slog.String("profile", resolved.Name),
		slog.String("url", resolved.URL),
	)

	return resolved, nil
}
