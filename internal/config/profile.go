package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Profile is one PolyAnalyst server login. A per-profile section such as
// [profile.prod.network] replaces the global [network] section as a whole;
// fields left out of it fall back to the client library defaults, not to
// the global section.
type Profile struct {
	URL        string `toml:"url" validate:"omitempty,http_url"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	LDAPServer string `toml:"ldap_server"`
	Token      string `toml:"token"`
	APIVersion string `toml:"api_version"`

	Network   *NetworkConfig   `toml:"network,omitempty"`
	Polling   *PollingConfig   `toml:"polling,omitempty"`
	Transfers *TransfersConfig `toml:"transfers,omitempty"`
	Logging   *LoggingConfig   `toml:"logging,omitempty"`
}

// ResolvedProfile is a profile with its effective sections and every
// override applied.
type ResolvedProfile struct {
	Name       string
	URL        string
	Username   string
	Password   string
	LDAPServer string
	Token      string
	APIVersion string

	Network   NetworkConfig
	Polling   PollingConfig
	Transfers TransfersConfig
	Logging   LoggingConfig
}

// ResolveProfile picks the named profile (or the default one when name is
// empty) and attaches its effective sections.
func ResolveProfile(cfg *Config, profileName string) (*ResolvedProfile, error) {
	name, err := resolveProfileName(cfg, profileName)
	if err != nil {
		return nil, err
	}

	p := cfg.Profiles[name]

	return &ResolvedProfile{
		Name:       name,
		URL:        p.URL,
		Username:   p.Username,
		Password:   p.Password,
		LDAPServer: p.LDAPServer,
		Token:      p.Token,
		APIVersion: p.APIVersion,
		Network:    resolveSection(p.Network, cfg.Network),
		Polling:    resolveSection(p.Polling, cfg.Polling),
		Transfers:  resolveSection(p.Transfers, cfg.Transfers),
		Logging:    resolveSection(p.Logging, cfg.Logging),
	}, nil
}

func resolveSection[T any](override *T, global T) T {
	if override != nil {
		return *override
	}

	return global
}

func resolveProfileName(cfg *Config, name string) (string, error) {
	if name != "" {
		if _, ok := cfg.Profiles[name]; !ok {
			return "", fmt.Errorf("profile %q not found in config (have: %s)",
				name, strings.Join(profileNames(cfg), ", "))
		}

		return name, nil
	}

	if _, ok := cfg.Profiles[defaultProfileName]; ok {
		return defaultProfileName, nil
	}

	if names := profileNames(cfg); len(names) == 1 {
		return names[0], nil
	}

	return "", fmt.Errorf("multiple profiles defined but none named %q; use --profile to select one",
		defaultProfileName)
}

func profileNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Profiles))
	for n := range cfg.Profiles {
		names = append(names, n)
	}

	slices.Sort(names)

	return names
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
