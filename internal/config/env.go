package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig     = "PA6_CONFIG"
	EnvProfile    = "PA6_PROFILE"
	EnvURL        = "PA6_URL"
	EnvUsername   = "PA6_USERNAME"
	EnvPassword   = "PA6_PASSWORD"
	EnvToken      = "PA6_TOKEN"
	EnvLDAPServer = "PA6_LDAP_SERVER"
)

// EnvOverrides holds values read from the environment. Empty means unset.
type EnvOverrides struct {
	ConfigPath string
	Profile    string
	URL        string
	Username   string
	Password   string
	Token      string
	LDAPServer string
}

// ReadEnvOverrides reads the PA6_* variables. Secrets are never logged,
// only whether they are present.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Profile:    os.Getenv(EnvProfile),
		URL:        os.Getenv(EnvURL),
		Username:   os.Getenv(EnvUsername),
		Password:   os.Getenv(EnvPassword),
		Token:      os.Getenv(EnvToken),
		LDAPServer: os.Getenv(EnvLDAPServer),
	}

	logger.Debug("environment overrides",
		slog.String("config", env.ConfigPath),
		slog.String("profile", env.Profile),
		slog.String("url", env.URL),
		slog.String("username", env.Username),
		slog.Bool("password_set", env.Password != ""),
		slog.Bool("token_set", env.Token != ""),
	)

	return env
}

func (e EnvOverrides) apply(rp *ResolvedProfile) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&rp.URL, e.URL)
	set(&rp.Username, e.Username)
	set(&rp.Password, e.Password)
	set(&rp.Token, e.Token)
	set(&rp.LDAPServer, e.LDAPServer)
}
