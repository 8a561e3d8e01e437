// Package config loads pa6 connection profiles from a TOML file and merges
// them with environment and command-line overrides.
package config

// Config is the parsed config file. Global sections apply to every profile
// unless the profile carries its own copy of the section.
type Config struct {
	Profiles  map[string]Profile `toml:"profile" validate:"dive"`
	Network   NetworkConfig      `toml:"network"`
	Polling   PollingConfig      `toml:"polling"`
	Transfers TransfersConfig    `toml:"transfers"`
	Logging   LoggingConfig      `toml:"logging"`
}

// NetworkConfig controls the HTTP transport.
type NetworkConfig struct {
	Timeout            string `toml:"timeout"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	CAFile             string `toml:"ca_file"`
	RetryCount         *int   `toml:"retry_count" validate:"omitempty,gte=0,lte=10"`
	RetryWait          string `toml:"retry_wait"`
	RetryStatuses      []int  `toml:"retry_statuses" validate:"dive,gte=400,lte=599,ne=503"`
	UserAgent          string `toml:"user_agent"`
}

// PollingConfig controls how long-running operations are awaited.
type PollingConfig struct {
	Interval      string `toml:"interval"`
	BusyTolerance *int   `toml:"busy_tolerance" validate:"omitempty,gte=0,lte=100"`
}

// TransfersConfig controls resumable uploads.
type TransfersConfig struct {
	ChunkSize string `toml:"chunk_size"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// CLIOverrides holds values from command-line flags. Pointer fields are nil
// when the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	Profile    string
	URL        *string
	LogLevel   *string
}
