package config

import (
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/megaputer/pa6-go/pkg/asyncop"
	"github.com/megaputer/pa6-go/pkg/pa6"
	"github.com/megaputer/pa6-go/pkg/tus"
)

const (
	defaultProfileName = "default"
	defaultLogLevel    = "info"
)

// DefaultConfig returns a Config populated with the client library's own
// defaults, so a missing config file and an empty one behave the same.
func DefaultConfig() *Config {
	return &Config{
		Profiles:  map[string]Profile{},
		Network:   defaultNetworkConfig(),
		Polling:   defaultPollingConfig(),
		Transfers: defaultTransfersConfig(),
		Logging:   LoggingConfig{LogLevel: defaultLogLevel},
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Timeout:       pa6.DefaultTimeout.String(),
		RetryCount:    pa6.Int(pa6.DefaultRetryCount),
		RetryWait:     pa6.DefaultRetryWait.String(),
		RetryStatuses: slices.Clone(pa6.DefaultRetryStatuses),
		UserAgent:     pa6.DefaultUserAgent,
	}
}

func defaultPollingConfig() PollingConfig {
	return PollingConfig{
		Interval:      asyncop.DefaultInterval.String(),
		BusyTolerance: pa6.Int(pa6.DefaultBusyTolerance),
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{ChunkSize: humanize.IBytes(tus.DefaultChunkSize)}
}
