package config

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/megaputer/pa6-go/pkg/pa6"
)

// ClientOptions converts the profile into client options. Logger, metrics,
// tracing and the upload journal are left for the caller to attach.
func (rp *ResolvedProfile) ClientOptions() (pa6.Options, error) {
	timeout, err := parseDuration("network.timeout", rp.Network.Timeout)
	if err != nil {
		return pa6.Options{}, err
	}

	retryWait, err := parseDuration("network.retry_wait", rp.Network.RetryWait)
	if err != nil {
		return pa6.Options{}, err
	}

	interval, err := parseDuration("polling.interval", rp.Polling.Interval)
	if err != nil {
		return pa6.Options{}, err
	}

	chunk, err := parseChunkSize(rp.Transfers.ChunkSize)
	if err != nil {
		return pa6.Options{}, err
	}

	return pa6.Options{
		URL:        rp.URL,
		Username:   rp.Username,
		Password:   rp.Password,
		LDAPServer: rp.LDAPServer,
		Token:      rp.Token,
		APIVersion: rp.APIVersion,

		Timeout:            timeout,
		InsecureSkipVerify: rp.Network.InsecureSkipVerify,
		CAFile:             expandTilde(rp.Network.CAFile),
		RetryCount:         rp.Network.RetryCount,
		RetryWait:          retryWait,
		RetryStatuses:      rp.Network.RetryStatuses,
		UserAgent:          rp.Network.UserAgent,

		PollInterval:  interval,
		BusyTolerance: rp.Polling.BusyTolerance,
		ChunkSize:     chunk,
	}, nil
}

// parseDuration treats an empty value as "use the library default".
func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, s)
	}

	return d, nil
}

// parseChunkSize accepts humanized sizes such as "8MiB" or "5 MB".
func parseChunkSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("transfers.chunk_size: %w", err)
	}

	if n < minChunkBytes || n > math.MaxInt32 {
		return 0, fmt.Errorf("transfers.chunk_size: must be between %s and 2 GiB, got %s",
			humanize.IBytes(minChunkBytes), s)
	}

	return int64(n), nil
}
