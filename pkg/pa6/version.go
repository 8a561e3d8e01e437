package pa6

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersions lists the API versions this client implements.
var SupportedVersions = []string{"1.0"}

// legacyVersions is reported for servers that predate the versions endpoint.
var legacyVersions = []string{"1.0"}

// IsSupportedVersion reports whether v names a version the client speaks.
// "1" and "1.0.0" are accepted as spellings of "1.0".
func IsSupportedVersion(v string) bool {
	want, err := semver.NewVersion(v)
	if err != nil {
		return false
	}

	for _, s := range SupportedVersions {
		if sv, err := semver.NewVersion(s); err == nil && sv.Equal(want) {
			return true
		}
	}

	return false
}

// Versions returns the API versions the server supports. Servers without the
// versions endpoint answer 404 and only speak 1.0; any other failure is
// returned as is.
func (c *Client) Versions(ctx context.Context) ([]string, error) {
	var out []string

	_, err := c.get(ctx, c.apiRoot+"/versions", nil, &out)
	if errors.Is(err, ErrNotFound) {
		return slices.Clone(legacyVersions), nil
	}

	if err != nil {
		return nil, err
	}

	return out, nil
}

// NegotiateVersion returns the highest version supported by both sides.
func (c *Client) NegotiateVersion(ctx context.Context) (string, error) {
	server, err := c.Versions(ctx)
	if err != nil {
		return "", err
	}

	best := pickVersion(server, SupportedVersions)
	if best == "" {
		return "", fmt.Errorf("%w: server offers %v, client supports %v",
			ErrUnsupportedVersion, server, SupportedVersions)
	}

	return best, nil
}

func pickVersion(server, client []string) string {
	var (
		best    *semver.Version
		bestRaw string
	)

	for _, raw := range server {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}

		if !slices.ContainsFunc(client, func(s string) bool {
			cv, err := semver.NewVersion(s)
			return err == nil && cv.Equal(v)
		}) {
			continue
		}

		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}

	return bestRaw
}

// ServerInfo is the server/info document: build number, version and commit
// hashes. Field names differ between builds, so the raw document is kept.
type ServerInfo struct {
	Document
}

// Version returns the server's product version, if reported.
func (s ServerInfo) Version() string {
	return s.Get("version").String()
}

// Build returns the server build number, if reported.
func (s ServerInfo) Build() int64 {
	return s.Get("build").Int()
}

// ServerInfo fetches general server information.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo

	if _, err := c.get(ctx, "server/info", nil, &info); err != nil {
		return nil, fmt.Errorf("pa6: fetching server info: %w", err)
	}

	return &info, nil
}

// RunTask starts a scheduler task by id.
func (c *Client) RunTask(ctx context.Context, id int64) error {
	if _, err := c.post(ctx, "scheduler/run-task", nil, map[string]int64{"taskId": id}, nil); err != nil {
		return fmt.Errorf("pa6: running scheduler task %d: %w", id, err)
	}

	return nil
}
