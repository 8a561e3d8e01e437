// Package testutil holds helpers shared by the end-to-end tests, which run
// the built binary against a real PolyAnalyst server.
package testutil

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by the end-to-end tests.
const (
	EnvAllowedServers = "PA6_ALLOWED_TEST_SERVERS"
	EnvTestProject    = "PA6_TEST_PROJECT"
	EnvTestFolder     = "PA6_TEST_FOLDER"
)

// LoadDotEnv loads KEY=VALUE pairs from path. A missing file is fine (CI
// sets variables directly) and variables already set win.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// ValidateAllowlist exits the process unless the host of the server in
// urlEnvVar is listed in PA6_ALLOWED_TEST_SERVERS. It keeps the tests, which
// create and delete server files, away from production servers.
func ValidateAllowlist(urlEnvVar string) {
	allowlist := os.Getenv(EnvAllowedServers)
	if allowlist == "" {
		fatalf("%s not set (example: %s=pa-test.example.com:5043)", EnvAllowedServers, EnvAllowedServers)
	}

	raw := os.Getenv(urlEnvVar)
	if raw == "" {
		fatalf("%s not set", urlEnvVar)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		fatalf("%s=%q is not a server URL", urlEnvVar, raw)
	}

	for _, host := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(host), u.Host) {
			return
		}
	}

	fatalf("%s host %q is not in %s=%q", urlEnvVar, u.Host, EnvAllowedServers, allowlist)
}

// FindModuleRoot walks up from the working directory to go.mod and returns
// fallback when there is none.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
