//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megaputer/pa6-go/internal/config"
	"github.com/megaputer/pa6-go/testutil"
)

var (
	binaryPath string
	folder     string
	project    string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")

	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	testutil.ValidateAllowlist(config.EnvURL)

	tmpDir, err := os.MkdirTemp("", "pa6-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "pa6")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	folder = os.Getenv(testutil.EnvTestFolder)
	if folder == "" {
		folder = "/pa6-e2e"
	}

	project = os.Getenv(testutil.EnvTestProject)

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String(), stderr.String()
}

func TestE2E_Server(t *testing.T) {
	t.Run("info", func(t *testing.T) {
		stdout, _ := runCLI(t, "info", "-o", "json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.NotEmpty(t, out)
	})

	t.Run("versions", func(t *testing.T) {
		stdout, _ := runCLI(t, "versions")
		assert.Contains(t, stdout, "1.0 (supported)")
	})
}

func TestE2E_FileRoundTrip(t *testing.T) {
	base := fmt.Sprintf("%s/run-%d", folder, time.Now().UnixNano())
	content := []byte("make,model\nVolvo,240\n")

	t.Cleanup(func() {
		_ = exec.Command(binaryPath, "rm", base+"/cars.csv").Run()
		_ = exec.Command(binaryPath, "rmdir", base).Run()
	})

	t.Run("mkdir", func(t *testing.T) {
		_, stderr := runCLI(t, "mkdir", base)
		assert.Contains(t, stderr, "Created")
	})

	t.Run("upload", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "cars.csv")
		require.NoError(t, os.WriteFile(local, content, 0o600))

		_, stderr := runCLI(t, "upload", local, base)
		assert.Contains(t, stderr, "Uploaded")
	})

	t.Run("download", func(t *testing.T) {
		stdout, _ := runCLI(t, "download", base+"/cars.csv", "-")
		assert.Equal(t, string(content), stdout)
	})

	t.Run("uploads_list", func(t *testing.T) {
		stdout, _ := runCLI(t, "uploads", "list", "-o", "json")

		var entries []map[string]any
		assert.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	})
}

func TestE2E_Project(t *testing.T) {
	if project == "" {
		t.Skipf("%s not set", testutil.EnvTestProject)
	}

	t.Run("nodes", func(t *testing.T) {
		stdout, _ := runCLI(t, "nodes", "-p", project)
		assert.Contains(t, stdout, "NAME")
	})

	t.Run("stats", func(t *testing.T) {
		stdout, _ := runCLI(t, "stats", "-p", project, "-o", "json")
		assert.NotEmpty(t, stdout)
	})
}
