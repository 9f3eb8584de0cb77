//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// GetBinaryPath builds the CLI and returns the binary path.
func GetBinaryPath(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "codevet")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/codevet")
	cmd.Dir = "../../"
	cmd.Env = os.Environ()
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Build failed: %v\n%s", err, out)
	}
	return binPath
}

// WriteRepo lays out owner/name under root with the given files.
func WriteRepo(t *testing.T, root, owner, name string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, owner, name, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// WriteConfig writes a config that ingests from sources into out.
func WriteConfig(t *testing.T, dir, sources string, targets ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "managed_root: managed\n")
	fmt.Fprintf(&b, "storage_url: file://%s\n", filepath.ToSlash(filepath.Join(dir, "out")))
	fmt.Fprintf(&b, "history_url: sqlite://%s\n", filepath.ToSlash(filepath.Join(dir, "history.db")))
	fmt.Fprintf(&b, "github:\n  local_root: %s\n", filepath.ToSlash(sources))
	fmt.Fprintf(&b, "pacing:\n  file_delay: 1ms\n  repo_delay: 1ms\n  cycle_interval: 1m\n")
	fmt.Fprintf(&b, "telemetry:\n  skip: true\n")
	b.WriteString("targets:\n")
	for _, t := range targets {
		b.WriteString(t)
	}
	path := filepath.Join(dir, "codevet.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Run executes the binary with a clean HOME and no tokens.
func Run(t *testing.T, bin string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "GITHUB_TOKEN=") || strings.HasPrefix(e, "HOME=") || strings.HasPrefix(e, "CODEVET_") {
			continue
		}
		env = append(env, e)
	}
	cmd.Env = append(env, "HOME="+t.TempDir())
	out, err := cmd.CombinedOutput()
	return string(out), err
}
