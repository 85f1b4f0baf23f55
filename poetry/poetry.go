// Package poetry invokes the Poetry dependency manager on behalf of a
// task-runner session.
//
// The package does not parse the lock file itself. It shells out to the
// poetry command for the two operations locked installs need: exporting the
// lock file to requirements format, and building a distribution archive for
// the local package.
package poetry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Runner executes external commands on behalf of the tool. A session proxy
// satisfies it, so poetry runs through the host session; ExecRunner runs
// commands directly.
type Runner interface {
	// Run executes the named command and returns its standard output.
	// Implementations that decline to run the command report ErrSkipped.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands directly via os/exec, with Dir as the working
// directory.
type ExecRunner struct {
	Dir string
}

// Run executes the command and returns its standard output. Stderr is
// captured on the returned *exec.ExitError.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running %s: %w", name, err)
	}
	return string(out), nil
}

// LockDigest returns a fingerprint of the lock file in the given project
// directory. A missing lock file is a *ConfigError.
func LockDigest(dir string) (string, error) {
	path := filepath.Join(dir, "poetry.lock")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ConfigError{Path: path, Err: err}
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

var versionPattern = regexp.MustCompile(`[0-9]+(\.[0-9]+)+[-+.0-9a-zA-Z]*`)

// Tool invokes poetry for one project directory.
type Tool struct {
	runner Runner
	dir    string

	mu      sync.Mutex
	config  *Config
	version string
}

// New returns a Tool that runs poetry through the given runner for the
// project in dir.
func New(runner Runner, dir string) *Tool {
	return &Tool{runner: runner, dir: dir}
}

// Config returns the parsed pyproject.toml metadata, loading it on first
// use.
func (t *Tool) Config() (*Config, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config == nil {
		cfg, err := LoadConfig(t.dir)
		if err != nil {
			return nil, err
		}
		t.config = cfg
	}
	return t.config, nil
}

// Version returns the poetry version, invoking `poetry --version` on first
// use.
func (t *Tool) Version(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.version != "" {
		return t.version, nil
	}

	out, err := t.runner.Run(ctx, "poetry", "--version", "--no-ansi")
	if err != nil {
		return "", err
	}

	version := versionPattern.FindString(out)
	if version == "" {
		return "", fmt.Errorf("cannot parse output of `poetry --version`: %q", out)
	}

	t.version = version
	return version, nil
}

// SupportsGroups reports whether the installed poetry release understands
// dependency groups (1.2 and later).
func (t *Tool) SupportsGroups(ctx context.Context) (bool, error) {
	version, err := t.Version(ctx)
	if err != nil {
		return false, err
	}

	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false, fmt.Errorf("cannot parse poetry version %q", version)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false, fmt.Errorf("cannot parse poetry version %q: %w", version, err)
	}
	minor, err := strconv.Atoi(strings.TrimFunc(parts[1], func(r rune) bool {
		return r < '0' || r > '9'
	}))
	if err != nil {
		return false, fmt.Errorf("cannot parse poetry version %q: %w", version, err)
	}

	return major > 1 || (major == 1 && minor >= 2), nil
}

// Export runs `poetry export` and returns the generated requirements text.
// Both the configured dependency groups and extras are included.
func (t *Tool) Export(ctx context.Context) (string, error) {
	cfg, err := t.Config()
	if err != nil {
		return "", err
	}

	groups, err := t.SupportsGroups(ctx)
	if err != nil {
		return "", err
	}

	args := []string{"export", "--format=requirements.txt", "--without-hashes"}
	if groups {
		for _, group := range cfg.Groups {
			args = append(args, "--with="+group)
		}
	} else {
		args = append(args, "--dev")
	}
	for _, extra := range cfg.Extras {
		args = append(args, "--extras="+extra)
	}

	slog.Debug("exporting lock file", "dir", t.dir, "args", args)

	out, err := t.runner.Run(ctx, "poetry", args...)
	if err != nil {
		if errors.Is(err, ErrSkipped) {
			return "", err
		}
		return "", &ExportError{Stderr: commandStderr(err), Err: err}
	}

	return out, nil
}

// Build runs `poetry build` for the given format and returns the absolute
// path of the built archive under dist/.
func (t *Tool) Build(ctx context.Context, format DistributionFormat) (string, error) {
	if err := format.Validate(); err != nil {
		return "", err
	}

	slog.Debug("building package", "dir", t.dir, "format", format)

	out, err := t.runner.Run(ctx, "poetry", "build", "--format="+string(format), "--no-ansi")
	if err != nil {
		if errors.Is(err, ErrSkipped) {
			return "", err
		}
		return "", &BuildError{Format: format, Stderr: commandStderr(err), Err: err}
	}

	archive := parseBuiltArchive(out)
	if archive == "" {
		return "", &BuildError{
			Format: format,
			Err:    fmt.Errorf("no archive in output of `poetry build`: %q", out),
		}
	}

	path := filepath.Join(t.dir, "dist", archive)
	if _, err := os.Stat(path); err != nil {
		return "", &BuildError{Format: format, Err: fmt.Errorf("built archive missing: %w", err)}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &BuildError{Format: format, Err: err}
	}
	return abs, nil
}

// parseBuiltArchive extracts the archive filename from poetry build output,
// which reports lines of the form `- Built <archive>`.
func parseBuiltArchive(out string) string {
	var archive string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "- Built "); ok {
			archive = strings.TrimSpace(name)
		}
	}
	return archive
}

// commandStderr extracts captured stderr from a failed command, if any.
func commandStderr(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(bytes.TrimSpace(exitErr.Stderr))
	}
	return ""
}
