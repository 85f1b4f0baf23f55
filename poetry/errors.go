package poetry

import (
	"errors"
	"fmt"
)

// ErrSkipped reports that the host session declined to run an external
// command, for example during a dry run.
var ErrSkipped = errors.New("command was not executed by the session runner")

// A ConfigError indicates that the project is not set up for locked
// installs: the lock file is missing, or pyproject.toml is absent or
// malformed.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid project configuration: %s", e.Path)
	}
	return fmt.Sprintf("invalid project configuration: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// An ExportError indicates that `poetry export` exited non-zero.
type ExportError struct {
	Stderr string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exporting lock file: %v", e.Err)
	}
	return fmt.Sprintf("exporting lock file: %v: %s", e.Err, e.Stderr)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// A BuildError indicates that `poetry build` exited non-zero, or that its
// output did not name a built archive.
type BuildError struct {
	Format DistributionFormat
	Stderr string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("building %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("building %s: %v: %s", e.Format, e.Err, e.Stderr)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
