package lockpin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cjolowicz/lockpin/internal/requirements"
)

// ErrInvalidArgument reports an install argument that cannot be classified.
var ErrInvalidArgument = errors.New("invalid install argument")

// Arg is one install argument: either the local project or an argument
// forwarded verbatim to the session installer.
type Arg interface {
	installArg()
}

// Project references the package in the session's working directory,
// optionally with extras to install.
type Project struct {
	Extras []string
}

// Package is any other installer argument, such as a requirement
// ("flask>=2,<3") or an installer option. It is forwarded unchanged.
type Package struct {
	Spec string
}

func (Project) installArg() {}
func (Package) installArg() {}

// ParseArg classifies a string install argument. Exactly "." (optionally
// with an extras suffix, as in ".[docs]") refers to the local project;
// every other non-empty string is forwarded as-is.
func ParseArg(arg string) (Arg, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidArgument)
	}
	if strings.HasPrefix(arg, "[") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidArgument, arg)
	}

	base, extras := requirements.SplitExtras(arg)
	if base == "." {
		return Project{Extras: extras}, nil
	}
	return Package{Spec: arg}, nil
}

// ParseArgs classifies each argument in turn.
func ParseArgs(args ...string) ([]Arg, error) {
	parsed := make([]Arg, 0, len(args))
	for _, arg := range args {
		a, err := ParseArg(arg)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, a)
	}
	return parsed, nil
}
