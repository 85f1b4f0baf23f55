package lockpin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goyek/goyek/v2"

	"github.com/cjolowicz/lockpin/internal/config"
	"github.com/cjolowicz/lockpin/poetry"
)

// DefaultConfigFile is the runner defaults file looked up in the working
// directory.
const DefaultConfigFile = ".lockpin.yaml"

// SessionConfig is the configuration a provider receives for one session.
// lockpin passes these options through unchanged from the task declaration
// and the runner defaults; it adds no options of its own.
type SessionConfig struct {
	Name          string
	Python        string
	Reuse         bool
	Backend       string
	BackendParams map[string]string
	Tags          []string
}

// Provider creates runner sessions. Implementations own the virtual
// environment lifecycle; lockpin only drives installs inside the session.
// If the returned installer implements io.Closer, it is closed when the
// task ends.
type Provider interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Installer, error)
}

// Task declares one session task. Zero-valued fields fall back to the
// runner defaults.
type Task struct {
	Name          string
	Usage         string
	Pythons       []string
	Reuse         bool
	Backend       string
	BackendParams map[string]string
	Tags          []string

	// Action is the task body. It receives the session proxy for an
	// environment created by the provider.
	Action func(a *goyek.A, s *Session)
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	configFile string
	explicit   bool
}

// WithConfigFile sets the runner defaults file. The file must exist.
func WithConfigFile(path string) RunnerOption {
	return func(o *runnerOptions) {
		o.configFile = path
		o.explicit = true
	}
}

// Runner registers session tasks with goyek.
type Runner struct {
	provider Provider
	defaults config.Defaults
}

// NewRunner returns a runner for the given provider, loading defaults from
// .lockpin.yaml when the file exists.
func NewRunner(provider Provider, opts ...RunnerOption) (*Runner, error) {
	o := runnerOptions{configFile: DefaultConfigFile}
	for _, opt := range opts {
		opt(&o)
	}

	defaults := config.Default()
	if _, err := os.Stat(o.configFile); err == nil {
		defaults, err = config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
	} else if o.explicit {
		return nil, fmt.Errorf("runner config: %w", err)
	}

	return &Runner{provider: provider, defaults: defaults}, nil
}

// Define registers the task with goyek: one task per configured
// interpreter, plus an umbrella task depending on all of them when more
// than one interpreter is configured. It returns the registered tasks.
func (r *Runner) Define(t Task) []*goyek.DefinedTask {
	pythons := t.Pythons
	if len(pythons) == 0 {
		pythons = r.defaults.Pythons
	}

	if len(pythons) <= 1 {
		var python string
		if len(pythons) == 1 {
			python = pythons[0]
		}
		return []*goyek.DefinedTask{r.define(t, t.Name, python)}
	}

	tasks := make([]*goyek.DefinedTask, 0, len(pythons)+1)
	deps := make(goyek.Deps, 0, len(pythons))
	for _, python := range pythons {
		dt := r.define(t, t.Name+"-"+python, python)
		tasks = append(tasks, dt)
		deps = append(deps, dt)
	}

	tasks = append(tasks, goyek.Define(goyek.Task{
		Name:  t.Name,
		Usage: t.Usage,
		Deps:  deps,
	}))
	return tasks
}

func (r *Runner) define(t Task, name, python string) *goyek.DefinedTask {
	cfg := r.sessionConfig(t, name, python)
	format := poetry.DistributionFormat(r.defaults.Format)

	return goyek.Define(goyek.Task{
		Name:  name,
		Usage: t.Usage,
		Action: func(a *goyek.A) {
			err := r.runSession(a.Context(), cfg, format, func(s *Session) {
				t.Action(a, s)
			})
			if err != nil {
				a.Fatal(err)
			}
		},
	})
}

func (r *Runner) sessionConfig(t Task, name, python string) SessionConfig {
	backend := t.Backend
	if backend == "" {
		backend = r.defaults.Backend
	}

	params := make(map[string]string, len(r.defaults.BackendParams)+len(t.BackendParams))
	for k, v := range r.defaults.BackendParams {
		params[k] = v
	}
	for k, v := range t.BackendParams {
		params[k] = v
	}

	var tags []string
	tags = append(tags, r.defaults.Tags...)
	tags = append(tags, t.Tags...)

	return SessionConfig{
		Name:          name,
		Python:        python,
		Reuse:         t.Reuse || r.defaults.Reuse,
		Backend:       backend,
		BackendParams: params,
		Tags:          tags,
	}
}

func (r *Runner) runSession(ctx context.Context, cfg SessionConfig, format poetry.DistributionFormat, fn func(*Session)) error {
	inst, err := r.provider.NewSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", cfg.Name, err)
	}
	if closer, ok := inst.(io.Closer); ok {
		defer closer.Close()
	}

	s, err := Wrap(inst, WithPython(cfg.Python), WithDistributionFormat(format))
	if err != nil {
		return err
	}

	fn(s)
	return nil
}
