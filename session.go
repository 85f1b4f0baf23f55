package lockpin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/cjolowicz/lockpin/internal/cache"
	"github.com/cjolowicz/lockpin/internal/requirements"
	"github.com/cjolowicz/lockpin/poetry"
)

// Installer is the slice of a task-runner session that lockpin builds on.
// The host runner owns the session lifecycle; lockpin only drives installs
// and external commands inside it.
type Installer interface {
	// Install invokes the session's package installer with the given
	// command-line arguments.
	Install(ctx context.Context, args ...string) error

	// Run executes an external command inside the session and returns its
	// standard output. Implementations that decline to run the command
	// (for example during a dry run) report poetry.ErrSkipped.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Option configures a wrapped session.
type Option func(*sessionOptions)

type sessionOptions struct {
	python   string
	workDir  string
	cacheDir string
	format   poetry.DistributionFormat
}

// WithPython records the interpreter identity of the session. It is part
// of the artifact cache key.
func WithPython(python string) Option {
	return func(o *sessionOptions) { o.python = python }
}

// WithWorkDir sets the project directory. It defaults to the process
// working directory.
func WithWorkDir(dir string) Option {
	return func(o *sessionOptions) { o.workDir = dir }
}

// WithCacheDir sets the directory artifact files are written to. It
// defaults to a fresh temporary directory; pass the session's environment
// directory to let a reused environment skip unchanged exports.
func WithCacheDir(dir string) Option {
	return func(o *sessionOptions) { o.cacheDir = dir }
}

// WithDistributionFormat sets the archive format built for "." install
// arguments. The default is a wheel.
func WithDistributionFormat(format poetry.DistributionFormat) Option {
	return func(o *sessionOptions) { o.format = format }
}

// Session proxies a task-runner session. Every operation lockpin does not
// augment is delegated to the wrapped Installer; Install is overridden to
// pin packages to the lock file, and Poetry exposes the finer-grained
// operations.
type Session struct {
	Installer

	// Poetry holds the lock-aware operations of the session.
	Poetry *PoetrySession
}

// Wrap builds a session proxy around the given installer.
func Wrap(inst Installer, opts ...Option) (*Session, error) {
	o := sessionOptions{format: poetry.Wheel}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.format.Validate(); err != nil {
		return nil, err
	}

	workDir := o.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	cacheDir := o.cacheDir
	if cacheDir == "" {
		dir, err := os.MkdirTemp("", "lockpin-")
		if err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
		cacheDir = dir
	}

	return &Session{
		Installer: inst,
		Poetry: &PoetrySession{
			inst:    inst,
			tool:    poetry.New(inst, workDir),
			cache:   cache.New(cacheDir),
			workDir: workDir,
			python:  o.python,
			format:  o.format,
		},
	}, nil
}

// Install installs packages into the session at the versions recorded in
// the lock file. See PoetrySession.Install.
func (s *Session) Install(ctx context.Context, args ...string) error {
	return s.Poetry.Install(ctx, args...)
}

// PoetrySession carries the lock-aware operations of one session. All
// artifacts it produces are cached for the lifetime of the session: at
// most one export and one build per distribution format happen, no matter
// how many installs reuse them.
type PoetrySession struct {
	inst    Installer
	tool    *poetry.Tool
	cache   *cache.Cache
	workDir string
	python  string
	format  poetry.DistributionFormat
}

// Install rewrites the given installer arguments and forwards them to the
// wrapped session. A "." argument is replaced by the path of a built
// distribution archive (extras preserved), and a constraints file exported
// from the lock file is prepended as a --constraint option, so every
// installed package resolves to its locked version. Caller-supplied
// arguments, including any --constraint option of their own, are forwarded
// untouched after it.
func (p *PoetrySession) Install(ctx context.Context, args ...string) error {
	parsed, err := ParseArgs(args...)
	if err != nil {
		return err
	}
	return p.InstallArgs(ctx, parsed...)
}

// InstallArgs is Install for pre-classified arguments.
func (p *PoetrySession) InstallArgs(ctx context.Context, args ...Arg) error {
	return p.install(ctx, p.format, args)
}

// InstallRoot installs only the local project, built as the given
// distribution format, with the optional extras.
func (p *PoetrySession) InstallRoot(ctx context.Context, format poetry.DistributionFormat, extras ...string) error {
	if err := format.Validate(); err != nil {
		return err
	}
	return p.install(ctx, format, []Arg{Project{Extras: extras}})
}

func (p *PoetrySession) install(ctx context.Context, format poetry.DistributionFormat, args []Arg) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: at least one argument is required", ErrInvalidArgument)
	}

	// Installs always attach constraints, so surface a missing lock file
	// before any external tool runs.
	if _, err := p.exportKey(); err != nil {
		return err
	}

	forwarded := make([]string, 0, len(args)+1)
	project := false

	for _, arg := range args {
		switch a := arg.(type) {
		case Project:
			archive, err := p.BuildPackage(ctx, format)
			if err != nil {
				return err
			}
			forwarded = append(forwarded, requirements.JoinExtras(archive, a.Extras))
			project = true
		case Package:
			forwarded = append(forwarded, a.Spec)
		default:
			return fmt.Errorf("%w: unsupported argument type %T", ErrInvalidArgument, arg)
		}
	}

	constraints, err := p.ExportRequirements(ctx)
	if err != nil {
		return err
	}

	if project {
		if err := p.uninstallRoot(ctx); err != nil {
			return err
		}
	}

	forwarded = append([]string{"--constraint=" + constraints}, forwarded...)
	return p.inst.Install(ctx, forwarded...)
}

// uninstallRoot removes a previously installed copy of the project, so a
// rebuilt archive with an unchanged version is actually reinstalled. pip
// exits zero when the package is not installed.
func (p *PoetrySession) uninstallRoot(ctx context.Context) error {
	cfg, err := p.tool.Config()
	if err != nil {
		return err
	}

	if _, err := p.inst.Run(ctx, "pip", "uninstall", "--yes", cfg.Name); err != nil && !errors.Is(err, poetry.ErrSkipped) {
		return fmt.Errorf("uninstalling %s: %w", cfg.Name, err)
	}
	return nil
}

// ExportRequirements returns the path of a constraints file holding the
// locked versions of the project dependencies, exporting it on first use.
// Repeated calls within the session return the same path without running
// poetry again.
func (p *PoetrySession) ExportRequirements(ctx context.Context) (string, error) {
	key, err := p.exportKey()
	if err != nil {
		return "", err
	}

	return p.cache.GetOrExport(key, func() (string, error) {
		path := filepath.Join(p.cache.Dir(), "requirements.txt")
		hashFile := path + ".hash"

		// A reused environment directory may already hold an export for
		// this exact lock file.
		if digest, err := os.ReadFile(hashFile); err == nil && string(digest) == key.LockDigest {
			if _, err := os.Stat(path); err == nil {
				slog.Debug("reusing exported constraints", "path", path)
				return path, nil
			}
		}

		text, err := p.tool.Export(ctx)
		if err != nil {
			return "", err
		}

		clean, warnings := requirements.Sanitize(text)
		for _, warning := range warnings {
			slog.Warn("poetry export", "warning", warning)
		}

		if err := os.WriteFile(path, []byte(clean), 0o644); err != nil {
			return "", fmt.Errorf("writing constraints file: %w", err)
		}
		if err := os.WriteFile(hashFile, []byte(key.LockDigest), 0o644); err != nil {
			return "", fmt.Errorf("writing constraints hash: %w", err)
		}

		return path, nil
	})
}

// BuildPackage returns the path of a distribution archive for the local
// project in the given format, building it on first use. Each format is
// cached independently for the lifetime of the session.
func (p *PoetrySession) BuildPackage(ctx context.Context, format poetry.DistributionFormat) (string, error) {
	if err := format.Validate(); err != nil {
		return "", err
	}

	return p.cache.GetOrBuild(p.buildKey(), string(format), func() (string, error) {
		return p.tool.Build(ctx, format)
	})
}

// Warm produces the session artifacts up front: the constraints export and
// one build per requested format run concurrently. A later Install reuses
// them from the cache.
func (p *PoetrySession) Warm(ctx context.Context, formats ...poetry.DistributionFormat) error {
	for _, format := range formats {
		if err := format.Validate(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := p.ExportRequirements(ctx)
		return err
	})
	for _, format := range formats {
		format := format
		g.Go(func() error {
			_, err := p.BuildPackage(ctx, format)
			return err
		})
	}

	return g.Wait()
}

func (p *PoetrySession) exportKey() (cache.Key, error) {
	digest, err := poetry.LockDigest(p.workDir)
	if err != nil {
		return cache.Key{}, err
	}
	return cache.Key{WorkDir: p.workDir, LockDigest: digest, Python: p.python}, nil
}

// buildKey carries no lock digest: building does not read the lock file,
// so a lockless project can still build.
func (p *PoetrySession) buildKey() cache.Key {
	return cache.Key{WorkDir: p.workDir, Python: p.python}
}
