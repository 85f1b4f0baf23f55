package lockpin_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cjolowicz/lockpin"
	"github.com/cjolowicz/lockpin/poetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPyproject = `[tool.poetry]
name = "demo"

[tool.poetry.group.dev.dependencies]
pytest = "^7.0"
`

const testExport = "Warning: the lock file is slightly stale\npytest==7.4.0 ; python_version >= \"3.8\"\nattrs==23.1.0\n"

// fakeInstaller stands in for a task-runner session. It records every
// forwarded call and answers poetry invocations with canned output,
// creating the dist archive that a build reports.
type fakeInstaller struct {
	mu  sync.Mutex
	dir string

	installs [][]string
	runs     [][]string
}

func (f *fakeInstaller) Install(_ context.Context, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, args)
	return nil
}

func (f *fakeInstaller) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, append([]string{name}, args...))

	if name == "pip" {
		return "", nil
	}
	if name != "poetry" {
		return "", fmt.Errorf("unexpected command %q", name)
	}

	switch args[0] {
	case "--version":
		return "Poetry (version 1.8.3)\n", nil
	case "export":
		return testExport, nil
	case "build":
		archive := "demo-0.1.0-py3-none-any.whl"
		if strings.Contains(strings.Join(args, " "), "--format=sdist") {
			archive = "demo-0.1.0.tar.gz"
		}
		dist := filepath.Join(f.dir, "dist")
		if err := os.MkdirAll(dist, 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dist, archive), []byte(archive), 0o644); err != nil {
			return "", err
		}
		return "Building demo (0.1.0)\n  - Built " + archive + "\n", nil
	}
	return "", fmt.Errorf("unexpected poetry subcommand %q", args[0])
}

func (f *fakeInstaller) runCount(name, subcommand string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, call := range f.runs {
		if call[0] == name && (subcommand == "" || (len(call) > 1 && call[1] == subcommand)) {
			count++
		}
	}
	return count
}

func newTestProject(t *testing.T, withLock bool) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(testPyproject), 0o644))
	if withLock {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "poetry.lock"), []byte("lock-content-1"), 0o644))
	}
	return dir
}

func newTestSession(t *testing.T, dir string, opts ...lockpin.Option) (*lockpin.Session, *fakeInstaller) {
	t.Helper()

	inst := &fakeInstaller{dir: dir}
	opts = append([]lockpin.Option{
		lockpin.WithWorkDir(dir),
		lockpin.WithCacheDir(t.TempDir()),
		lockpin.WithPython("3.12"),
	}, opts...)

	s, err := lockpin.Wrap(inst, opts...)
	require.NoError(t, err)
	return s, inst
}

func TestInstallRewritesProjectAndPinsRequirements(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Install(ctx, "pytest", "."))

	require.Len(t, inst.installs, 1)
	forwarded := inst.installs[0]

	require.NotContains(t, forwarded, ".", "the project marker must never be forwarded")

	require.True(t, strings.HasPrefix(forwarded[0], "--constraint="))
	constraints := strings.TrimPrefix(forwarded[0], "--constraint=")
	data, err := os.ReadFile(constraints)
	require.NoError(t, err)
	require.Contains(t, string(data), "pytest==7.4.0")
	require.NotContains(t, string(data), "Warning:", "export warnings must not reach the constraints file")

	require.Equal(t, "pytest", forwarded[1])
	require.True(t, strings.HasSuffix(forwarded[2], ".whl"))
	_, err = os.Stat(forwarded[2])
	require.NoError(t, err, "the forwarded archive path must exist")

	require.Contains(t, inst.runs, []string{"pip", "uninstall", "--yes", "demo"})
}

func TestInstallPreservesExtras(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	require.NoError(t, s.Install(context.Background(), ".[docs,tests]"))

	forwarded := inst.installs[0]
	require.True(t, strings.HasSuffix(forwarded[1], ".whl[docs,tests]"))
}

func TestInstallWithoutProjectSkipsBuild(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	require.NoError(t, s.Install(context.Background(), "pytest", "attrs"))

	require.Equal(t, 0, inst.runCount("poetry", "build"))
	require.Equal(t, 0, inst.runCount("pip", ""))
	require.Equal(t, 1, inst.runCount("poetry", "export"))
}

func TestInstallNoArguments(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	err := s.Install(context.Background())
	require.ErrorIs(t, err, lockpin.ErrInvalidArgument)
	require.Empty(t, inst.runs)
}

func TestExportRequirementsIdempotent(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)
	ctx := context.Background()

	first, err := s.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)

	second, err := s.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, inst.runCount("poetry", "export"))
}

func TestBuildPackageIdempotentPerFormat(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)
	ctx := context.Background()

	wheel, err := s.Poetry.BuildPackage(ctx, lockpin.Wheel)
	require.NoError(t, err)

	again, err := s.Poetry.BuildPackage(ctx, lockpin.Wheel)
	require.NoError(t, err)
	require.Equal(t, wheel, again)
	require.Equal(t, 1, inst.runCount("poetry", "build"))

	sdist, err := s.Poetry.BuildPackage(ctx, lockpin.SDist)
	require.NoError(t, err)
	require.NotEqual(t, wheel, sdist)
	require.Equal(t, 2, inst.runCount("poetry", "build"))
}

func TestInstallRootSDist(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Poetry.InstallRoot(ctx, lockpin.SDist))
	require.Equal(t, 1, inst.runCount("poetry", "build"))

	forwarded := inst.installs[0]
	require.True(t, strings.HasPrefix(forwarded[0], "--constraint="))
	require.True(t, strings.HasSuffix(forwarded[1], ".tar.gz"))

	require.NoError(t, s.Poetry.InstallRoot(ctx, lockpin.SDist))
	require.Equal(t, 1, inst.runCount("poetry", "build"), "the second install must reuse the cached archive")
}

func TestInstallRootInvalidFormat(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	err := s.Poetry.InstallRoot(context.Background(), poetry.DistributionFormat("zip"))
	require.ErrorIs(t, err, poetry.ErrUnknownFormat)
	require.Empty(t, inst.runs, "validation must happen before any subprocess")
}

func TestMissingLockFile(t *testing.T) {
	dir := newTestProject(t, false)
	s, inst := newTestSession(t, dir)

	var configErr *poetry.ConfigError
	err := s.Install(context.Background(), "pytest", ".")
	require.ErrorAs(t, err, &configErr)
	require.Empty(t, inst.runs, "the missing lock file must surface before any subprocess")
	require.Empty(t, inst.installs)
}

func TestWarm(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Poetry.Warm(ctx, lockpin.Wheel, lockpin.SDist))
	require.Equal(t, 1, inst.runCount("poetry", "export"))
	require.Equal(t, 2, inst.runCount("poetry", "build"))

	// A later install reuses every warmed artifact.
	require.NoError(t, s.Install(ctx, "pytest", "."))
	require.Equal(t, 1, inst.runCount("poetry", "export"))
	require.Equal(t, 2, inst.runCount("poetry", "build"))
}

func TestWarmInvalidFormat(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	err := s.Poetry.Warm(context.Background(), poetry.DistributionFormat("zip"))
	require.ErrorIs(t, err, poetry.ErrUnknownFormat)
	require.Empty(t, inst.runs)
}

func TestSessionsDoNotShareArtifacts(t *testing.T) {
	dir := newTestProject(t, true)
	ctx := context.Background()

	s1, inst1 := newTestSession(t, dir)
	_, err := s1.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)

	s2, inst2 := newTestSession(t, dir)
	_, err = s2.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, inst1.runCount("poetry", "export"))
	require.Equal(t, 1, inst2.runCount("poetry", "export"))
}

func TestReusedCacheDirSkipsUnchangedExport(t *testing.T) {
	dir := newTestProject(t, true)
	cacheDir := t.TempDir()
	ctx := context.Background()

	s1, inst1 := newTestSession(t, dir, lockpin.WithCacheDir(cacheDir))
	first, err := s1.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inst1.runCount("poetry", "export"))

	// Same lock file, reused environment directory: no new export.
	s2, inst2 := newTestSession(t, dir, lockpin.WithCacheDir(cacheDir))
	second, err := s2.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 0, inst2.runCount("poetry", "export"))

	// A changed lock file invalidates the on-disk artifact.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poetry.lock"), []byte("lock-content-2"), 0o644))
	s3, inst3 := newTestSession(t, dir, lockpin.WithCacheDir(cacheDir))
	_, err = s3.Poetry.ExportRequirements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inst3.runCount("poetry", "export"))
}

func TestSessionDelegatesUnhandledOperations(t *testing.T) {
	dir := newTestProject(t, true)
	s, inst := newTestSession(t, dir)

	out, err := s.Run(context.Background(), "pip", "--version")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Contains(t, inst.runs, []string{"pip", "--version"})
}

func TestInstallSkippedCommand(t *testing.T) {
	dir := newTestProject(t, true)
	inst := &skippingInstaller{}

	s, err := lockpin.Wrap(inst,
		lockpin.WithWorkDir(dir),
		lockpin.WithCacheDir(t.TempDir()),
	)
	require.NoError(t, err)

	err = s.Install(context.Background(), "pytest")
	require.ErrorIs(t, err, poetry.ErrSkipped)
	require.Empty(t, inst.installs)
}

// skippingInstaller declines to run any external command, as a dry-run
// session would.
type skippingInstaller struct {
	installs [][]string
}

func (f *skippingInstaller) Install(_ context.Context, args ...string) error {
	f.installs = append(f.installs, args)
	return nil
}

func (f *skippingInstaller) Run(context.Context, string, ...string) (string, error) {
	return "", poetry.ErrSkipped
}
