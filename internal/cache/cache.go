// Package cache memoizes the artifacts a session produces: the exported
// constraints file and the built distribution archives.
package cache

import (
	"log/slog"
	"sync"
)

// Key identifies the project state an artifact was produced from. Distinct
// keys never share an artifact; an identical key within one session reuses
// the artifact produced earlier.
type Key struct {
	// WorkDir is the project directory the artifact was produced for.
	WorkDir string
	// LockDigest fingerprints the lock file content. It is empty for
	// build artifacts, which do not read the lock file.
	LockDigest string
	// Python identifies the interpreter of the session.
	Python string
}

type buildKey struct {
	key    Key
	format string
}

// Cache is the per-session artifact store. Each session owns exactly one
// Cache; nothing is shared across sessions or processes.
type Cache struct {
	dir string

	exportMu sync.Mutex
	exports  map[Key]string

	buildMu sync.Mutex
	builds  map[buildKey]string
}

// New returns an empty cache whose artifact files live under dir.
func New(dir string) *Cache {
	return &Cache{
		dir:     dir,
		exports: make(map[Key]string),
		builds:  make(map[buildKey]string),
	}
}

// Dir returns the directory artifact files are written to.
func (c *Cache) Dir() string {
	return c.dir
}

// GetOrExport returns the constraints artifact for key, invoking produce at
// most once per key. The export lock is held while produce runs, so
// concurrent callers for the same kind of artifact serialize and the
// at-most-once guarantee holds.
func (c *Cache) GetOrExport(key Key, produce func() (string, error)) (string, error) {
	c.exportMu.Lock()
	defer c.exportMu.Unlock()

	if path, ok := c.exports[key]; ok {
		slog.Debug("constraints cache hit", "path", path)
		return path, nil
	}

	path, err := produce()
	if err != nil {
		return "", err
	}

	c.exports[key] = path
	return path, nil
}

// GetOrBuild returns the distribution artifact for (key, format), invoking
// produce at most once per entry.
func (c *Cache) GetOrBuild(key Key, format string, produce func() (string, error)) (string, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	bk := buildKey{key: key, format: format}
	if path, ok := c.builds[bk]; ok {
		slog.Debug("build cache hit", "path", path, "format", format)
		return path, nil
	}

	path, err := produce()
	if err != nil {
		return "", err
	}

	c.builds[bk] = path
	return path, nil
}
