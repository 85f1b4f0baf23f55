package poetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Config holds the pyproject.toml metadata that locked installs depend on.
type Config struct {
	// Name is the distribution name of the package.
	Name string
	// Extras are the optional feature sets declared for the package.
	Extras []string
	// Groups are the poetry dependency groups to export.
	Groups []string
}

type pyproject struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name            string              `toml:"name"`
			Extras          map[string][]string `toml:"extras"`
			Group           map[string]any      `toml:"group"`
			DevDependencies map[string]any      `toml:"dev-dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// LoadConfig reads and parses pyproject.toml from the given project
// directory.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, "pyproject.toml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var raw pyproject
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parsing pyproject.toml: %w", err)}
	}

	name := raw.Tool.Poetry.Name
	if name == "" {
		name = raw.Project.Name
	}
	if name == "" {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("package name not declared")}
	}

	cfg := &Config{Name: name}

	for extra := range raw.Tool.Poetry.Extras {
		cfg.Extras = append(cfg.Extras, extra)
	}
	sort.Strings(cfg.Extras)

	for group := range raw.Tool.Poetry.Group {
		cfg.Groups = append(cfg.Groups, group)
	}
	sort.Strings(cfg.Groups)

	// Handle the legacy 'dev-dependencies' table if no groups are declared.
	if len(cfg.Groups) == 0 && md.IsDefined("tool", "poetry", "dev-dependencies") {
		cfg.Groups = []string{"dev"}
	}

	return cfg, nil
}
