package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded is the outcome of a config load: where the file was looked
// for, what came out of it, and any non-fatal warnings.
type Loaded struct {
	Path   string
	Config Config

	// Warnings are replayed to the user once per invocation.
	Warnings []Warning
	Exists   bool
}

// Load reads and validates the config file at the resolved location.
// A missing file is not an error: the daemon runs on defaults, and the
// validation warnings tell the user which upstreams are disabled.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return loadDefaults(path)
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, warnings, err := Parse(string(content), Default())
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	return Loaded{Path: path, Config: cfg, Warnings: warnings, Exists: true}, nil
}

func loadDefaults(path string) (Loaded, error) {
	cfg := Default()
	warnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, err
	}

	notFound := Warning{Message: fmt.Sprintf("config file %q not found; using defaults", path)}
	return Loaded{
		Path:     path,
		Config:   cfg,
		Warnings: append([]Warning{notFound}, warnings...),
		Exists:   false,
	}, nil
}
