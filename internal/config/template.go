package config

import (
	"errors"
	"fmt"
	"os"
)

// TemplateExclusions reads the template checkout's own config, if it has
// one, and returns the globs the template author never wants propagated.
// They are merged into a run's filter and not written back to the project.
// The file is only parsed: a template's config rarely names a template of
// its own.
func TemplateExclusions(templateDir string) ([]string, error) {
	path, err := Find(templateDir)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template config: %w", err)
	}
	f, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template config %s: %w", path, err)
	}

	var out []string
	switch f.Kind {
	case KindOwnership:
		out = append(out, f.Ownership.IgnoredFiles...)
	default:
		out = append(out, f.Sync.IgnoredFiles...)
		out = append(out, f.Sync.TemplateIgnoredFiles...)
	}
	return out, nil
}
