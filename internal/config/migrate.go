package config

import (
	"fmt"
	"slices"

	"github.com/schaermu/templatesync/internal/scope"
)

// Migrate converts a baseline-tracking config into the ownership shape.
//
// Literal projectSpecificFiles entries that fall under templatePaths become
// projectOverrides, seeded with their baseline hash so the next template
// change to them is detected. Glob entries cannot be overrides and are
// carried as exclusions together with the ignore lists.
func Migrate(legacy *SyncConfig, templatePaths []string) (*OwnershipConfig, error) {
	owned, err := scope.CompileSet(templatePaths)
	if err != nil {
		return nil, fmt.Errorf("templatePaths: %w", err)
	}

	out := &OwnershipConfig{
		Source:           legacy.Source,
		TemplatePaths:    slices.Clone(templatePaths),
		ProjectOverrides: []string{},
		OverrideHashes:   map[string]string{},
		Checks:           slices.Clone(legacy.Checks),
	}

	out.IgnoredFiles = append(out.IgnoredFiles, legacy.IgnoredFiles...)
	out.IgnoredFiles = append(out.IgnoredFiles, legacy.TemplateIgnoredFiles...)

	for _, p := range legacy.ProjectSpecificFiles {
		path := scope.Normalize(p)
		if HasGlobMeta(p) {
			out.IgnoredFiles = append(out.IgnoredFiles, p)
			continue
		}
		if _, ok := owned.Match(path); !ok {
			continue
		}
		out.ProjectOverrides = append(out.ProjectOverrides, path)
		if h, ok := legacy.FileHashes[path]; ok {
			out.OverrideHashes[path] = h
		}
	}

	slices.Sort(out.ProjectOverrides)
	out.ProjectOverrides = slices.Compact(out.ProjectOverrides)

	return out, nil
}

// MigrateToOwnership converts f in place. The file keeps its path and format.
func (f *File) MigrateToOwnership(templatePaths []string) error {
	if f.Kind == KindOwnership {
		return fmt.Errorf("config already uses templatePaths")
	}
	own, err := Migrate(f.Sync, templatePaths)
	if err != nil {
		return err
	}
	f.Kind = KindOwnership
	f.Ownership = own
	f.Sync = nil
	return f.Validate()
}
