package tree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/templatesync/internal/hashstore"
)

// Status describes how a path differs between template and project.
type Status string

const (
	// Added: present in the template, absent from the project.
	Added Status = "added"
	// Modified: present in both with different content.
	Modified Status = "modified"
	// Deleted: present in the project, absent from the template.
	Deleted Status = "deleted"
	// Clash: a file on one side, a directory on the other. The fingerprint
	// of the directory side is Missing.
	Clash Status = "clash"
)

// FileChange is one differing path, with both fingerprints computed while
// diffing so classification never touches the disk.
type FileChange struct {
	Path                string
	Status              Status
	TemplateFingerprint string
	ProjectFingerprint  string
}

// Identical is a path whose template and project content match.
type Identical struct {
	Path        string
	Fingerprint string
}

// Comparison is the result of diffing a template checkout against a project.
type Comparison struct {
	Changes   []FileChange
	Identical []Identical
}

// Fingerprints holds both sides' fingerprints for one path.
type Fingerprints struct {
	Template string
	Project  string
	// Clash is set when one side is a directory.
	Clash bool
}

// Diff compares every file found in either tree. Fingerprints are computed
// directly on both sides, so a file hidden by one tree's .gitignore is still
// compared correctly. Output is sorted by path.
func Diff(ctx context.Context, templateDir, projectDir string) (*Comparison, error) {
	templateFiles, err := Walk(templateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk template: %w", err)
	}
	projectFiles, err := Walk(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}

	paths := union(templateFiles, projectFiles)
	fps, err := FingerprintAll(ctx, templateDir, projectDir, paths)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{}
	for i, path := range paths {
		fp := fps[i]
		switch {
		case fp.Clash:
			cmp.Changes = append(cmp.Changes, FileChange{
				Path:                path,
				Status:              Clash,
				TemplateFingerprint: fp.Template,
				ProjectFingerprint:  fp.Project,
			})
		case fp.Template == fp.Project:
			if fp.Template != hashstore.Missing {
				cmp.Identical = append(cmp.Identical, Identical{Path: path, Fingerprint: fp.Template})
			}
		case fp.Project == hashstore.Missing:
			cmp.Changes = append(cmp.Changes, FileChange{Path: path, Status: Added, TemplateFingerprint: fp.Template})
		case fp.Template == hashstore.Missing:
			cmp.Changes = append(cmp.Changes, FileChange{Path: path, Status: Deleted, ProjectFingerprint: fp.Project})
		default:
			cmp.Changes = append(cmp.Changes, FileChange{
				Path:                path,
				Status:              Modified,
				TemplateFingerprint: fp.Template,
				ProjectFingerprint:  fp.Project,
			})
		}
	}

	return cmp, nil
}

// FingerprintAll fingerprints paths under both roots on a bounded worker
// pool. Result i belongs to paths[i]. A directory on either side marks the
// result as a clash instead of failing the batch.
func FingerprintAll(ctx context.Context, templateDir, projectDir string, paths []string) ([]Fingerprints, error) {
	out := make([]Fingerprints, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			native := filepath.FromSlash(path)
			tfp, tdir, err := fingerprint(filepath.Join(templateDir, native))
			if err != nil {
				return fmt.Errorf("failed to fingerprint template %s: %w", path, err)
			}
			pfp, pdir, err := fingerprint(filepath.Join(projectDir, native))
			if err != nil {
				return fmt.Errorf("failed to fingerprint project %s: %w", path, err)
			}
			out[i] = Fingerprints{Template: tfp, Project: pfp, Clash: tdir || pdir}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func fingerprint(path string) (fp string, dir bool, err error) {
	fp, err = hashstore.Fingerprint(path)
	if errors.Is(err, hashstore.ErrDirectory) {
		return hashstore.Missing, true, nil
	}
	return fp, false, err
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
