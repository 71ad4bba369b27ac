package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/hashstore"
	"github.com/schaermu/templatesync/internal/scope"
	"github.com/schaermu/templatesync/internal/tree"
)

// InitOptions configures Init.
type InitOptions struct {
	ProjectDir string
	Repo       string
	Branch     string
	// Bootstrap checks the template out, records every file the project
	// already has verbatim as baseline, and marks the template head as the
	// last sync. Later differences in files the template already had then
	// surface as conflicts instead of being overwritten.
	Bootstrap bool
	Now       func() time.Time
}

// Init writes a new baseline-tracking config into the project.
func Init(ctx context.Context, opts InitOptions, gitClient git.Client, logger *slog.Logger) (*config.File, error) {
	if existing, err := config.Find(opts.ProjectDir); err == nil {
		return nil, fmt.Errorf("config already exists: %s", existing)
	} else if !errors.Is(err, config.ErrNotFound) {
		return nil, err
	}

	f := config.NewSyncFile(filepath.Join(opts.ProjectDir, config.FileName), opts.Repo, opts.Branch)
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Bootstrap {
		if err := bootstrap(ctx, f, opts, gitClient, logger); err != nil {
			return nil, err
		}
	}

	if err := f.Save(); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	logger.Info("wrote config", "path", f.Path, "baseline_entries", len(f.Sync.FileHashes))
	return f, nil
}

func bootstrap(ctx context.Context, f *config.File, opts InitOptions, gitClient git.Client, logger *slog.Logger) error {
	tmp, err := os.MkdirTemp("", "templatesync-init-*")
	if err != nil {
		return fmt.Errorf("failed to create checkout directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	src := f.Source()
	checkoutDir := filepath.Join(tmp, "template")
	commit, err := gitClient.EnsureCheckout(ctx, src.RepoLocation(), src.Branch(), checkoutDir)
	if err != nil {
		return fmt.Errorf("failed to checkout template: %w", err)
	}
	logger.Info("template checked out", "commit", commit)

	exclusions, err := config.TemplateExclusions(checkoutDir)
	if err != nil {
		return fmt.Errorf("failed to read template config: %w", err)
	}
	filter, err := scope.New(scope.Rules{Internal: config.InternalPatterns(), TemplateIgnored: exclusions})
	if err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}

	cmp, err := tree.Diff(ctx, checkoutDir, opts.ProjectDir)
	if err != nil {
		return fmt.Errorf("failed to compare template and project: %w", err)
	}

	patch := hashstore.NewPatch()
	for _, id := range cmp.Identical {
		if !filter.Skip(id.Path) {
			patch.Set(id.Path, id.Fingerprint)
		}
	}
	f.Sync.ApplyBaseline(patch)

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	src.MarkSynced(commit, now())
	return nil
}
