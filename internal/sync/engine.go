// Package sync applies template changes to a project: it executes
// classification results and orchestrates a complete run.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/templatesync/internal/checks"
	"github.com/schaermu/templatesync/internal/classify"
	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/ownership"
	"github.com/schaermu/templatesync/internal/scope"
	"github.com/schaermu/templatesync/internal/tree"
)

// ErrDirtyWorktree is returned when the project has uncommitted changes
// and the run would write to it.
var ErrDirtyWorktree = errors.New("project working tree has uncommitted changes (use --force to sync anyway)")

// RunOptions configures an Engine.
type RunOptions struct {
	ProjectDir  string
	Mode        Mode
	Resolutions Policy
	DryRun      bool
	// Commit commits the touched files and the config after a successful run.
	Commit bool
	// Force skips the clean working tree check.
	Force bool
	// CheckoutDir keeps the template checkout between runs. Empty means a
	// scratch directory that is removed afterwards.
	CheckoutDir string
	Now         func() time.Time
}

// Engine orchestrates the sync process
type Engine struct {
	opts   RunOptions
	git    git.Client
	checks checks.Runner
	logger *slog.Logger
}

// NewEngine creates a new sync engine
func NewEngine(opts RunOptions, gitClient git.Client, runner checks.Runner, logger *slog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:   opts,
		git:    gitClient,
		checks: runner,
		logger: logger,
	}
}

// writes reports whether the run may touch the project at all.
func (e *Engine) writes() bool {
	return !e.opts.DryRun && e.opts.Mode != ModeNone
}

// Run executes the complete sync process
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	lock, err := acquireLock(e.opts.ProjectDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Unlock()
	}()

	cfg, err := config.LoadProject(e.opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	src := cfg.Source()

	e.logger.Info("starting sync",
		"template", src.RepoLocation(),
		"branch", src.Branch(),
		"kind", cfg.Kind,
		"mode", e.opts.Mode,
		"dry_run", e.opts.DryRun)

	if e.writes() && !e.opts.Force {
		clean, err := e.git.IsClean(ctx, e.opts.ProjectDir)
		if err != nil {
			return nil, fmt.Errorf("failed to check working tree: %w", err)
		}
		if !clean {
			return nil, ErrDirtyWorktree
		}
	}

	checkoutDir, cleanup, err := e.prepareCheckoutDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	e.logger.Info("fetching template", "dest", checkoutDir)
	commit, err := e.git.EnsureCheckout(ctx, src.RepoLocation(), src.Branch(), checkoutDir)
	if err != nil {
		return nil, fmt.Errorf("failed to checkout template: %w", err)
	}
	e.logger.Info("template checked out", "commit", commit)

	exclusions, err := config.TemplateExclusions(checkoutDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template config: %w", err)
	}

	cmp, err := tree.Diff(ctx, checkoutDir, e.opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to compare template and project: %w", err)
	}

	report := &Report{
		Kind:           cfg.Kind,
		Mode:           e.opts.Mode,
		DryRun:         !e.writes(),
		TemplateCommit: commit,
	}
	execOpts := Options{
		TemplateDir: checkoutDir,
		ProjectDir:  e.opts.ProjectDir,
		Mode:        e.opts.Mode,
		Resolutions: e.opts.Resolutions,
		DryRun:      !e.writes(),
		Logger:      e.logger,
	}

	var outcome *Outcome
	switch cfg.Kind {
	case config.KindOwnership:
		outcome, err = e.runOwnership(cfg.Ownership, exclusions, cmp, execOpts, report)
	default:
		outcome, err = e.runBaseline(ctx, cfg.Sync, checkoutDir, exclusions, cmp, execOpts, report)
	}
	if err != nil {
		return nil, err
	}
	report.addOutcome(outcome)

	if !e.writes() {
		e.logPlanDetails(outcome)
		e.logger.Info("dry-run complete, no changes applied")
		return report, nil
	}
	e.logOutcome(outcome)

	switch cfg.Kind {
	case config.KindOwnership:
		outcome.Ownership.Apply(cfg.Ownership)
	default:
		cfg.Sync.ApplyBaseline(outcome.Baseline)
	}

	if outcome.Complete() {
		if src.LastSyncCommit != commit {
			src.MarkSynced(commit, e.opts.Now().UTC())
			report.Advanced = true
		}
	} else {
		e.logger.Warn("sync incomplete, keeping last sync commit",
			"pending", len(outcome.Pending),
			"errors", len(outcome.Errors))
	}

	touched := outcome.Touched()
	if len(touched) > 0 {
		report.ChecksErr = e.runChecks(ctx, cfg.Checks())
	}

	if err := cfg.Save(); err != nil {
		return report, fmt.Errorf("failed to save config: %w", err)
	}

	if e.opts.Commit {
		if err := e.commit(ctx, cfg, touched, report); err != nil {
			return report, err
		}
	}

	e.logger.Info("sync completed",
		"applied", report.Applied,
		"errors", report.Errored,
		"pending", report.Pending,
		"commit", report.Commit)
	return report, nil
}

// runBaseline classifies and executes under the baseline model.
func (e *Engine) runBaseline(ctx context.Context, cfg *config.SyncConfig, checkoutDir string, exclusions []string, cmp *tree.Comparison, opts Options, report *Report) (*Outcome, error) {
	filter, err := scope.New(scope.Rules{
		Internal:        config.InternalPatterns(),
		Ignored:         cfg.IgnoredFiles,
		ProjectSpecific: cfg.ProjectSpecificFiles,
		TemplateIgnored: append(append([]string(nil), cfg.TemplateIgnoredFiles...), exclusions...),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	baseline := cfg.Baseline()
	result := classify.Classify(cmp.Changes, classify.Input{
		Baseline: baseline,
		Filter:   filter,
		History:  e.history(ctx, checkoutDir, cfg.LastSyncCommit),
	})

	e.logger.Info("sync plan",
		"safe", len(result.Safe),
		"conflicts", len(result.Conflicts),
		"project_only", len(result.ProjectOnly),
		"skipped", len(result.Skipped))
	report.Classified = map[string]int{
		string(classify.Safe):        len(result.Safe),
		string(classify.Conflict):    len(result.Conflicts),
		string(classify.ProjectOnly): len(result.ProjectOnly),
		string(classify.Skipped):     len(result.Skipped),
	}
	report.Skipped = len(result.ProjectOnly) + len(result.Skipped)

	plan := Plan{Result: result, Baseline: baseline}
	present := make(map[string]bool, len(cmp.Changes)+len(cmp.Identical))
	for _, c := range cmp.Changes {
		present[c.Path] = true
	}
	for _, id := range cmp.Identical {
		present[id.Path] = true
		if !filter.Skip(id.Path) {
			plan.Identical = append(plan.Identical, id)
		}
	}
	for path := range cfg.FileHashes {
		if !present[path] {
			plan.Stale = append(plan.Stale, path)
		}
	}

	return Execute(plan, opts), nil
}

// runOwnership classifies and executes under the ownership model.
func (e *Engine) runOwnership(cfg *config.OwnershipConfig, exclusions []string, cmp *tree.Comparison, opts Options, report *Report) (*Outcome, error) {
	rules, err := ownership.NewRules(cfg, config.InternalPatterns(), exclusions)
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}

	result := ownership.Classify(cmp, rules)

	e.logger.Info("sync plan",
		"copy", len(result.ToCopy),
		"delete", len(result.ToDelete),
		"conflicts", len(result.Conflicts),
		"diverged", len(result.Diverged),
		"unchanged", len(result.Unchanged),
		"excluded", len(result.Excluded))
	report.Classified = map[string]int{
		string(ownership.Copy):      len(result.ToCopy),
		string(ownership.Delete):    len(result.ToDelete),
		string(ownership.Conflict):  len(result.Conflicts),
		string(ownership.Diverged):  len(result.Diverged),
		string(ownership.Unchanged): len(result.Unchanged),
		string(ownership.Excluded):  len(result.Excluded),
	}
	report.Skipped = len(result.Excluded)

	return ExecuteOwnership(result, opts), nil
}

// history answers which paths the template had at the last sync commit.
func (e *Engine) history(ctx context.Context, checkoutDir, lastCommit string) classify.History {
	if lastCommit == "" {
		return classify.NoHistory
	}

	files, err := e.git.ListFiles(ctx, checkoutDir, lastCommit)
	if err != nil {
		e.logger.Warn("last sync commit not found in template history, treating template files as pre-existing",
			"commit", lastCommit,
			"error", err)
		return classify.UnknownHistory
	}

	existed := make(map[string]bool, len(files))
	for _, f := range files {
		existed[f] = true
	}
	return classify.HistoryFunc(func(path string) bool { return existed[path] })
}

// prepareCheckoutDir returns the template checkout directory and its cleanup.
func (e *Engine) prepareCheckoutDir() (string, func(), error) {
	if e.opts.CheckoutDir != "" {
		return e.opts.CheckoutDir, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "templatesync-checkout-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create checkout directory: %w", err)
	}
	checkoutDir := filepath.Join(dir, "template")
	return checkoutDir, func() {
		_ = os.RemoveAll(dir)
	}, nil
}

// runChecks runs the configured validation commands in the project.
func (e *Engine) runChecks(ctx context.Context, commands []string) error {
	if len(commands) == 0 || e.checks == nil {
		return nil
	}

	e.logger.Info("running checks", "count", len(commands))
	if err := e.checks.Run(ctx, e.opts.ProjectDir, commands); err != nil {
		e.logger.Error("checks failed", "error", err)
		return err
	}
	return nil
}

// commit records the touched files and the config in the project repository.
func (e *Engine) commit(ctx context.Context, cfg *config.File, touched []string, report *Report) error {
	if report.ChecksErr != nil {
		e.logger.Warn("checks failed, leaving changes uncommitted")
		return nil
	}

	rel, err := filepath.Rel(e.opts.ProjectDir, cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	paths := append(touched, filepath.ToSlash(rel))

	hash, err := e.git.Commit(ctx, e.opts.ProjectDir, commitMessage(cfg.Source(), report.TemplateCommit), paths)
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	if hash != "" {
		e.logger.Info("committed sync", "commit", hash)
	}
	report.Commit = hash
	return nil
}

func commitMessage(src *config.Source, commit string) string {
	short := commit
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("chore: sync template %s@%s", src.Branch(), short)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(outcome *Outcome) {
	for _, a := range outcome.Actions {
		e.logger.Info("[dry-run] would "+string(a.Kind),
			"path", a.Path,
			"bucket", a.Bucket,
			"resolution", a.Resolution,
			"reason", a.Reason)
	}
}

// logOutcome logs what a real run did.
func (e *Engine) logOutcome(outcome *Outcome) {
	for _, a := range outcome.Actions {
		level := slog.LevelInfo
		if a.Kind == ActionPending {
			level = slog.LevelWarn
		}
		e.logger.Log(context.Background(), level, string(a.Kind),
			"path", a.Path,
			"bucket", a.Bucket,
			"resolution", a.Resolution,
			"reason", a.Reason)
	}
}
