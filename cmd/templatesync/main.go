package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schaermu/templatesync/internal/checks"
	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	projectDir     string
	logLevel       string
	logFormat      string
	sshKeyFile     string
	httpsTokenFile string

	// init flags
	initRepo        string
	initBranch      string
	initNoBootstrap bool

	// sync flags
	syncMode         string
	syncResolve      string
	syncResolvePaths []string
	dryRun           bool
	commitChanges    bool
	force            bool
	checkoutDir      string
	checkTimeout     time.Duration

	// migrate flags
	migrateTemplatePaths []string
)

// errIncomplete signals a run that finished with pending conflicts, file
// errors or failed checks.
var errIncomplete = errors.New("sync incomplete")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "templatesync",
	Short: "Keep a project in sync with the template it was created from",
	Long: `templatesync propagates changes from a template repository into a project
that was generated from it, without clobbering the project's own edits.

Each file is compared against the fingerprint recorded at the last sync, so
template-only changes apply automatically while files both sides changed are
reported as conflicts and resolved explicitly.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file for the project",
	Long: `Init writes .templatesync.yaml into the project. Unless --no-bootstrap is set,
it checks the template out and records every file the project already has
verbatim, so the first sync starts from a known baseline.`,
	RunE: runInit,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply template changes to the project",
	Long: `Sync fetches the template, classifies every difference against the recorded
baseline and applies what the mode allows:

  none  report only
  safe  apply changes that cannot lose project work (default)
  all   also resolve conflicts with --resolve / --resolve-path

Resolutions are override, skip (keep for ownership configs), merge and nothing.
The command exits non-zero when conflicts stay pending or a file failed.`,
	RunE: runSync,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a baseline config to the ownership model",
	Long: `Migrate rewrites the project config to declare which paths the template
owns. Literal projectSpecificFiles under those paths become overrides with their
recorded hashes; glob entries and ignore lists become ignoredFiles.`,
	RunE: runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("templatesync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&sshKeyFile, "ssh-key-file", "", "SSH key used to fetch the template")
	rootCmd.PersistentFlags().StringVar(&httpsTokenFile, "https-token-file", "", "file holding an HTTPS token used to fetch the template")

	initCmd.Flags().StringVar(&initRepo, "repo", "", "template repository location (required)")
	initCmd.Flags().StringVar(&initBranch, "branch", config.DefaultBranch, "template branch")
	initCmd.Flags().BoolVar(&initNoBootstrap, "no-bootstrap", false, "write the config without checking the template out")
	_ = initCmd.MarkFlagRequired("repo")

	syncCmd.Flags().StringVar(&syncMode, "mode", string(sync.ModeSafe), "which changes to apply (none, safe, all)")
	syncCmd.Flags().StringVar(&syncResolve, "resolve", string(sync.ResolveNothing), "default conflict resolution (override, skip, keep, merge, nothing)")
	syncCmd.Flags().StringArrayVar(&syncResolvePaths, "resolve-path", nil, "per-path resolution as path=resolution (repeatable)")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&commitChanges, "commit", false, "commit the synced files and config")
	syncCmd.Flags().BoolVar(&force, "force", false, "sync even when the working tree has uncommitted changes")
	syncCmd.Flags().StringVar(&checkoutDir, "checkout-dir", "", "keep the template checkout in this directory between runs")
	syncCmd.Flags().DurationVar(&checkTimeout, "check-timeout", checks.DefaultTimeout, "timeout for each configured check command")

	migrateCmd.Flags().StringSliceVar(&migrateTemplatePaths, "template-path", nil, "glob of a template-owned path (repeatable, required)")
	_ = migrateCmd.MarkFlagRequired("template-path")

	// Add commands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	_, err := sync.Init(ctx, sync.InitOptions{
		ProjectDir: projectDir,
		Repo:       initRepo,
		Branch:     initBranch,
		Bootstrap:  !initNoBootstrap,
	}, git.NewShellClient(sshKeyFile, httpsTokenFile), logger)
	if err != nil {
		logger.Error("init failed", "error", err)
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	opts, err := syncOptions()
	if err != nil {
		return err
	}

	gitClient := git.NewShellClient(sshKeyFile, httpsTokenFile)
	runner := checks.NewShellRunner(checkTimeout, logger)
	engine := sync.NewEngine(opts, gitClient, runner, logger)

	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	printReport(cmd, report)
	if !report.OK() {
		return errIncomplete
	}
	return nil
}

// syncOptions builds engine options from the sync flags.
func syncOptions() (sync.RunOptions, error) {
	mode, err := sync.ParseMode(syncMode)
	if err != nil {
		return sync.RunOptions{}, err
	}
	def, err := sync.ParseResolution(syncResolve)
	if err != nil {
		return sync.RunOptions{}, err
	}
	paths, err := sync.ParsePathResolutions(syncResolvePaths)
	if err != nil {
		return sync.RunOptions{}, err
	}

	return sync.RunOptions{
		ProjectDir:  projectDir,
		Mode:        mode,
		Resolutions: sync.Policy{Default: def, Paths: paths},
		DryRun:      dryRun,
		Commit:      commitChanges,
		Force:       force,
		CheckoutDir: checkoutDir,
	}, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	f, err := config.LoadProject(projectDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := f.MigrateToOwnership(migrateTemplatePaths); err != nil {
		return fmt.Errorf("failed to migrate config: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	logger.Info("migrated config",
		"path", f.Path,
		"template_paths", f.Ownership.TemplatePaths,
		"overrides", len(f.Ownership.ProjectOverrides))
	return nil
}

// printReport writes a short human summary after the structured logs.
func printReport(cmd *cobra.Command, r *sync.Report) {
	out := cmd.OutOrStdout()
	prefix := ""
	if r.DryRun {
		prefix = "[dry-run] "
	}
	_, _ = fmt.Fprintf(out, "%sapplied %d, recorded %d, skipped %d, pending %d, errors %d\n",
		prefix, r.Applied, r.Recorded, r.Skipped, r.Pending, r.Errored)
	for _, fe := range r.Errors {
		_, _ = fmt.Fprintf(out, "  error: %v\n", fe)
	}
	for _, a := range r.Actions {
		if a.Kind == sync.ActionPending {
			_, _ = fmt.Fprintf(out, "  conflict: %s (%s)\n", a.Path, a.Reason)
		}
	}
	if r.ChecksErr != nil {
		_, _ = fmt.Fprintf(out, "  checks failed: %v\n", r.ChecksErr)
	}
	if r.Commit != "" {
		_, _ = fmt.Fprintf(out, "committed %s\n", r.Commit)
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
