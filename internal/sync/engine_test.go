package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/templatesync/internal/checks"
	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockRunner implements checks.Runner for testing.
type mockRunner struct {
	err      error
	called   bool
	commands []string
}

func (m *mockRunner) Run(_ context.Context, _ string, commands []string) error {
	m.called = true
	m.commands = commands
	return m.err
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

// setupRepos creates a template repository and a project repository whose
// committed config points at it. extraConfig is appended to the config.
func setupRepos(t *testing.T, template, project map[string]string, extraConfig string) (string, string) {
	t.Helper()
	testutil.RequireGit(t)

	tmpl := filepath.Join(t.TempDir(), "template")
	testutil.InitRepo(t, tmpl, "main")
	testutil.CommitTree(t, tmpl, template, "template")

	proj := filepath.Join(t.TempDir(), "project")
	testutil.InitRepo(t, proj, "main")
	files := map[string]string{
		config.FileName: fmt.Sprintf("templateRepoLocation: %q\ntemplateBranch: main\n%s", tmpl, extraConfig),
	}
	for k, v := range project {
		files[k] = v
	}
	testutil.CommitTree(t, proj, files, "initial")

	return tmpl, proj
}

func newTestEngine(proj string, runner checks.Runner, opts RunOptions) *Engine {
	opts.ProjectDir = proj
	if opts.Mode == "" {
		opts.Mode = ModeSafe
	}
	opts.Now = fixedNow
	return NewEngine(opts, git.NewShellClient("", ""), runner, testLogger())
}

func loadConfig(t *testing.T, proj string) *config.File {
	t.Helper()
	f, err := config.LoadProject(proj)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRun_FirstSync(t *testing.T) {
	tmpl, proj := setupRepos(t,
		map[string]string{"README.md": "hello", "src/a.ts": "a"},
		map[string]string{"src/a.ts": "a", "main.go": "package main"},
		"")

	report, err := newTestEngine(proj, nil, RunOptions{Commit: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Applied != 1 || !report.OK() || !report.Advanced {
		t.Errorf("unexpected report: %+v", report)
	}
	if testutil.ReadFile(t, proj, "README.md") != "hello" {
		t.Error("new template file not copied")
	}

	cfg := loadConfig(t, proj)
	if cfg.Sync.FileHashes["README.md"] != fp("hello") || cfg.Sync.FileHashes["src/a.ts"] != fp("a") {
		t.Errorf("baseline = %v", cfg.Sync.FileHashes)
	}
	if _, ok := cfg.Sync.FileHashes["main.go"]; ok {
		t.Error("project-only file must not get a baseline")
	}
	if want := testutil.Git(t, tmpl, "rev-parse", "HEAD"); cfg.Sync.LastSyncCommit != want {
		t.Errorf("lastSyncCommit = %q, want %q", cfg.Sync.LastSyncCommit, want)
	}
	if cfg.Sync.LastSyncDate == nil || !cfg.Sync.LastSyncDate.Equal(fixedNow()) {
		t.Errorf("lastSyncDate = %v", cfg.Sync.LastSyncDate)
	}

	if report.Commit == "" {
		t.Fatal("expected a commit")
	}
	if msg := testutil.Git(t, proj, "log", "-1", "--format=%s"); !strings.Contains(msg, "sync template main@") {
		t.Errorf("commit message = %q", msg)
	}
	if status := testutil.Git(t, proj, "status", "--porcelain"); status != "" {
		t.Errorf("worktree not clean after commit:\n%s", status)
	}
}

func TestRun_Idempotent(t *testing.T) {
	_, proj := setupRepos(t,
		map[string]string{"README.md": "hello", "ci.yml": "jobs"},
		nil, "")

	if _, err := newTestEngine(proj, nil, RunOptions{Commit: true}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	head := testutil.Git(t, proj, "rev-parse", "HEAD")

	report, err := newTestEngine(proj, nil, RunOptions{Commit: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Applied != 0 || report.Commit != "" {
		t.Errorf("second run changed something: %+v", report)
	}
	if got := testutil.Git(t, proj, "rev-parse", "HEAD"); got != head {
		t.Error("second run created a commit")
	}
}

func TestRun_ConflictKeepsCommitPointer(t *testing.T) {
	tmpl, proj := setupRepos(t, map[string]string{"README.md": "v1"}, nil, "")
	ctx := context.Background()

	if _, err := newTestEngine(proj, nil, RunOptions{Commit: true}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	firstSync := loadConfig(t, proj).Sync.LastSyncCommit

	testutil.CommitTree(t, tmpl, map[string]string{"README.md": "v2"}, "template update")
	testutil.CommitTree(t, proj, map[string]string{"README.md": "custom"}, "customize")

	report, err := newTestEngine(proj, nil, RunOptions{Commit: true}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Pending != 1 || report.Advanced || report.OK() {
		t.Errorf("expected a pending conflict: %+v", report)
	}
	if got := loadConfig(t, proj).Sync.LastSyncCommit; got != firstSync {
		t.Errorf("commit pointer advanced to %q with a pending conflict", got)
	}

	report, err = newTestEngine(proj, nil, RunOptions{
		Mode:        ModeAll,
		Commit:      true,
		Resolutions: Policy{Default: ResolveSkip},
	}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || !report.Advanced {
		t.Errorf("skip should resolve the conflict: %+v", report)
	}
	if testutil.ReadFile(t, proj, "README.md") != "custom" {
		t.Error("skip must keep the project version")
	}

	report, err = newTestEngine(proj, nil, RunOptions{}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Classified["project-only"] != 1 || report.Pending != 0 {
		t.Errorf("expected README.md to be project-only now: %+v", report.Classified)
	}
}

func TestRun_DryRun(t *testing.T) {
	_, proj := setupRepos(t, map[string]string{"README.md": "hello"}, nil, "")
	before := testutil.ReadFile(t, proj, config.FileName)

	report, err := newTestEngine(proj, nil, RunOptions{DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !report.DryRun || report.Applied != 1 {
		t.Errorf("dry run should report the planned write: %+v", report)
	}
	if testutil.Exists(t, proj, "README.md") {
		t.Error("dry run wrote a file")
	}
	if testutil.ReadFile(t, proj, config.FileName) != before {
		t.Error("dry run rewrote the config")
	}
}

func TestRun_DirtyWorktree(t *testing.T) {
	_, proj := setupRepos(t, map[string]string{"README.md": "hello"}, nil, "")
	testutil.WriteTree(t, proj, map[string]string{"scratch.txt": "wip"})

	_, err := newTestEngine(proj, nil, RunOptions{}).Run(context.Background())
	if !errors.Is(err, ErrDirtyWorktree) {
		t.Fatalf("expected ErrDirtyWorktree, got %v", err)
	}

	if _, err := newTestEngine(proj, nil, RunOptions{DryRun: true}).Run(context.Background()); err != nil {
		t.Errorf("dry run should not need a clean tree: %v", err)
	}
	if _, err := newTestEngine(proj, nil, RunOptions{Force: true}).Run(context.Background()); err != nil {
		t.Errorf("force should skip the clean check: %v", err)
	}
}

func TestRun_Locked(t *testing.T) {
	_, proj := setupRepos(t, map[string]string{"README.md": "hello"}, nil, "")

	lock, err := acquireLock(proj)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if _, err := newTestEngine(proj, nil, RunOptions{}).Run(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if status := testutil.Git(t, proj, "status", "--porcelain"); status != "" {
		t.Errorf("lock file leaked into the working tree:\n%s", status)
	}
}

func TestRun_ConfigNotFound(t *testing.T) {
	testutil.RequireGit(t)
	proj := t.TempDir()

	_, err := newTestEngine(proj, nil, RunOptions{}).Run(context.Background())
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected config.ErrNotFound, got %v", err)
	}
}

func TestRun_ChecksFailPreventCommit(t *testing.T) {
	_, proj := setupRepos(t, map[string]string{"README.md": "hello"}, nil, "checks:\n  - make lint\n")
	head := testutil.Git(t, proj, "rev-parse", "HEAD")
	runner := &mockRunner{err: errors.New("lint failed")}

	report, err := newTestEngine(proj, runner, RunOptions{Commit: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !runner.called || len(runner.commands) != 1 || runner.commands[0] != "make lint" {
		t.Errorf("checks not run as configured: %+v", runner)
	}
	if report.ChecksErr == nil || report.OK() {
		t.Errorf("expected failed checks in report: %+v", report)
	}
	if report.Commit != "" || testutil.Git(t, proj, "rev-parse", "HEAD") != head {
		t.Error("failed checks must prevent the commit")
	}
	if testutil.ReadFile(t, proj, "README.md") != "hello" {
		t.Error("changes stay in the working tree")
	}
}

func TestRun_ChecksSkippedWithoutChanges(t *testing.T) {
	_, proj := setupRepos(t, map[string]string{"README.md": "hello"}, map[string]string{"README.md": "hello"}, "checks:\n  - make lint\n")
	runner := &mockRunner{}

	if _, err := newTestEngine(proj, runner, RunOptions{}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runner.called {
		t.Error("checks should only run when files changed")
	}
}

func TestRun_UnknownLastSyncCommit(t *testing.T) {
	_, proj := setupRepos(t,
		map[string]string{"README.md": "template"},
		map[string]string{"README.md": "project"},
		"lastSyncCommit: 0123456789abcdef0123456789abcdef01234567\n")

	report, err := newTestEngine(proj, nil, RunOptions{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Classified["conflict"] != 1 {
		t.Errorf("unknown history must err toward conflicts: %+v", report.Classified)
	}
	if testutil.ReadFile(t, proj, "README.md") != "project" {
		t.Error("project file overwritten")
	}
}

func TestRun_UnknownLastSyncCommitKeepsProjectFiles(t *testing.T) {
	_, proj := setupRepos(t,
		map[string]string{"README.md": "template"},
		map[string]string{"README.md": "project", "src/app.go": "package app"},
		"lastSyncCommit: 0123456789abcdef0123456789abcdef01234567\n")

	report, err := newTestEngine(proj, nil, RunOptions{
		Mode:        ModeAll,
		Resolutions: Policy{Default: ResolveOverride},
	}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !testutil.Exists(t, proj, "src/app.go") {
		t.Fatal("a file that was never in the template must not be removed")
	}
	if testutil.ReadFile(t, proj, "README.md") != "template" {
		t.Error("override should still apply to files the template has")
	}
	for _, a := range report.Actions {
		if a.Path == "src/app.go" {
			t.Errorf("unexpected action on project-only file: %+v", a)
		}
	}
}

func TestRun_TemplateExclusions(t *testing.T) {
	_, proj := setupRepos(t,
		map[string]string{
			"README.md":                "hello",
			".github/workflows/ci.yml": "on: push",
			config.FileName:            "templateIgnoredFiles:\n  - .github/**\n",
			"docs/template-only/a.md":  "x",
		},
		nil,
		"ignoredFiles:\n  - docs/**\n")

	report, err := newTestEngine(proj, nil, RunOptions{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !testutil.Exists(t, proj, "README.md") {
		t.Error("README.md should be synced")
	}
	if testutil.Exists(t, proj, ".github/workflows/ci.yml") {
		t.Error("template-ignored file was synced")
	}
	if testutil.Exists(t, proj, "docs/template-only/a.md") {
		t.Error("ignored file was synced")
	}
	if report.Classified["skipped"] != 3 {
		t.Errorf("skipped = %d, want 3 (two exclusions and the template's config)", report.Classified["skipped"])
	}
	cfg := loadConfig(t, proj)
	if len(cfg.Sync.TemplateIgnoredFiles) != 0 {
		t.Error("template exclusions must not be written back")
	}
}

func TestRun_Ownership(t *testing.T) {
	_, proj := setupRepos(t,
		map[string]string{"src/a.ts": "a", "src/b.ts": "template-b", "README.md": "hi"},
		map[string]string{"src/b.ts": "custom-b", "src/stale.ts": "old"},
		"templatePaths:\n  - src/**\n")

	report, err := newTestEngine(proj, nil, RunOptions{
		Mode:        ModeAll,
		Commit:      true,
		Resolutions: Policy{Default: ResolveKeep},
	}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !report.OK() || report.Kind != config.KindOwnership {
		t.Errorf("unexpected report: %+v", report)
	}
	if testutil.ReadFile(t, proj, "src/a.ts") != "a" {
		t.Error("owned file not copied")
	}
	if testutil.Exists(t, proj, "src/stale.ts") {
		t.Error("owned file missing from the template not deleted")
	}
	if testutil.ReadFile(t, proj, "src/b.ts") != "custom-b" {
		t.Error("keep must preserve the project version")
	}
	if testutil.Exists(t, proj, "README.md") {
		t.Error("paths outside templatePaths must not sync")
	}

	cfg := loadConfig(t, proj)
	if !cfg.Ownership.IsOverride("src/b.ts") || cfg.Ownership.OverrideHashes["src/b.ts"] != fp("template-b") {
		t.Errorf("override not recorded: %+v", cfg.Ownership)
	}
	if cfg.Ownership.LastSyncCommit == "" {
		t.Error("commit pointer not advanced")
	}
	if status := testutil.Git(t, proj, "status", "--porcelain"); status != "" {
		t.Errorf("worktree not clean after commit:\n%s", status)
	}
}

func TestInit(t *testing.T) {
	testutil.RequireGit(t)
	tmpl := filepath.Join(t.TempDir(), "template")
	testutil.InitRepo(t, tmpl, "main")
	head := testutil.CommitTree(t, tmpl, map[string]string{"README.md": "hello", "Makefile": "all:"}, "template")

	proj := t.TempDir()
	testutil.WriteTree(t, proj, map[string]string{"README.md": "hello", "Makefile": "custom:"})

	f, err := Init(context.Background(), InitOptions{
		ProjectDir: proj,
		Repo:       tmpl,
		Branch:     "main",
		Bootstrap:  true,
		Now:        fixedNow,
	}, git.NewShellClient("", ""), testLogger())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if f.Path != filepath.Join(proj, config.FileName) {
		t.Errorf("config path = %q", f.Path)
	}
	cfg := loadConfig(t, proj)
	if cfg.Sync.FileHashes["README.md"] != fp("hello") {
		t.Error("identical file should be recorded as baseline")
	}
	if _, ok := cfg.Sync.FileHashes["Makefile"]; ok {
		t.Error("differing file must not get a baseline")
	}
	if cfg.Sync.LastSyncCommit != head {
		t.Errorf("lastSyncCommit = %q, want %q", cfg.Sync.LastSyncCommit, head)
	}

	if _, err := Init(context.Background(), InitOptions{ProjectDir: proj, Repo: tmpl}, git.NewShellClient("", ""), testLogger()); err == nil {
		t.Error("expected error when a config already exists")
	}
}

func TestInit_NoBootstrap(t *testing.T) {
	proj := t.TempDir()

	f, err := Init(context.Background(), InitOptions{ProjectDir: proj, Repo: "https://example.com/t.git"}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != config.KindSync || f.Sync.LastSyncCommit != "" {
		t.Errorf("unexpected config: %+v", f.Sync)
	}
	if !testutil.Exists(t, proj, config.FileName) {
		t.Error("config not written")
	}
}

func TestInit_RequiresRepo(t *testing.T) {
	if _, err := Init(context.Background(), InitOptions{ProjectDir: t.TempDir()}, nil, testLogger()); err == nil {
		t.Error("expected error without a template repository")
	}
}
