//go:build integration

package tier1

import (
	"context"
	"strings"
	"testing"
)

func TestTier1Sync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)

	if err := h.BuildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	tmpl := h.Workdir("template")
	proj := h.Workdir("project")
	setupRepos(t, h, ctx, tmpl, proj)

	// Run all scenarios as subtests; each builds on the previous state
	t.Run("A_InitialSync", func(t *testing.T) {
		testInitialSync(t, h, ctx, proj)
	})

	t.Run("B_NoOpSync", func(t *testing.T) {
		testNoOpSync(t, h, ctx, proj)
	})

	t.Run("C_ConflictExitsNonZero", func(t *testing.T) {
		testConflictExitsNonZero(t, h, ctx, tmpl, proj)
	})

	t.Run("D_ResolveSkip", func(t *testing.T) {
		testResolveSkip(t, h, ctx, proj)
	})

	t.Run("E_TemplateDeletion", func(t *testing.T) {
		testTemplateDeletion(t, h, ctx, tmpl, proj)
	})

	t.Run("F_DryRunMode", func(t *testing.T) {
		testDryRunMode(t, h, ctx, tmpl, proj)
	})

	t.Run("G_MigrateToOwnership", func(t *testing.T) {
		testMigrateToOwnership(t, h, ctx, proj)
	})
}

// setupRepos creates the template and a project bootstrapped with init
func setupRepos(t *testing.T, h *Harness, ctx context.Context, tmpl, proj string) {
	t.Helper()

	h.InitRepo(ctx, tmpl)
	h.WriteFile(tmpl, "README.md", "# template v1\n")
	h.WriteFile(tmpl, "Makefile", "build:\n\tgo build ./...\n")
	h.WriteFile(tmpl, ".github/workflows/ci.yml", "on: push\n")
	h.CommitAll(ctx, tmpl, "Initial template")

	h.InitRepo(ctx, proj)
	h.WriteFile(proj, "Makefile", "build:\n\tgo build ./...\n")
	h.WriteFile(proj, "main.go", "package main\n")
	h.MustRun(ctx, proj, "init", "--repo", tmpl)
	h.CommitAll(ctx, proj, "Initial project")

	cfg := h.ReadFile(proj, ".templatesync.yaml")
	if !strings.Contains(cfg, "Makefile:") {
		t.Fatalf("init did not record the identical Makefile:\n%s", cfg)
	}
}

func testInitialSync(t *testing.T, h *Harness, ctx context.Context, proj string) {
	stdout, stderr := h.MustRun(ctx, proj, "sync", "--commit")
	t.Logf("stdout: %s", stdout)
	t.Logf("stderr: %s", stderr)

	if !h.FileExists(proj, "README.md") || !h.FileExists(proj, ".github/workflows/ci.yml") {
		t.Error("template files not synced")
	}
	if !strings.Contains(stdout, "committed ") {
		t.Errorf("expected a commit, got: %s", stdout)
	}
	if status := h.Git(ctx, proj, "status", "--porcelain"); status != "" {
		t.Errorf("worktree not clean:\n%s", status)
	}
}

func testNoOpSync(t *testing.T, h *Harness, ctx context.Context, proj string) {
	head := h.Git(ctx, proj, "rev-parse", "HEAD")

	stdout, _ := h.MustRun(ctx, proj, "sync", "--commit")

	if !strings.Contains(stdout, "applied 0") {
		t.Errorf("expected nothing applied, got: %s", stdout)
	}
	if h.Git(ctx, proj, "rev-parse", "HEAD") != head {
		t.Error("no-op sync created a commit")
	}
}

func testConflictExitsNonZero(t *testing.T, h *Harness, ctx context.Context, tmpl, proj string) {
	h.WriteFile(tmpl, "README.md", "# template v2\n")
	h.CommitAll(ctx, tmpl, "Update readme")
	h.WriteFile(proj, "README.md", "# my project\n")
	h.CommitAll(ctx, proj, "Customize readme")

	stdout, stderr, exitCode, err := h.Run(ctx, proj, "sync")
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("stderr: %s", stderr)

	if exitCode == 0 {
		t.Error("expected non-zero exit with a pending conflict")
	}
	if !strings.Contains(stdout, "conflict: README.md") {
		t.Errorf("conflict not reported: %s", stdout)
	}
	if h.ReadFile(proj, "README.md") != "# my project\n" {
		t.Error("conflicting file overwritten")
	}
}

func testResolveSkip(t *testing.T, h *Harness, ctx context.Context, proj string) {
	h.MustRun(ctx, proj, "sync", "--mode", "all", "--resolve-path", "README.md=skip", "--commit")

	if h.ReadFile(proj, "README.md") != "# my project\n" {
		t.Error("skip must keep the project version")
	}

	// the skipped file is now project-only and no longer a conflict
	stdout, _ := h.MustRun(ctx, proj, "sync")
	if !strings.Contains(stdout, "pending 0") {
		t.Errorf("conflict came back: %s", stdout)
	}
}

func testTemplateDeletion(t *testing.T, h *Harness, ctx context.Context, tmpl, proj string) {
	h.Git(ctx, tmpl, "rm", "-q", "Makefile")
	h.Git(ctx, tmpl, "commit", "-m", "Drop Makefile")

	h.MustRun(ctx, proj, "sync", "--commit")

	if h.FileExists(proj, "Makefile") {
		t.Error("unchanged file removed by the template should be deleted")
	}
	if status := h.Git(ctx, proj, "status", "--porcelain"); status != "" {
		t.Errorf("deletion not committed:\n%s", status)
	}
}

func testDryRunMode(t *testing.T, h *Harness, ctx context.Context, tmpl, proj string) {
	h.WriteFile(tmpl, "docs/guide.md", "guide\n")
	h.CommitAll(ctx, tmpl, "Add guide")
	before := h.ReadFile(proj, ".templatesync.yaml")

	stdout, _ := h.MustRun(ctx, proj, "sync", "--dry-run")

	if !strings.Contains(stdout, "[dry-run] applied 1") {
		t.Errorf("dry run should report the planned write: %s", stdout)
	}
	if h.FileExists(proj, "docs/guide.md") {
		t.Error("dry run wrote a file")
	}
	if h.ReadFile(proj, ".templatesync.yaml") != before {
		t.Error("dry run changed the config")
	}
}

func testMigrateToOwnership(t *testing.T, h *Harness, ctx context.Context, proj string) {
	h.MustRun(ctx, proj, "migrate", "--template-path", "docs/**", "--template-path", "README.md")
	h.CommitAll(ctx, proj, "Migrate config")

	cfg := h.ReadFile(proj, ".templatesync.yaml")
	if !strings.Contains(cfg, "templatePaths:") || strings.Contains(cfg, "fileHashes:") {
		t.Fatalf("config not migrated:\n%s", cfg)
	}

	h.MustRun(ctx, proj, "sync", "--mode", "all", "--resolve", "keep", "--commit")

	if h.ReadFile(proj, "docs/guide.md") != "guide\n" {
		t.Error("owned file not copied")
	}
	if h.ReadFile(proj, "README.md") != "# my project\n" {
		t.Error("keep must preserve the project README")
	}
	if cfg := h.ReadFile(proj, ".templatesync.yaml"); !strings.Contains(cfg, "projectOverrides:\n    - README.md") && !strings.Contains(cfg, "projectOverrides:\n  - README.md") {
		t.Errorf("README.md not recorded as override:\n%s", cfg)
	}
}
