// Package git wraps the git command for the operations a template sync
// needs: fetching the template, inspecting its history, and checking and
// committing the project working tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnknownCommit is returned when a commit is not present in a checkout,
// e.g. after the template history was rewritten.
var ErrUnknownCommit = errors.New("unknown commit")

// Client provides git operations for repository management
type Client interface {
	// EnsureCheckout clones or updates a repository to the specified ref
	// and returns the checked out commit.
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
	// ListFiles returns the slash-separated paths tracked at commit.
	ListFiles(ctx context.Context, dir, commit string) ([]string, error)
	// IsClean reports whether the working tree has no uncommitted changes.
	IsClean(ctx context.Context, dir string) (bool, error)
	// Commit stages paths and commits them. It returns the new commit, or
	// an empty string when there was nothing to commit.
	Commit(ctx context.Context, dir, message string, paths []string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureCheckout clones or fetches and checks out the specified ref
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error) {
	// Check if repo already exists
	gitDir := filepath.Join(destDir, ".git")
	exists := false
	if _, err := os.Stat(gitDir); err == nil {
		exists = true
	}

	var cmd *exec.Cmd
	if !exists {
		// Clone the repository
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}

		cmd = exec.CommandContext(ctx, "git", "clone", "--no-checkout", url, destDir)
		if err := c.configureAuth(cmd, url); err != nil {
			return "", err
		}

		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		// Fetch updates
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin")
		if err := c.configureAuth(cmd, url); err != nil {
			return "", err
		}

		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	// Checkout the specified ref
	// Strategy:
	// 1. Try direct checkout (works for local branches, tags, commit hashes)
	// 2. If that fails, try as a remote branch (origin/ref)
	// This handles tags and commit hashes correctly, and prefers local refs when they exist
	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", ref)
	if err := c.runCommand(cmd); err != nil {
		// If direct checkout failed, try as a remote branch
		remoteRef := "origin/" + ref
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", remoteRef)
		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
		}
	}

	// For existing repos, the local branch may be stale after fetch.
	// Reset to the remote tracking branch to pick up new commits.
	// This is a no-op for fresh clones and silently ignored for tags/hashes.
	if exists {
		resetCmd := exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+ref)
		_ = c.runCommand(resetCmd)
	}

	return c.HeadCommit(ctx, destDir)
}

// HeadCommit returns the commit checked out in dir
func (c *ShellClient) HeadCommit(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// ListFiles returns every path tracked at commit
func (c *ShellClient) ListFiles(ctx context.Context, dir, commit string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "cat-file", "-e", commit+"^{commit}")
	if err := c.runCommand(cmd); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownCommit, commit, err)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", dir, "ls-tree", "-r", "-z", "--name-only", "--full-tree", commit)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-tree failed: %w", err)
	}

	var files []string
	for _, name := range bytes.Split(output, []byte{0}) {
		if len(name) > 0 {
			files = append(files, string(name))
		}
	}
	return files, nil
}

// IsClean reports whether git status shows no changes, untracked files included
func (c *ShellClient) IsClean(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return len(bytes.TrimSpace(output)) == 0, nil
}

// Commit stages the given paths (additions, edits and removals) and commits them
func (c *ShellClient) Commit(ctx context.Context, dir, message string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}

	paths, err := c.withoutIgnored(ctx, dir, paths)
	if err != nil {
		return "", err
	}
	paths, err = c.withoutUntrackedMissing(ctx, dir, paths)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nil
	}

	args := append([]string{"-C", dir, "add", "-A", "--"}, paths...)
	if err := c.runCommand(exec.CommandContext(ctx, "git", args...)); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}

	// diff --cached --quiet exits 1 when something is staged
	staged := exec.CommandContext(ctx, "git", "-C", dir, "diff", "--cached", "--quiet")
	if err := staged.Run(); err == nil {
		return "", nil
	} else if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() != 1 {
		return "", fmt.Errorf("git diff --cached failed: %w", err)
	}

	if err := c.runCommand(exec.CommandContext(ctx, "git", "-C", dir, "commit", "-m", message)); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	return c.HeadCommit(ctx, dir)
}

// withoutIgnored drops untracked paths matched by .gitignore; git add
// refuses them even when they were written by the sync.
func (c *ShellClient) withoutIgnored(ctx context.Context, dir string, paths []string) ([]string, error) {
	args := append([]string{"-C", dir, "check-ignore", "--"}, paths...)
	output, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		// exit status 1: none of the paths is ignored
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return paths, nil
		}
		return nil, fmt.Errorf("git check-ignore failed: %w", err)
	}

	ignored := make(map[string]bool)
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ignored[line] = true
		}
	}

	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !ignored[p] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// withoutUntrackedMissing drops paths that are gone from disk and were never
// tracked; git add fails on a pathspec that matches nothing.
func (c *ShellClient) withoutUntrackedMissing(ctx context.Context, dir string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return paths, nil
	}
	args := append([]string{"-C", dir, "ls-files", "-z", "--"}, paths...)
	output, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-files failed: %w", err)
	}

	tracked := make(map[string]bool)
	for _, p := range strings.Split(string(output), "\x00") {
		if p != "" {
			tracked[p] = true
		}
	}

	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p))); err == nil || tracked[p] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "TEMPLATESYNC_GIT_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$TEMPLATESYNC_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
