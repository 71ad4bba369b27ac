// Package tree lists the files of a template checkout or project tree and
// diffs the two into FileChanges.
package tree

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	ignore "github.com/sabhiram/go-gitignore"
)

// GitDir is never walked.
const GitDir = ".git"

// Walk returns every regular file under root as a slash-separated path
// relative to root, sorted. The .git directory is skipped and, when root
// carries a .gitignore, paths it matches are left out.
func Walk(root string) ([]string, error) {
	ig, err := loadGitignore(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == GitDir || isIgnored(ig, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks, sockets and the like are not synced
		if !d.Type().IsRegular() {
			return nil
		}
		if isIgnored(ig, rel, false) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

func loadGitignore(root string) (*ignore.GitIgnore, error) {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ignore.CompileIgnoreFile(path)
}

func isIgnored(ig *ignore.GitIgnore, rel string, isDir bool) bool {
	if ig == nil {
		return false
	}
	if isDir {
		rel += "/"
	}
	return ig.MatchesPath(rel)
}
