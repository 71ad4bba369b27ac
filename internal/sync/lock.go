package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/schaermu/templatesync/internal/config"
)

// ErrLocked is returned when another run holds the project lock.
var ErrLocked = errors.New("another sync is running for this project")

// lockPath keeps the lock out of the working tree: inside .git when the
// project is a plain repository, otherwise in the temp directory.
func lockPath(projectDir string) string {
	if info, err := os.Stat(filepath.Join(projectDir, ".git")); err == nil && info.IsDir() {
		return filepath.Join(projectDir, ".git", config.LockFileName)
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "templatesync-"+hex.EncodeToString(sum[:8])+".lock")
}

// acquireLock takes the project lock without waiting.
func acquireLock(projectDir string) (*flock.Flock, error) {
	lock := flock.New(lockPath(projectDir))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return lock, nil
}
