// Package hashstore computes content fingerprints and tracks the baseline:
// the last fingerprint both the template and the project agreed on for a path.
package hashstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
)

// Missing is the fingerprint of a path that does not exist.
const Missing = ""

// ErrDirectory is returned when the path to fingerprint is a directory.
var ErrDirectory = errors.New("is a directory")

// Fingerprint computes the SHA256 hash of a file. A path that does not exist,
// including one below a regular file, yields Missing and a nil error.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return Missing, nil
		}
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", path, ErrDirectory)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes hashes in-memory content the same way Fingerprint hashes a file.
func FingerprintBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
