//go:build !windows

package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// MaxUnixSocketPath is the maximum length for Unix socket paths.
// macOS has a 104-byte limit (including null terminator), Linux has 108.
// We use 103 to be safe across platforms.
const MaxUnixSocketPath = 103

// tmpDir is where fallback socket directories live. Always /tmp: on
// macOS $TMPDIR is itself long enough to blow the socket limit.
const tmpDir = "/tmp"

// ShortSocketPath returns a socket path suitable for Unix sockets.
// The natural location is .storyline/story.sock inside the workspace;
// when that path exceeds the platform limit the socket moves to a
// /tmp/storyline-{hash}/ directory keyed by the canonicalized
// workspace path, so the same workspace always maps to the same
// socket and symlinked paths resolve to the same hash.
func ShortSocketPath(workspacePath string) string {
	naturalPath := filepath.Join(workspacePath, ".storyline", "story.sock")
	if len(naturalPath) <= MaxUnixSocketPath {
		return naturalPath
	}
	return shortSocketDir(canonicalPath(workspacePath))
}

// NeedsShortPath reports whether the workspace's natural socket path
// would exceed Unix limits.
func NeedsShortPath(workspacePath string) bool {
	naturalPath := filepath.Join(workspacePath, ".storyline", "story.sock")
	return len(naturalPath) > MaxUnixSocketPath
}

// canonicalPath resolves symlinks and relative segments so two
// spellings of one workspace hash identically.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// shortSocketDir returns a socket path in /tmp/storyline-{hash}/.
// The hash is 8 hex characters from SHA256 of the workspace path.
func shortSocketDir(canonical string) string {
	hash := sha256.Sum256([]byte(canonical))
	hashStr := hex.EncodeToString(hash[:4])

	dir := filepath.Join(tmpDir, "storyline-"+hashStr)
	return filepath.Join(dir, "story.sock")
}

// EnsureSocketDir creates the socket directory if it doesn't exist.
// Only /tmp/storyline-* directories are created here; a workspace's
// .storyline directory is expected to exist already. The daemon calls
// this before listening.
func EnsureSocketDir(socketPath string) (string, error) {
	dir := filepath.Dir(socketPath)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "storyline-")) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
	}
	return socketPath, nil
}

// CleanupSocketDir removes the socket file, and the containing
// directory too when it is a /tmp/storyline-* directory we created.
func CleanupSocketDir(socketPath string) error {
	dir := filepath.Dir(socketPath)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "storyline-")) {
		_ = os.Remove(socketPath)
		// Fails when not empty, which is fine.
		return os.Remove(dir)
	}
	return os.Remove(socketPath)
}
