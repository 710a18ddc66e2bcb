// Package lockfile guards the daemon's single-instance invariant with
// an advisory file lock in the workspace's .storyline directory.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const daemonLockName = "daemon.lock"

// AcquireDaemonLock takes the daemon lock for dir, failing fast if
// another daemon already holds it. The caller keeps the returned lock
// for the daemon's lifetime and releases it on shutdown.
func AcquireDaemonLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, daemonLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another daemon is already running for %s", dir)
	}
	return lock, nil
}

// TryDaemonLock probes whether a daemon currently holds the lock for
// dir, without keeping it. Returns true when another process holds it.
func TryDaemonLock(dir string) (bool, error) {
	path := filepath.Join(dir, daemonLockName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if !locked {
		return true, nil
	}
	_ = lock.Unlock()
	return false, nil
}
