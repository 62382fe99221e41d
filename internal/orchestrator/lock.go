package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how long a lock file may sit before a crashed process's
// lock is assumed abandoned and removed.
const staleLockAge = 30 * time.Minute

// AcquireLock creates an exclusive lock file in workspaceDir, preventing two
// concurrent deployments against the same repo/database (spec §4.10's
// "concurrent invocations... should be prevented by the caller, e.g. a
// workspace-level lock file"). Returns a release function; the caller must
// call it when the deployment finishes, regardless of outcome.
//
// Grounded on internal/triage/runner.go's acquireAdvanceLock: the same
// O_EXCL-exclusive-create pattern with stale-lock removal, generalized from
// a single pipeline base directory to any workspace root.
func AcquireLock(workspaceDir string) (release func(), err error) {
	lockPath := filepath.Join(workspaceDir, ".data-deploy.lock")

	if info, statErr := os.Stat(lockPath); statErr == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(lockPath)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("a deployment is already in progress in %s (remove %s if this is stale)", workspaceDir, lockPath)
		}
		return nil, fmt.Errorf("acquire deployment lock: %w", err)
	}
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}
