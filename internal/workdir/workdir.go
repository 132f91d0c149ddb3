// Package workdir owns cleanup of a task's per-execution scratch directory.
package workdir

import (
	"log/slog"
	"os"
)

// Clear removes execLocalPath recursively, unless developMode suppresses
// cleanup entirely. It never removes the filesystem root, and it treats a
// missing directory as success. Any other I/O error is logged and
// swallowed: cleanup is best-effort and must never mask a task's own
// terminal status.
func Clear(execLocalPath string, developMode bool) {
	if developMode {
		slog.Debug("develop mode: skipping work directory cleanup", "path", execLocalPath)
		return
	}
	if execLocalPath == "" {
		slog.Warn("empty execute path, skipping cleanup")
		return
	}
	if execLocalPath == "/" {
		slog.Warn("refusing to delete filesystem root", "path", execLocalPath)
		return
	}

	if err := os.RemoveAll(execLocalPath); err != nil {
		slog.Warn("work directory cleanup failed", "path", execLocalPath, "error", err)
	}
}
