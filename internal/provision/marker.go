package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/logger"
)

// MarkerFilename is the run marker created under the tools directory while a
// pipeline is installing.
const MarkerFilename = ".provision.pid"

// MarkerPath returns the run marker location for a tools directory.
func MarkerPath(toolsDir string) string {
	return filepath.Join(toolsDir, MarkerFilename)
}

// acquireMarker creates the run marker holding the current PID.
// A marker left by a process that is no longer running is reclaimed.
func acquireMarker(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPermissions); err != nil {
		return nil, fmt.Errorf("create tools directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, config.DefaultFilePermissions)
		if err == nil {
			_, err = f.WriteString(strconv.Itoa(os.Getpid()))
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(path)

				return nil, fmt.Errorf("write run marker: %w", err)
			}

			return func() {
				if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
					logger.WarnKV(ctx, "Unable to remove run marker", "path", path, "error", removeErr)
				}
			}, nil
		}

		if !errors.Is(err, os.ErrExist) || attempt > 0 {
			return nil, fmt.Errorf("create run marker: %w", err)
		}

		pid, alive := markerOwner(path)
		if alive {
			return nil, fmt.Errorf("%w: process %d holds %s", ErrPipelineBusy, pid, path)
		}

		logger.InfoKV(ctx, "Reclaiming stale run marker", "path", path, "pid", pid)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale run marker: %w", err)
		}
	}
}

// markerOwner reads the PID stored in the marker and reports whether that
// process is still running. Unreadable markers count as stale.
func markerOwner(path string) (int, bool) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return pid, false
	}

	return pid, true
}
