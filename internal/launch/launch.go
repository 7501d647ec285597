package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotInstalled = errors.New("version is not installed")
	ErrNoExecutable = errors.New("no blender executable found in build directory")
	ErrLaunchFailed = errors.New("could not start blender")
)

// Launch resolves an installed version to its directory, locates the main
// executable and starts it as a detached background process. The returned
// error is user-facing; it never terminates the host process.
func Launch(reg *registry.Registry, version string) error {
	dirs, err := reg.FindBuildDirs(version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("%w: %s", ErrNotInstalled, version)
	}

	executable := FindExecutable(dirs[0])
	if executable == "" {
		return fmt.Errorf("%w: %s", ErrNoExecutable, dirs[0])
	}

	cmd := exec.Command(executable)
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	log.Infof("Launched Blender %s (%s, pid %d)", version, executable, cmd.Process.Pid)

	// Detached: the child outlives us, so release our handle on it.
	if err := cmd.Process.Release(); err != nil {
		log.WithError(err).Debug("Could not release launched process handle")
	}
	return nil
}

// FindExecutable locates the blender executable inside an installation
// directory: common top-level names first, then a recursive search for any
// executable file with a matching name.
func FindExecutable(installDir string) string {
	for _, name := range executableNames {
		candidate := filepath.Join(installDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	var result string
	_ = filepath.Walk(installDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		for _, name := range executableNames {
			if info.Name() == name && info.Mode()&0111 != 0 {
				result = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	return result
}
