//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

var executableNames = []string{"blender", "blender.sh"}

// detach puts the child in its own session so it survives our exit and
// never receives our terminal signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
