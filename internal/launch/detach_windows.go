//go:build windows

package launch

import (
	"os/exec"
	"syscall"
)

var executableNames = []string{"blender.exe", "blender-launcher.exe"}

const createNewProcessGroup = 0x00000200

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
