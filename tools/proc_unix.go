//go:build unix

package tools

import (
	"io/fs"
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the command in its own process group so
// cancellation kills the whole tree.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

func accessible(path string, _ fs.FileInfo, mode uint32) bool {
	return syscall.Access(path, mode) == nil
}
