//go:build !windows

package mirror

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// isolate puts the copy tool in its own process group so a Ctrl+C aimed at
// the CLI does not interrupt a copy that is already running.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}
