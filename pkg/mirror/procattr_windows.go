//go:build windows

package mirror

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// isolate starts the copy tool in a new process group so console Ctrl+C
// events are not delivered to it.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}
