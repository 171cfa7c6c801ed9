package mirror

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// Robocopy drives the Windows robocopy utility.
type Robocopy struct {
	binary string
	// commandContext allows mocking os/exec for testing.
	commandContext CommandFunc
}

// NewRobocopy returns an engine that runs "robocopy" from PATH.
func NewRobocopy() *Robocopy {
	return NewRobocopyWithCommand(exec.CommandContext)
}

// NewRobocopyWithCommand returns an engine that builds its process with fn.
func NewRobocopyWithCommand(fn CommandFunc) *Robocopy {
	return &Robocopy{binary: "robocopy", commandContext: fn}
}

// RobocopyArgs builds the robocopy command line:
//
//	/E   :: copy subdirectories, including empty ones
//	/R:n :: retry n times on failed copies
//	/W:n :: wait n seconds between retries
//	/V   :: verbose output, showing skipped files
//	/XD  :: exclude directories matching the given names
//	/MT:n :: multi-threaded copy with n threads
func RobocopyArgs(source, destination string, opts Options) []string {
	args := []string{source, destination}
	if opts.RecursiveIncludingEmptyDirs {
		args = append(args, "/E")
	}
	args = append(args, "/R:"+strconv.Itoa(opts.RetryCount))
	args = append(args, "/W:"+strconv.Itoa(int(opts.RetryWait/time.Second)))
	if opts.Verbose {
		args = append(args, "/V")
	}
	if len(opts.ExcludeDirs) > 0 {
		args = append(args, "/XD")
		args = append(args, opts.ExcludeDirs...)
	}
	if opts.MultiThreaded {
		args = append(args, "/MT:"+strconv.Itoa(opts.threads()))
	}
	return args
}

// Copy implements Engine.
func (r *Robocopy) Copy(ctx context.Context, source, destination string, opts Options) Outcome {
	if err := os.MkdirAll(filepath.Dir(destination), util.UserWritableDirPerms); err != nil {
		return Classify(CodeNotStarted, fmt.Sprintf("failed to create destination parent: %v", err))
	}

	args := RobocopyArgs(source, destination, opts)
	plog.Debug("Starting copy with robocopy", "command", r.binary, "args", args)

	cmd := r.commandContext(ctx, r.binary, args...)
	isolate(cmd)

	code, tail, err := runTool(cmd, opts.transcript())
	if err != nil {
		return Classify(CodeNotStarted, err.Error())
	}
	plog.Debug("Robocopy finished", "exit_code", code)

	if code >= FailureThreshold && tail == "" {
		tail = fmt.Sprintf("robocopy reported exit code %d", code)
	}
	return Classify(code, tail)
}
