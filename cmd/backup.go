package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-profile-backup/pkg/config"
	"github.com/paulschiretz/pgl-profile-backup/pkg/flagparse"
	"github.com/paulschiretz/pgl-profile-backup/pkg/hints"
	"github.com/paulschiretz/pgl-profile-backup/pkg/orchestrator"
	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// backupStarter is the part of the orchestrator the backup command drives.
type backupStarter interface {
	Start(ctx context.Context, req request.Request, confirm skippolicy.ConfirmFunc, progress orchestrator.ProgressFunc) (<-chan orchestrator.Result, error)
}

// RunBackup handles the logic for the main backup execution.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Backup, flagMap)
	if err != nil {
		return err
	}

	req, err := runConfig.Request()
	if err != nil {
		return err
	}

	orch := orchestrator.New(runConfig.OrchestratorConfig())

	startTime := time.Now()
	report, err := driveBackup(ctx, orch, req, runConfig.Confirm(promptOverwrite), os.Stdout)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		if report != nil {
			fmt.Fprintln(os.Stdout, report.Summary())
		}
		return err // The error will be logged with full details by main()
	}
	return finishBackup(report, duration, os.Stdout)
}

// loadRunConfig loads the config from the destination root given by -dest,
// overlays the flags and validates the result.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	dest, ok := flagMap["dest"].(string)
	if !ok || dest == "" {
		return config.Config{}, fmt.Errorf("the -dest flag is required for the %s operation", command)
	}
	expanded, err := expandDest(dest)
	if err != nil {
		return config.Config{}, err
	}

	// Load config from the destination root, or use defaults if not found.
	loadedConfig, err := config.Load(expanded)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from destination: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)
	// The flag value is relative to the working directory; keep the absolute one.
	runConfig.DestinationRoot = loadedConfig.DestinationRoot

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()
	return runConfig, nil
}

// expandDest resolves a leading ~ and makes dest absolute.
func expandDest(dest string) (string, error) {
	expanded, err := util.ExpandPath(dest)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", dest, err)
	}
	return abs, nil
}

type confirmRequest struct {
	destination string
	reply       chan bool
}

// driveBackup starts the run in the background and serves its overwrite
// questions and progress messages on the calling goroutine until the run
// delivers its result.
func driveBackup(ctx context.Context, starter backupStarter, req request.Request, confirm skippolicy.ConfirmFunc, out io.Writer) (*orchestrator.Report, error) {
	confirms := make(chan confirmRequest)
	progress := make(chan string)

	askOnMain := func(destination string) bool {
		reply := make(chan bool, 1)
		confirms <- confirmRequest{destination: destination, reply: reply}
		return <-reply
	}
	reportOnMain := func(message string) {
		progress <- message
	}

	results, err := starter.Start(ctx, req, askOnMain, reportOnMain)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case c := <-confirms:
			answer := false
			if confirm != nil {
				answer = confirm(c.destination)
			}
			c.reply <- answer
		case msg := <-progress:
			fmt.Fprintln(out, msg)
		case res := <-results:
			return res.Report, res.Err
		}
	}
}

// finishBackup prints the run summary and turns the report into the
// command's result.
func finishBackup(report *orchestrator.Report, duration time.Duration, out io.Writer) error {
	if report.LogErrors > 0 {
		plog.Warn("Some entries could not be written to the backup log", "failed_writes", report.LogErrors, "log", report.LogPath)
	}

	fmt.Fprintln(out, report.StatusText())
	fmt.Fprintln(out, report.Summary())

	err := report.Err()
	if hints.IsHint(err) {
		plog.Info(buildinfo.Name+" finished without copying anything.", "reason", err, "duration", duration)
		return nil
	}
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" finished successfully.", "copied", report.Copied(), "duration", duration)
	return nil
}

// promptOverwrite asks whether an existing destination folder may be overwritten.
func promptOverwrite(destination string) bool {
	fmt.Printf("The folder '%s' already exists.\n", destination)
	return PromptForConfirmation("Do you want to overwrite it? (yes = overwrite, no = skip)", false)
}
