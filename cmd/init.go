package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-profile-backup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-profile-backup/pkg/config"
	"github.com/paulschiretz/pgl-profile-backup/pkg/flagparse"
	"github.com/paulschiretz/pgl-profile-backup/pkg/lockfile"
	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/preflight"
)

// RunInit handles the logic for the 'init' command. Without -dest the
// platform's default destination root is initialized.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	dest, ok := flagMap["dest"].(string)
	if !ok || dest == "" {
		dest = config.DefaultDestinationRoot()
		plog.Info("No -dest given, using the default destination root", "dest", dest)
	}
	absRoot, err := expandDest(dest)
	if err != nil {
		return err
	}

	var baseConfig config.Config

	initDefault := false
	if v, ok := flagMap["default"]; ok {
		initDefault = v.(bool)
	}

	if initDefault {
		// Check for force flag to bypass confirmation
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}

		if !force {
			configPath := filepath.Join(absRoot, config.ConfigFileName)
			if _, err := os.Stat(configPath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", configPath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// Note: config.Load returns defaults if the file simply doesn't exist.
		baseConfig, err = config.Load(absRoot)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	runConfig.DestinationRoot = absRoot

	// CRITICAL: Validate the config before it is written
	if err := runConfig.Validate(); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	startTime := time.Now()

	// 1. Preflight: the destination root exists (or is created) and is writable.
	if err := preflight.CheckDestinationRoot(runConfig.DestinationRoot); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}

	// 2. Acquire Lock
	// Ensure no backup is writing to the destination root meanwhile.
	lock, err := lockfile.Acquire(ctx, runConfig.DestinationRoot, "init-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to acquire lock on destination root: %w", err)
	}
	defer lock.Release()

	// 3. Generate Config
	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" destination successfully initialized.", "dest", runConfig.DestinationRoot, "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
