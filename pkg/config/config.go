package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-profile-backup/pkg/flagparse"
	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/orchestrator"
	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
	"github.com/paulschiretz/pgl-profile-backup/pkg/transcript"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "profile-backup.config.json"

// Overwrite policies decide what happens when a destination folder already exists.
const (
	OverwriteAsk    = "ask"
	OverwriteAlways = "always"
	OverwriteNever  = "never"
)

type BackupDefaultsConfig struct {
	Type string `json:"type"`
	// Note: omitempty is intentionally not used so that the field
	// appears in the generated config file for better discoverability.
	CustomFolders []string `json:"customFolders"`
	SlowMode      bool     `json:"slowMode"`
	Overwrite     string   `json:"overwrite"`
}

type CopyEngineConfig struct {
	Engine           string `json:"engine"`
	RetryCount       int    `json:"retryCount"`
	RetryWaitSeconds int    `json:"retryWaitSeconds"`
	Threads          int    `json:"threads" comment:"Copy parallelism when slow mode is off. Default is 8."`
	// FullProfileExcludeDirs are skipped at any depth when the whole profile is backed up.
	FullProfileExcludeDirs []string `json:"fullProfileExcludeDirs"`
}

type Config struct {
	Version         string               `json:"version"`
	DestinationRoot string               `json:"-"` // Never added to config file
	LogLevel        string               `json:"logLevel"`
	Backup          BackupDefaultsConfig `json:"backup"`
	Copy            CopyEngineConfig     `json:"copy"`
	Transcript      string               `json:"transcript"`
	LockDestination bool                 `json:"lockDestination"`
}

// NewDefault creates and returns a Config struct with sensible default
// values. The copy engine follows the platform: robocopy on Windows, the
// native engine elsewhere.
func NewDefault() Config {
	return Config{
		Version:         buildinfo.Version,
		DestinationRoot: "",     // Intentionally empty to force user configuration.
		LogLevel:        "info", // Default log level.
		Backup: BackupDefaultsConfig{
			Type:          request.Documents.String(),
			CustomFolders: []string{},
			SlowMode:      false,
			Overwrite:     OverwriteAsk,
		},
		Copy: CopyEngineConfig{
			Engine:                 mirror.DefaultEngineKind().String(),
			RetryCount:             5,
			RetryWaitSeconds:       5,
			Threads:                8,
			FullProfileExcludeDirs: []string{"AppData"},
		},
		Transcript:      transcript.Zstd.String(),
		LockDestination: true,
	}
}

// DefaultDestinationRoot returns the destination offered when none is configured.
func DefaultDestinationRoot() string {
	if runtime.GOOS == "windows" {
		return `D:\UserProfileBackups`
	}
	return filepath.Join("~", "UserProfileBackups")
}

// Load attempts to load a configuration from "profile-backup.config.json"
// in the destination root. If the file doesn't exist, it returns the
// default config without an error. If the file exists but fails to parse,
// it returns an error and a zero-value config.
func Load(destinationRoot string) (Config, error) {
	absRoot, err := filepath.Abs(destinationRoot)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for load directory %s: %w", destinationRoot, err)
	}

	configPath := filepath.Join(absRoot, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.DestinationRoot = absRoot
			return cfg, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	config.DestinationRoot = absRoot
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the config file in the destination root.
func Generate(configToGenerate Config) error {
	if configToGenerate.DestinationRoot == "" {
		return fmt.Errorf("cannot generate config: destination root is empty")
	}
	configPath := filepath.Join(configToGenerate.DestinationRoot, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// It expands and cleans the destination root in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DestinationRoot) == "" {
		return fmt.Errorf("destination path cannot be empty")
	}
	root, err := util.ExpandPath(c.DestinationRoot)
	if err != nil {
		return fmt.Errorf("could not expand destination path: %w", err)
	}
	c.DestinationRoot = filepath.Clean(root)

	if _, err := request.ParseBackupType(c.Backup.Type); err != nil {
		return fmt.Errorf("backup.type: %w", err)
	}
	switch c.Backup.Overwrite {
	case OverwriteAsk, OverwriteAlways, OverwriteNever:
	default:
		return fmt.Errorf("backup.overwrite: invalid value %q. Must be 'ask', 'always', or 'never'", c.Backup.Overwrite)
	}

	engine, err := mirror.ParseEngineKind(c.Copy.Engine)
	if err != nil {
		return fmt.Errorf("copy.engine: %w", err)
	}
	if engine == mirror.RobocopyEngine && !mirror.RobocopyAvailable() {
		return fmt.Errorf("copy.engine: robocopy is only available on Windows")
	}
	if c.Copy.RetryCount < 0 {
		return fmt.Errorf("copy.retryCount cannot be negative")
	}
	if c.Copy.RetryWaitSeconds < 0 {
		return fmt.Errorf("copy.retryWaitSeconds cannot be negative")
	}
	if c.Copy.Threads < 1 || c.Copy.Threads > 128 {
		return fmt.Errorf("copy.threads must be between 1 and 128")
	}
	if err := validateGlobPatterns("copy.fullProfileExcludeDirs", c.Copy.FullProfileExcludeDirs); err != nil {
		return err
	}

	if _, err := transcript.ParseFormat(c.Transcript); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	return nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"type", c.Backup.Type,
		"log_level", c.LogLevel,
		"destination", c.DestinationRoot,
		"engine", c.Copy.Engine,
		"slow_mode", c.Backup.SlowMode,
		"overwrite", c.Backup.Overwrite,
		"retry", fmt.Sprintf("%dx%ds", c.Copy.RetryCount, c.Copy.RetryWaitSeconds),
		"threads", c.Copy.Threads,
		"transcript", c.Transcript,
		"lock_destination", c.LockDestination,
	}
	if len(c.Backup.CustomFolders) > 0 {
		logArgs = append(logArgs, "custom_folders", strings.Join(c.Backup.CustomFolders, ", "))
	}
	if len(c.Copy.FullProfileExcludeDirs) > 0 {
		logArgs = append(logArgs, "full_profile_exclude_dirs", strings.Join(c.Copy.FullProfileExcludeDirs, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// Request builds the backup request described by the configuration.
// Validate must have succeeded before.
func (c *Config) Request() (request.Request, error) {
	backupType, err := request.ParseBackupType(c.Backup.Type)
	if err != nil {
		return request.Request{}, err
	}
	return request.New(backupType, c.Backup.CustomFolders, c.DestinationRoot, c.Backup.SlowMode)
}

// OrchestratorConfig translates the copy settings for the orchestrator.
// Validate must have succeeded before.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	engine, err := mirror.ParseEngineKind(c.Copy.Engine)
	if err != nil {
		engine = mirror.DefaultEngineKind()
	}
	format, err := transcript.ParseFormat(c.Transcript)
	if err != nil {
		format = transcript.Off
	}

	opts := mirror.DefaultOptions()
	opts.RetryCount = c.Copy.RetryCount
	opts.RetryWait = time.Duration(c.Copy.RetryWaitSeconds) * time.Second
	opts.Threads = c.Copy.Threads

	return orchestrator.Config{
		Engine:              mirror.New(engine),
		Options:             opts,
		FullProfileExcludes: append([]string(nil), c.Copy.FullProfileExcludeDirs...),
		TranscriptFormat:    format,
		LockDestination:     c.LockDestination,
	}
}

// Confirm applies the overwrite policy to ask, which is only consulted for
// the "ask" policy.
func (c *Config) Confirm(ask skippolicy.ConfirmFunc) skippolicy.ConfirmFunc {
	switch c.Backup.Overwrite {
	case OverwriteAlways:
		return func(string) bool { return true }
	case OverwriteNever:
		return func(string) bool { return false }
	default:
		return ask
	}
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern for %s: %q - %w", fieldName, pattern, err)
		}
	}
	return nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "dest":
			merged.DestinationRoot = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "type":
			merged.Backup.Type = value.(string)
		case "folders":
			merged.Backup.CustomFolders = value.([]string)
		case "slow":
			merged.Backup.SlowMode = value.(bool)
		case "overwrite":
			switch command {
			case flagparse.Backup, flagparse.Init:
				merged.Backup.Overwrite = value.(string)
			default:
			}
		case "engine":
			merged.Copy.Engine = value.(string)
		case "retry-count":
			merged.Copy.RetryCount = value.(int)
		case "retry-wait":
			merged.Copy.RetryWaitSeconds = value.(int)
		case "threads":
			merged.Copy.Threads = value.(int)
		case "full-profile-exclude-dirs":
			merged.Copy.FullProfileExcludeDirs = value.([]string)
		case "transcript":
			merged.Transcript = value.(string)
		case "lock":
			merged.LockDestination = value.(bool)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
