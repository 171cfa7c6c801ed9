package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-profile-backup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string

	// Shared: Backup / Preview / Init
	Dest    *string
	Type    *string
	Folders *listFlag

	// Shared: Backup / Init
	Slow                   *bool
	Overwrite              *string
	Engine                 *string
	RetryCount             *int
	RetryWait              *int
	Threads                *int
	FullProfileExcludeDirs *string
	Transcript             *string
	Lock                   *bool

	// Init specific
	Force   *bool
	Default *bool
}

// listFlag collects folders from repeated flags; each occurrence may itself
// be a comma-separated list.
type listFlag struct {
	items []string
}

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(l.items, ",")
}

func (l *listFlag) Set(s string) error {
	l.items = append(l.items, ParseList(s)...)
	return nil
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
}

func registerSelectionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Dest = fs.String("dest", "", "Destination root directory for backups. (Required)")
	f.Type = fs.String("type", "documents", "Backup type: 'documents', 'desktop', 'pictures', 'full', or 'custom'.")
	f.Folders = &listFlag{}
	fs.Var(f.Folders, "folders", "Folders to back up with -type custom. Repeatable, or a comma-separated list.")
}

func registerCopyFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Slow = fs.Bool("slow", false, "Copy single-threaded to reduce load on the machine.")
	f.Overwrite = fs.String("overwrite", "ask", "When a destination folder already exists: 'ask', 'always', or 'never'.")
	f.Engine = fs.String("engine", "", "Copy engine: 'native' or 'robocopy' (Windows only). Defaults to the platform's engine.")
	f.RetryCount = fs.Int("retry-count", 5, "Number of retries for failed file copies.")
	f.RetryWait = fs.Int("retry-wait", 5, "Seconds to wait between retries.")
	f.Threads = fs.Int("threads", 8, "Copy parallelism when -slow is not set.")
	f.FullProfileExcludeDirs = fs.String("full-profile-exclude-dirs", "AppData", "Comma-separated list of directory names skipped by a full profile backup (supports glob patterns).")
	f.Transcript = fs.String("transcript", "zst", "Copy transcript format: 'zst', 'gz', 'plain', or 'off'.")
	f.Lock = fs.Bool("lock", true, "Lock the destination root against concurrent backups from other processes.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and the
// map of flags explicitly set by the user.
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	var desc string

	switch command {
	case Backup:
		registerGlobalFlags(fs, f)
		registerSelectionFlags(fs, f)
		registerCopyFlags(fs, f)
		desc = "Back up the selected folders to the destination root."

	case Preview:
		registerGlobalFlags(fs, f)
		registerSelectionFlags(fs, f)
		desc = "Show where each selected folder will be stored, without copying anything."

	case Init:
		registerGlobalFlags(fs, f)
		registerSelectionFlags(fs, f)
		registerCopyFlags(fs, f)
		registerInitFlags(fs, f)
		desc = "Initialize a destination root with a configuration file."

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]any, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)

	addIfUsed(flagMap, usedFlags, "dest", f.Dest)
	addIfUsed(flagMap, usedFlags, "type", f.Type)
	if f.Folders != nil && usedFlags["folders"] {
		flagMap["folders"] = f.Folders.items
	}

	addIfUsed(flagMap, usedFlags, "slow", f.Slow)
	addIfUsed(flagMap, usedFlags, "overwrite", f.Overwrite)
	addIfUsed(flagMap, usedFlags, "engine", f.Engine)
	addIfUsed(flagMap, usedFlags, "retry-count", f.RetryCount)
	addIfUsed(flagMap, usedFlags, "retry-wait", f.RetryWait)
	addIfUsed(flagMap, usedFlags, "threads", f.Threads)
	addIfUsed(flagMap, usedFlags, "transcript", f.Transcript)
	addIfUsed(flagMap, usedFlags, "lock", f.Lock)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	addParsedIfUsed(flagMap, usedFlags, "full-profile-exclude-dirs", f.FullProfileExcludeDirs, ParseList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Back up your user profile folders to another drive.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Back up the selected folders\n")
	fmt.Fprintf(fs.Output(), "  preview     Show the destination folder structure\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Back up your user profile folders to another drive.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseList parses a comma-separated list of folders or patterns. It supports
// both single (') and double (") quotes to allow items to contain commas or
// spaces; the quotes themselves are removed. Backslashes are literal so that
// Windows paths pass through unchanged.
func ParseList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
