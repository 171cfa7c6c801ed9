package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/config"
	"github.com/paulschiretz/pgl-profile-backup/pkg/flagparse"
	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/orchestrator"
	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
)

// scriptedStarter plays a fixed sequence of questions and progress messages
// from a background goroutine, like the orchestrator does.
type scriptedStarter struct {
	destinations []string
	messages     []string
	report       *orchestrator.Report
	startErr     error

	answers []bool
}

func (s *scriptedStarter) Start(ctx context.Context, req request.Request, confirm skippolicy.ConfirmFunc, progress orchestrator.ProgressFunc) (<-chan orchestrator.Result, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	results := make(chan orchestrator.Result, 1)
	go func() {
		defer close(results)
		for _, d := range s.destinations {
			s.answers = append(s.answers, confirm(d))
		}
		for _, m := range s.messages {
			progress(m)
		}
		results <- orchestrator.Result{Report: s.report}
	}()
	return results, nil
}

func TestDriveBackup(t *testing.T) {
	req, err := request.New(request.Documents, nil, "/backups", false)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Questions and progress are served in order", func(t *testing.T) {
		starter := &scriptedStarter{
			destinations: []string{"/backups/a", "/backups/b"},
			messages:     []string{"Backing up Documents...", "Backup of Documents completed with files copied"},
			report:       &orchestrator.Report{Status: orchestrator.Succeeded},
		}
		var asked []string
		confirm := func(d string) bool {
			asked = append(asked, d)
			return d == "/backups/a"
		}
		var out bytes.Buffer

		report, err := driveBackup(context.Background(), starter, req, confirm, &out)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report != starter.report {
			t.Error("expected the starter's report")
		}
		if strings.Join(asked, ",") != "/backups/a,/backups/b" {
			t.Errorf("unexpected questions: %v", asked)
		}
		if len(starter.answers) != 2 || !starter.answers[0] || starter.answers[1] {
			t.Errorf("unexpected answers: %v", starter.answers)
		}
		want := "Backing up Documents...\nBackup of Documents completed with files copied\n"
		if out.String() != want {
			t.Errorf("expected progress %q, got %q", want, out.String())
		}
	})

	t.Run("Nil confirm declines", func(t *testing.T) {
		starter := &scriptedStarter{
			destinations: []string{"/backups/a"},
			report:       &orchestrator.Report{Status: orchestrator.NothingBackedUp},
		}
		if _, err := driveBackup(context.Background(), starter, req, nil, &bytes.Buffer{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(starter.answers) != 1 || starter.answers[0] {
			t.Errorf("expected a single declined answer, got %v", starter.answers)
		}
	})

	t.Run("Busy", func(t *testing.T) {
		starter := &scriptedStarter{startErr: &orchestrator.BusyError{}}
		_, err := driveBackup(context.Background(), starter, req, nil, &bytes.Buffer{})
		if _, ok := errors.AsType[*orchestrator.BusyError](err); !ok {
			t.Errorf("expected BusyError, got %v", err)
		}
	})
}

func TestFinishBackup(t *testing.T) {
	failed := mirror.Classify(16, "access denied")
	copied := mirror.Classify(1, "")

	testCases := []struct {
		name       string
		report     *orchestrator.Report
		wantErr    bool
		wantOutput string
	}{
		{
			name: "Succeeded",
			report: &orchestrator.Report{
				Type: request.Documents, DestinationRoot: "/backups", LogPath: "/backups/backup_log.txt", Status: orchestrator.Succeeded,
				Pairs: []orchestrator.PairResult{{Pair: orchestrator.Pair{Source: "/home/me/Documents"}, Decision: skippolicy.Proceed, Outcome: &copied}},
			},
			wantOutput: "Backup completed successfully to /backups",
		},
		{
			name: "Nothing backed up is not a failure",
			report: &orchestrator.Report{
				Type: request.Documents, LogPath: "/backups/backup_log.txt", Status: orchestrator.NothingBackedUp,
			},
			wantOutput: "No folders backed up (all skipped or empty)",
		},
		{
			name: "Failed",
			report: &orchestrator.Report{
				Type: request.Custom, LogPath: "/backups/backup_log.txt", Status: orchestrator.Failed,
				Pairs: []orchestrator.PairResult{{Pair: orchestrator.Pair{Source: "/data/Music"}, Decision: skippolicy.Proceed, Outcome: &failed}},
			},
			wantErr:    true,
			wantOutput: "Error: backup of Music failed with exit code 16",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := finishBackup(tc.report, time.Second, &out)
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
			if !strings.Contains(out.String(), tc.wantOutput) {
				t.Errorf("expected output to contain %q, got %q", tc.wantOutput, out.String())
			}
			if !strings.Contains(out.String(), "backup_log.txt") {
				t.Errorf("expected summary to reference the log, got %q", out.String())
			}
		})
	}
}

func TestLoadRunConfig(t *testing.T) {
	t.Run("Missing dest", func(t *testing.T) {
		if _, err := loadRunConfig(flagparse.Backup, map[string]any{}); err == nil {
			t.Error("expected error without -dest")
		}
	})

	t.Run("Flags override the file", func(t *testing.T) {
		dest := t.TempDir()
		cfg := config.NewDefault()
		cfg.DestinationRoot = dest
		cfg.Copy.Threads = 2
		if err := config.Generate(cfg); err != nil {
			t.Fatal(err)
		}

		runConfig, err := loadRunConfig(flagparse.Backup, map[string]any{"dest": dest, "slow": true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if runConfig.Copy.Threads != 2 || !runConfig.Backup.SlowMode {
			t.Errorf("unexpected merged config: %+v", runConfig)
		}
		if runConfig.DestinationRoot != dest {
			t.Errorf("expected destination %q, got %q", dest, runConfig.DestinationRoot)
		}
	})

	t.Run("Invalid flag value", func(t *testing.T) {
		if _, err := loadRunConfig(flagparse.Backup, map[string]any{"dest": t.TempDir(), "overwrite": "maybe"}); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestRunBackup_CustomFolders(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	empty := t.TempDir()
	dest := t.TempDir()

	flagMap := map[string]any{
		"dest":       dest,
		"type":       "custom",
		"folders":    []string{src, empty},
		"engine":     "native",
		"transcript": "off",
		"overwrite":  "never",
	}
	if err := RunBackup(context.Background(), flagMap); err != nil {
		t.Fatalf("RunBackup failed: %v", err)
	}

	logData, err := os.ReadFile(filepath.Join(dest, "backup_log.txt"))
	if err != nil {
		t.Fatalf("expected backup log: %v", err)
	}
	if !strings.Contains(string(logData), "Skipped (source is empty)") {
		t.Errorf("expected empty folder to be logged as skipped, got:\n%s", logData)
	}

	// Second run: destination exists and the policy is "never".
	if err := RunBackup(context.Background(), flagMap); err != nil {
		t.Fatalf("second RunBackup failed: %v", err)
	}
	logData, _ = os.ReadFile(filepath.Join(dest, "backup_log.txt"))
	if !strings.Contains(string(logData), "Skipped (folder exists)") {
		t.Errorf("expected existing folder to be skipped, got:\n%s", logData)
	}
}

func TestRunInit(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "new-root")

	if err := RunInit(context.Background(), map[string]any{"dest": dest, "threads": 3, "type": "full"}); err != nil {
		t.Fatalf("RunInit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, config.ConfigFileName))
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	var written config.Config
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("invalid config JSON: %v", err)
	}
	if written.Copy.Threads != 3 || written.Backup.Type != "full" {
		t.Errorf("unexpected written config: %+v", written)
	}

	t.Run("Re-init keeps existing settings", func(t *testing.T) {
		if err := RunInit(context.Background(), map[string]any{"dest": dest, "retry-count": 1}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		cfg, err := config.Load(dest)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Copy.Threads != 3 || cfg.Copy.RetryCount != 1 {
			t.Errorf("expected threads kept and retry count updated, got %+v", cfg.Copy)
		}
	})

	t.Run("Forced default resets settings", func(t *testing.T) {
		if err := RunInit(context.Background(), map[string]any{"dest": dest, "default": true, "force": true}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		cfg, err := config.Load(dest)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Copy.Threads != 8 {
			t.Errorf("expected default threads, got %d", cfg.Copy.Threads)
		}
	})
}

func TestPrintPreview(t *testing.T) {
	root := t.TempDir()
	planned := []orchestrator.PlannedPair{
		{Pair: orchestrator.Pair{Source: "/home/me/Documents", Destination: filepath.Join(root, "_", "home", "me", "Documents")}},
		{Pair: orchestrator.Pair{Source: "relative"}, Err: errors.New("no volume")},
	}
	var out bytes.Buffer
	printPreview(&out, root, planned)

	got := out.String()
	for _, want := range []string{"/home/me/Documents", "-> " + filepath.Join(root, "_", "home", "me", "Documents"), "cannot be mapped: no volume", "Free space at destination:"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected preview to contain %q, got:\n%s", want, got)
		}
	}
}

func TestExistingParent(t *testing.T) {
	root := t.TempDir()
	if got := existingParent(filepath.Join(root, "a", "b")); got != root {
		t.Errorf("expected %q, got %q", root, got)
	}
	if got := existingParent(root); got != root {
		t.Errorf("expected %q, got %q", root, got)
	}
}
