package backuplog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
)

func TestAppend_KeepsPriorContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("earlier run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	log := New(root)
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	entries := []Entry{
		{Kind: RunStarted, Time: started},
		{
			Kind:        Pair,
			Source:      `C:\Users\me\Documents`,
			Destination: `D:\Backups\C\Users\me\Documents`,
			Status:      OutcomeStatus(mirror.Classify(1, "")),
		},
		{Kind: RunCompleted, Time: started.Add(72 * time.Second)},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	want := "earlier run\n" +
		"Backup started at: 2024-01-15 10:30:00\n" +
		"Source: C:\\Users\\me\\Documents\n" +
		"Destination: D:\\Backups\\C\\Users\\me\\Documents\n" +
		"Status: Completed with files copied\n" +
		"Backup completed at: 2024-01-15 10:31:12\n\n"
	if string(data) != want {
		t.Errorf("log content mismatch\ngot:\n%s\nwant:\n%s", data, want)
	}
}

func TestAppend_MissingRootIsWriteError(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "missing"))
	err := log.Append(Entry{Kind: Note, Status: NothingBackedUpMessage})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
	if writeErr.Path != log.Path() {
		t.Errorf("WriteError.Path = %q, want %q", writeErr.Path, log.Path())
	}
}

func TestFormat(t *testing.T) {
	failed := mirror.Classify(8, "ERROR 5 Access is denied.\n")
	testCases := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "skip empty",
			entry: Entry{Kind: Pair, Source: "/a", Destination: "/d/_/a", Status: DecisionStatus(skippolicy.SkipEmpty)},
			want:  "Source: /a\nDestination: /d/_/a\nStatus: Skipped (source is empty)\n",
		},
		{
			name:  "failed copy with error line",
			entry: Entry{Kind: Pair, Source: "/a", Destination: "/d/_/a", Status: OutcomeStatus(failed), Error: failed.Err().Error()},
			want:  "Source: /a\nDestination: /d/_/a\nStatus: Failed with exit code 8\nError: copy failed with exit code 8: ERROR 5 Access is denied.\n",
		},
		{
			name:  "nothing backed up",
			entry: Entry{Kind: Note, Status: NothingBackedUpMessage},
			want:  "No folders backed up (all skipped or empty)\n",
		},
		{
			name:  "run failure",
			entry: Entry{Kind: Failure, Error: "invalid backup request: no folders"},
			want:  "Error: invalid backup request: no folders\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Format(); got != tc.want {
				t.Errorf("Format() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusTexts(t *testing.T) {
	if got := OutcomeStatus(mirror.Classify(0, "")); got != "Completed (no new/changed files to copy)" {
		t.Errorf("unexpected status %q", got)
	}
	if got := OutcomeStatus(mirror.Classify(3, "")); got != "Completed with status 3" {
		t.Errorf("unexpected status %q", got)
	}
	if got := DecisionStatus(skippolicy.SkipExists); got != "Skipped (folder exists)" {
		t.Errorf("unexpected status %q", got)
	}
	if got := DecisionStatus(skippolicy.FailInvalidSource); got != "Failed (invalid source)" {
		t.Errorf("unexpected status %q", got)
	}
}
