package mirror

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryCount = 1
	opts.RetryWait = 0
	return opts
}

func newTestNative() *Native {
	return &Native{sleep: func(context.Context, time.Duration) {}}
}

func TestNativeCopy_CopiesTree(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dest", "C", "src")

	createFile(t, filepath.Join(src, "a.txt"), "a")
	createFile(t, filepath.Join(src, "nested", "b.txt"), "bb")
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	var transcript bytes.Buffer
	opts := testOptions()
	opts.Transcript = &transcript

	outcome := newTestNative().Copy(context.Background(), src, dst, opts)
	if outcome.Kind != CompletedWithChanges || outcome.Code != 1 {
		t.Fatalf("expected CompletedWithChanges(1), got %+v", outcome)
	}

	for _, p := range []string{"a.txt", filepath.Join("nested", "b.txt")} {
		if _, err := os.Stat(filepath.Join(dst, p)); err != nil {
			t.Errorf("expected %s to be copied: %v", p, err)
		}
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("expected empty directory to be created: %v", err)
	}
	if !strings.Contains(transcript.String(), "New File") {
		t.Errorf("expected verbose transcript lines, got %q", transcript.String())
	}
}

func TestNativeCopy_SecondRunHasNoChanges(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	createFile(t, filepath.Join(src, "a.txt"), "a")

	n := newTestNative()
	if first := n.Copy(context.Background(), src, dst, testOptions()); first.Kind != CompletedWithChanges {
		t.Fatalf("first run: expected CompletedWithChanges, got %+v", first)
	}
	if second := n.Copy(context.Background(), src, dst, testOptions()); second.Kind != NoChangesNeeded || second.Code != 0 {
		t.Errorf("second run: expected NoChangesNeeded, got %+v", second)
	}
}

func TestNativeCopy_ModTimeWindow(t *testing.T) {
	// An even second, so 1.9s and 2.1s past it fall into different 2s buckets.
	epoch := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		srcTime  time.Time
		dstTime  time.Time
		wantKind Kind
	}{
		{"identical", epoch, epoch, NoChangesNeeded},
		{"across a 2s boundary", epoch.Add(1900 * time.Millisecond), epoch.Add(2100 * time.Millisecond), NoChangesNeeded},
		{"destination older within window", epoch.Add(2 * time.Second), epoch, NoChangesNeeded},
		{"outside window", epoch.Add(5 * time.Second), epoch, CompletedWithChanges},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			base := t.TempDir()
			src := filepath.Join(base, "src", "a.txt")
			dst := filepath.Join(base, "dst", "a.txt")
			createFile(t, src, "same")
			createFile(t, dst, "same")
			if err := os.Chtimes(src, tc.srcTime, tc.srcTime); err != nil {
				t.Fatal(err)
			}
			if err := os.Chtimes(dst, tc.dstTime, tc.dstTime); err != nil {
				t.Fatal(err)
			}

			outcome := newTestNative().Copy(context.Background(), filepath.Dir(src), filepath.Dir(dst), testOptions())
			if outcome.Kind != tc.wantKind {
				t.Errorf("expected %v, got %+v", tc.wantKind, outcome)
			}
		})
	}
}

func TestNativeCopy_ExcludesDirectories(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "home")
	dst := filepath.Join(base, "dst")
	createFile(t, filepath.Join(src, "Documents", "doc.txt"), "d")
	createFile(t, filepath.Join(src, "AppData", "Local", "cache.bin"), "c")
	createFile(t, filepath.Join(src, "Documents", "appdata", "keep.txt"), "k")

	opts := testOptions()
	opts.ExcludeDirs = []string{"AppData"}
	outcome := newTestNative().Copy(context.Background(), src, dst, opts)
	if !outcome.Succeeded() {
		t.Fatalf("unexpected failure: %+v", outcome)
	}
	if _, err := os.Stat(filepath.Join(dst, "AppData")); !os.IsNotExist(err) {
		t.Errorf("expected AppData to be excluded, stat err = %v", err)
	}
	// Names match case-insensitively at any depth.
	if _, err := os.Stat(filepath.Join(dst, "Documents", "appdata")); !os.IsNotExist(err) {
		t.Errorf("expected nested appdata to be excluded, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Documents", "doc.txt")); err != nil {
		t.Errorf("expected doc.txt to be copied: %v", err)
	}
}

func TestNativeCopy_ExtrasAreReportedNotRemoved(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	createFile(t, filepath.Join(src, "a.txt"), "a")

	n := newTestNative()
	n.Copy(context.Background(), src, dst, testOptions())
	createFile(t, filepath.Join(dst, "old.txt"), "old")

	outcome := n.Copy(context.Background(), src, dst, testOptions())
	if outcome.Kind != CompletedWithStatus || outcome.Code != 2 {
		t.Errorf("expected CompletedWithStatus(2), got %+v", outcome)
	}
	if _, err := os.Stat(filepath.Join(dst, "old.txt")); err != nil {
		t.Errorf("extra file must survive: %v", err)
	}
}

func TestNativeCopy_Failures(t *testing.T) {
	t.Run("missing source is fatal", func(t *testing.T) {
		base := t.TempDir()
		outcome := newTestNative().Copy(context.Background(), filepath.Join(base, "missing"), filepath.Join(base, "dst"), testOptions())
		if outcome.Kind != Failed || outcome.Code != bitFatal {
			t.Errorf("expected Failed(16), got %+v", outcome)
		}
	})

	t.Run("one file fails, the rest is copied", func(t *testing.T) {
		base := t.TempDir()
		src := filepath.Join(base, "src")
		dst := filepath.Join(base, "dst")
		createFile(t, filepath.Join(src, "a.txt"), "a")
		createFile(t, filepath.Join(src, "b.txt"), "b")
		// A directory where a file should go cannot be overwritten.
		if err := os.MkdirAll(filepath.Join(dst, "a.txt"), 0755); err != nil {
			t.Fatal(err)
		}

		outcome := newTestNative().Copy(context.Background(), src, dst, testOptions())
		if outcome.Kind != Failed || outcome.Code != bitCopied|bitFailures {
			t.Errorf("expected Failed(9), got %+v", outcome)
		}
		if !strings.Contains(outcome.Detail, "a.txt") {
			t.Errorf("expected detail to name the failing file, got %q", outcome.Detail)
		}
		if _, err := os.Stat(filepath.Join(dst, "b.txt")); err != nil {
			t.Errorf("expected b.txt to be copied despite the failure: %v", err)
		}
	})
}

func TestNativeCopy_SingleThreaded(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	for _, name := range []string{"1", "2", "3", "4"} {
		createFile(t, filepath.Join(src, name+".txt"), name)
	}

	opts := testOptions()
	opts.MultiThreaded = false
	if outcome := newTestNative().Copy(context.Background(), src, dst, opts); outcome.Kind != CompletedWithChanges {
		t.Errorf("expected CompletedWithChanges, got %+v", outcome)
	}
}

func TestNativeCopy_ExcludesAbsoluteDirectory(t *testing.T) {
	home := t.TempDir()
	createFile(t, filepath.Join(home, "Documents", "doc.txt"), "d")
	// The destination lives inside the source tree.
	dst := filepath.Join(home, "UserProfileBackups", "_", "home")
	createFile(t, filepath.Join(home, "UserProfileBackups", "backup_log.txt"), "log")

	opts := testOptions()
	opts.ExcludeDirs = []string{"AppData", filepath.Join(home, "UserProfileBackups")}
	outcome := newTestNative().Copy(context.Background(), home, dst, opts)
	if !outcome.Succeeded() {
		t.Fatalf("unexpected failure: %+v", outcome)
	}
	if _, err := os.Stat(filepath.Join(dst, "UserProfileBackups")); !os.IsNotExist(err) {
		t.Errorf("expected destination root to be excluded from its own copy, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Documents", "doc.txt")); err != nil {
		t.Errorf("expected doc.txt to be copied: %v", err)
	}
}
