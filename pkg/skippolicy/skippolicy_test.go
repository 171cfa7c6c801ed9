package skippolicy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluate(t *testing.T) {
	base := t.TempDir()

	populated := filepath.Join(base, "populated")
	writeFile(t, filepath.Join(populated, "a.txt"))

	empty := filepath.Join(base, "empty")
	if err := os.Mkdir(empty, 0755); err != nil {
		t.Fatal(err)
	}

	onlySubdir := filepath.Join(base, "only-subdir")
	if err := os.MkdirAll(filepath.Join(onlySubdir, "child"), 0755); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(base, "file.txt")
	writeFile(t, file)

	existingDest := filepath.Join(base, "dest-exists")
	if err := os.Mkdir(existingDest, 0755); err != nil {
		t.Fatal(err)
	}
	missingDest := filepath.Join(base, "dest-missing")

	yes := func(string) bool { return true }
	no := func(string) bool { return false }

	testCases := []struct {
		name        string
		source      string
		destination string
		confirm     ConfirmFunc
		want        Decision
	}{
		{"missing source", filepath.Join(base, "nope"), missingDest, yes, FailInvalidSource},
		{"source is a file", file, missingDest, yes, FailInvalidSource},
		{"empty source", empty, missingDest, yes, SkipEmpty},
		{"empty source with existing destination", empty, existingDest, yes, SkipEmpty},
		{"subdirectory counts as an entry", onlySubdir, missingDest, no, Proceed},
		{"new destination", populated, missingDest, no, Proceed},
		{"existing destination confirmed", populated, existingDest, yes, Proceed},
		{"existing destination declined", populated, existingDest, no, SkipExists},
		{"existing destination without confirm", populated, existingDest, nil, SkipExists},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.source, tc.destination, tc.confirm); got != tc.want {
				t.Errorf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluate_EmptySourceNeverPrompts(t *testing.T) {
	base := t.TempDir()
	empty := filepath.Join(base, "empty")
	dest := filepath.Join(base, "dest")
	for _, d := range []string{empty, dest} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	prompted := false
	Evaluate(empty, dest, func(string) bool { prompted = true; return true })
	if prompted {
		t.Error("confirm was called for an empty source")
	}
}

func TestEvaluateWithReason(t *testing.T) {
	d, err := EvaluateWithReason(filepath.Join(t.TempDir(), "missing"), "x", nil)
	if d != FailInvalidSource || err == nil {
		t.Errorf("expected FailInvalidSource with a reason, got %v, %v", d, err)
	}
}
