package cmd_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-profile-backup/cmd"
	"github.com/paulschiretz/pgl-profile-backup/pkg/config"
)

// withStdio runs fn with input on stdin and returns what fn printed.
func withStdio(t *testing.T, input string, fn func()) string {
	t.Helper()
	rIn, wIn, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	origStdin, origStdout := os.Stdin, os.Stdout
	os.Stdin, os.Stdout = rIn, wOut
	defer func() {
		os.Stdin, os.Stdout = origStdin, origStdout
	}()

	go func() {
		_, _ = wIn.WriteString(input)
		_ = wIn.Close()
	}()

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, rOut)
		close(done)
	}()

	fn()

	_ = wOut.Close()
	<-done
	return buf.String()
}

func TestPromptForConfirmation(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		prompt     string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"Explicit Yes", "y\n", "Overwrite?", false, true, "Overwrite? [y/N]: "},
		{"Explicit No", "n\n", "Overwrite?", true, false, "Overwrite? [Y/n]: "},
		{"Default Yes (Empty)", "\n", "Sure?", true, true, "Sure? [Y/n]: "},
		{"Default No (Empty)", "\n", "Sure?", false, false, "Sure? [y/N]: "},
		{"Case Insensitive", "YES\n", "Go?", false, true, "Go? [y/N]: "},
		{"Anything Else Is No", "skip\n", "Go?", true, false, "Go? [Y/n]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			output := withStdio(t, tt.input, func() {
				got = cmd.PromptForConfirmation(tt.prompt, tt.defaultYes)
			})
			if got != tt.want {
				t.Errorf("PromptForConfirmation() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(output, tt.wantPrompt) {
				t.Errorf("Output = %q, want substring %q", output, tt.wantPrompt)
			}
		})
	}
}

func TestRunInit_DefaultAsksBeforeOverwriting(t *testing.T) {
	dest := t.TempDir()
	if err := cmd.RunInit(context.Background(), map[string]any{"dest": dest, "threads": 2}); err != nil {
		t.Fatalf("initial RunInit failed: %v", err)
	}

	var runErr error
	output := withStdio(t, "n\n", func() {
		runErr = cmd.RunInit(context.Background(), map[string]any{"dest": dest, "default": true})
	})
	if runErr != nil {
		t.Fatalf("declined RunInit returned error: %v", runErr)
	}
	if !strings.Contains(output, "Configuration file already exists") {
		t.Errorf("expected overwrite warning, got %q", output)
	}

	cfg, err := config.Load(dest)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Copy.Threads != 2 {
		t.Errorf("expected declined init to keep threads=2, got %d", cfg.Copy.Threads)
	}
}
