package mirror

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// tailSize bounds the diagnostic text kept from a tool's output.
const tailSize = 4 << 10

// CommandFunc builds an exec.Cmd. It matches exec.CommandContext so tests
// can substitute a helper process.
type CommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// syncWriter serializes writes from concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runTool runs cmd to completion with stdout and stderr streamed into sink.
// It returns the exit code and the tail of the output. A tool that cannot be
// started yields CodeNotStarted and the start error; a tool killed by a
// signal yields CodeTerminated with the signal in the output tail.
func runTool(cmd *exec.Cmd, sink io.Writer) (int, string, error) {
	tail := newTailBuffer(tailSize)
	out := &syncWriter{w: io.MultiWriter(sink, tail)}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return 0, tail.String(), nil
	}
	if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, tail.String(), nil
		}
		// Terminated by a signal.
		detail := strings.TrimSpace(tail.String() + "\n" + exitErr.String())
		return CodeTerminated, detail, nil
	}
	return CodeNotStarted, tail.String(), err
}
