// Package lockfile keeps two processes from backing up into the same
// destination root at once. The lock is a small JSON file in the root,
// created exclusively and refreshed by a heartbeat; a lock whose heartbeat
// stopped is considered abandoned and taken over.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// FileName is the lock file created in the destination root.
const FileName = ".~profile-backup.lock"

// Content is what the lock file holds.
type Content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	RunID      string    `json:"runID"`
	LastUpdate time.Time `json:"lastUpdate"`
	// Token identifies one acquisition; it decides takeover races.
	Token string `json:"token"`
}

// ErrLockActive is returned when another live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	RunID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by PID %d on host '%s' (run %s), last updated %s ago",
		e.PID, e.Hostname, e.RunID, e.TimeSince.Truncate(time.Second))
}

var errLostRace = errors.New("lost race during stale lock takeover")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 30 * time.Second
	staleTimeout      = 3 * heartbeatInterval
	retryPause        = 100 * time.Millisecond
)

// Lock is a held lock. Release it when the run ends.
type Lock struct {
	path    string
	mu      sync.Mutex
	content Content
	stop    context.CancelFunc
	done    chan struct{}
	held    bool
}

// Acquire takes the lock in dir for runID. It returns *ErrLockActive when
// another process holds a fresh lock. ctx bounds the acquisition only.
func Acquire(ctx context.Context, dir, runID string) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	const maxAttempts = 3
	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := newContent(runID)
		if err != nil {
			return nil, err
		}

		err = createExclusive(path, content)
		if err == nil {
			return start(path, content), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, readErr := read(path)
		switch {
		case errors.Is(readErr, os.ErrNotExist):
			// Released between our create and read.
			continue
		case readErr != nil:
			plog.Warn("Unreadable lock file, treating as stale", "path", path, "error", readErr)
		default:
			age := time.Since(existing.LastUpdate)
			if age < staleTimeout {
				return nil, &ErrLockActive{PID: existing.PID, Hostname: existing.Hostname, RunID: existing.RunID, TimeSince: age}
			}
			plog.Warn("Found stale lock, taking over", "pid", existing.PID, "host", existing.Hostname, "age", age.Truncate(time.Second))
		}

		if err := takeOver(path, content); err != nil {
			plog.Debug("Lock takeover failed, retrying", "error", err)
			time.Sleep(retryPause)
			continue
		}
		return start(path, content), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

func newContent(runID string) (Content, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Content{}, err
	}
	return Content{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		RunID:      runID,
		LastUpdate: time.Now().UTC(),
		Token:      uuid.NewString(),
	}, nil
}

func createExclusive(path string, content Content) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// takeOver replaces a stale lock and reads it back; whoever's token is on
// disk afterwards owns the lock.
func takeOver(path string, content Content) error {
	if err := writeAtomic(path, content); err != nil {
		return err
	}
	onDisk, err := read(path)
	if err != nil {
		return err
	}
	if onDisk.Token != content.Token {
		return errLostRace
	}
	return nil
}

// writeAtomic writes content to a temp file in the same directory and
// renames it over path, so readers never see a partial file.
func writeAtomic(path string, content Content) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

func read(path string) (Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, err
	}
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, fmt.Errorf("corrupt lock file: %w", err)
	}
	return c, nil
}

func start(path string, content Content) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: path, content: content, stop: cancel, done: make(chan struct{}), held: true}
	go l.heartbeat(ctx)
	plog.Debug("Lock acquired", "path", path)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := writeAtomic(l.path, content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	l.stop()
	<-l.done
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}
