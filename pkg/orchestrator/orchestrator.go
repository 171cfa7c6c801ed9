// Package orchestrator runs a backup request end to end: resolve the
// sources, map each to its destination, decide per pair, copy the accepted
// pairs one after another and keep the audit log in the destination root.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/paulschiretz/pgl-profile-backup/pkg/backuplog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/destmap"
	"github.com/paulschiretz/pgl-profile-backup/pkg/lockfile"
	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/preflight"
	"github.com/paulschiretz/pgl-profile-backup/pkg/request"
	"github.com/paulschiretz/pgl-profile-backup/pkg/resolve"
	"github.com/paulschiretz/pgl-profile-backup/pkg/skippolicy"
	"github.com/paulschiretz/pgl-profile-backup/pkg/transcript"
	"github.com/paulschiretz/pgl-profile-backup/pkg/volume"
)

// ProgressFunc receives status text while a run is in progress.
type ProgressFunc func(message string)

// SourceResolver turns a request into source directories.
type SourceResolver interface {
	Resolve(req request.Request) ([]string, error)
}

// BusyError is returned when a run is already in progress, either in this
// process or, through the destination lock, in another one.
type BusyError struct {
	// Holder describes the other run when it is known.
	Holder string
}

func (e *BusyError) Error() string {
	if e.Holder == "" {
		return "a backup is already running"
	}
	return "a backup is already running: " + e.Holder
}

// Config holds the settings a run does not take from the request.
type Config struct {
	// Engine performs the copies. Defaults to the platform's engine.
	Engine mirror.Engine
	// Options is the base for every copy; slow mode and excludes are
	// applied per request.
	Options mirror.Options
	// FullProfileExcludes are skipped when the whole profile is backed up.
	FullProfileExcludes []string
	TranscriptFormat    transcript.Format
	// LockDestination guards the destination root against other processes.
	LockDestination bool
}

// Result is delivered by Start when the background run ends.
type Result struct {
	Report *Report
	Err    error
}

// Orchestrator runs one backup at a time.
type Orchestrator struct {
	cfg      Config
	resolver SourceResolver
	volumes  volume.Resolver
	sem      *semaphore.Weighted
	state    atomic.Int32

	// Swappable for tests.
	now       func() time.Time
	newRunID  func() string
	evaluate  func(source, destination string, confirm skippolicy.ConfirmFunc) (skippolicy.Decision, error)
	checkRoot func(root string) error
}

// New returns an Orchestrator for the current user and platform.
func New(cfg Config) *Orchestrator {
	if cfg.Engine == nil {
		cfg.Engine = mirror.New(mirror.DefaultEngineKind())
	}
	if cfg.TranscriptFormat == "" {
		cfg.TranscriptFormat = transcript.Off
	}
	return &Orchestrator{
		cfg:       cfg,
		resolver:  resolve.New(),
		volumes:   volume.NewDefault(),
		sem:       semaphore.NewWeighted(1),
		now:       time.Now,
		newRunID:  uuid.NewString,
		evaluate:  skippolicy.EvaluateWithReason,
		checkRoot: preflight.CheckDestinationRoot,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	plog.Debug("Orchestrator state", "state", s)
}

// Run executes req on the calling goroutine. A second call while a run is
// in progress fails immediately with *BusyError.
//
// The returned error is a *request.ConfigurationError when the request
// cannot start, a *BusyError, or the context error when ctx is done before
// copying begins; in the last case the report has status Canceled.
// Copy failures do not produce an error here; they are in the report (see
// Report.Err). Once copying has started ctx is no longer observed.
func (o *Orchestrator) Run(ctx context.Context, req request.Request, confirm skippolicy.ConfirmFunc, progress ProgressFunc) (*Report, error) {
	if !o.sem.TryAcquire(1) {
		return nil, &BusyError{}
	}
	defer o.sem.Release(1)
	return o.run(ctx, req, confirm, progress)
}

// Start runs req on a background goroutine and delivers the result on the
// returned channel. The busy check happens before Start returns. confirm
// and progress are called from the background goroutine.
func (o *Orchestrator) Start(ctx context.Context, req request.Request, confirm skippolicy.ConfirmFunc, progress ProgressFunc) (<-chan Result, error) {
	if !o.sem.TryAcquire(1) {
		return nil, &BusyError{}
	}
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		defer o.sem.Release(1)
		report, err := o.run(ctx, req, confirm, progress)
		results <- Result{Report: report, Err: err}
	}()
	return results, nil
}

// Preview resolves and maps req without evaluating or copying anything.
// Pairs whose source cannot be mapped carry the mapping error.
func (o *Orchestrator) Preview(req request.Request) ([]PlannedPair, error) {
	sources, err := o.resolver.Resolve(req)
	if err != nil {
		return nil, err
	}
	mapper := destmap.New(o.volumes)
	planned := make([]PlannedPair, 0, len(sources))
	for _, source := range sources {
		dest, err := mapper.Map(source, req.DestinationRoot())
		planned = append(planned, PlannedPair{Pair: Pair{Source: source, Destination: dest}, Err: err})
	}
	return planned, nil
}

// PlannedPair is a Preview result.
type PlannedPair struct {
	Pair
	Err error
}

func (o *Orchestrator) run(ctx context.Context, req request.Request, confirm skippolicy.ConfirmFunc, progress ProgressFunc) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string) {}
	}

	root := req.DestinationRoot()
	if root == "" {
		return nil, &request.ConfigurationError{Reason: "no backup destination selected"}
	}
	if err := o.checkRoot(root); err != nil {
		return nil, &request.ConfigurationError{Reason: err.Error()}
	}

	runID := o.newRunID()
	if o.cfg.LockDestination {
		lock, err := lockfile.Acquire(ctx, root, runID)
		if err != nil {
			if active, ok := errors.AsType[*lockfile.ErrLockActive](err); ok {
				return nil, &BusyError{Holder: active.Error()}
			}
			return nil, fmt.Errorf("failed to lock destination root: %w", err)
		}
		defer lock.Release()
	}

	log := backuplog.New(root)
	report := &Report{
		RunID:           runID,
		Type:            req.Type(),
		DestinationRoot: root,
		LogPath:         log.Path(),
		Started:         o.now(),
	}
	appendLog := func(e backuplog.Entry) {
		if err := log.Append(e); err != nil {
			report.LogErrors++
			plog.Warn("Could not write backup log entry", "error", err)
		}
	}
	defer o.setState(Idle)

	plog.Info("Starting backup run", "run_id", runID, "type", req.Type(), "destination", root, "slow_mode", req.SlowMode())
	appendLog(backuplog.Entry{Kind: backuplog.RunStarted, Time: report.Started})

	// Resolve.
	o.setState(Resolving)
	sources, err := o.resolver.Resolve(req)
	if err != nil {
		plog.Error("Backup request rejected", "error", err)
		appendLog(backuplog.Entry{Kind: backuplog.Failure, Error: err.Error()})
		report.Status = Rejected
		report.Reason = err.Error()
		if cfgErr, ok := errors.AsType[*request.ConfigurationError](err); ok {
			report.Reason = cfgErr.Reason
		}
		report.Finished = o.now()
		progress(report.StatusText())
		return report, err
	}

	// Map and evaluate every source before copying anything.
	o.setState(Evaluating)
	mapper := destmap.New(o.volumes)
	var accepted []int
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return o.cancelRun(report, err, appendLog, progress)
		}
		result := PairResult{Pair: Pair{Source: source}}
		dest, err := mapper.Map(source, root)
		if err != nil {
			result.Decision = skippolicy.FailInvalidSource
			result.Reason = err.Error()
		} else {
			result.Destination = dest
			decision, reason := o.evaluate(source, dest, confirm)
			result.Decision = decision
			if reason != nil {
				result.Reason = reason.Error()
			}
		}

		plog.Debug("Evaluated source", "source", result.Source, "destination", result.Destination, "decision", result.Decision)
		appendLog(backuplog.Entry{
			Kind:        backuplog.Pair,
			Source:      result.Source,
			Destination: result.Destination,
			Status:      backuplog.DecisionStatus(result.Decision),
			Error:       result.Reason,
		})

		switch result.Decision {
		case skippolicy.Proceed:
			accepted = append(accepted, len(report.Pairs))
		case skippolicy.SkipEmpty:
			progress(fmt.Sprintf("Skipped backup of %s (source is empty)", baseName(source)))
		case skippolicy.SkipExists:
			progress(fmt.Sprintf("Skipped backup of %s (folder exists)", baseName(source)))
		case skippolicy.FailInvalidSource:
			plog.Warn("Skipping invalid source", "source", source, "reason", result.Reason)
			progress(fmt.Sprintf("Skipped backup of %s (invalid source)", baseName(source)))
		}
		report.Pairs = append(report.Pairs, result)
	}

	if len(accepted) == 0 {
		o.setState(Reporting)
		appendLog(backuplog.Entry{Kind: backuplog.Note, Status: backuplog.NothingBackedUpMessage})
		report.Status = NothingBackedUp
		report.Finished = o.now()
		plog.Info("No folders backed up", "run_id", runID)
		progress(report.StatusText())
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return o.cancelRun(report, err, appendLog, progress)
	}

	// Copy strictly in order. A copy cannot be interrupted once started.
	o.setState(Copying)
	copyCtx := context.WithoutCancel(ctx)
	for n, i := range accepted {
		result := &report.Pairs[i]
		progress(fmt.Sprintf("Backing up %s...", baseName(result.Source)))

		opts := o.optionsFor(req, result.Source)
		var tw *transcript.Writer
		if o.cfg.TranscriptFormat != transcript.Off {
			tw, err = transcript.Open(root, transcript.Header{
				RunID:       runID,
				Index:       n + 1,
				Source:      result.Source,
				Destination: result.Destination,
				Started:     o.now(),
			}, o.cfg.TranscriptFormat)
			if err != nil {
				plog.Warn("Could not create copy transcript", "error", err)
			} else {
				opts.Transcript = tw
				result.Transcript = tw.Path()
			}
		}

		plog.Debug("Copying", "source", result.Source, "destination", result.Destination)
		outcome := o.cfg.Engine.Copy(copyCtx, result.Source, result.Destination, opts)
		result.Outcome = &outcome
		plog.Debug("Copy finished", "source", result.Source, "exit_code", outcome.Code, "kind", outcome.Kind)

		if tw != nil {
			if err := tw.Close(); err != nil {
				plog.Warn("Copy transcript is incomplete", "path", tw.Path(), "error", err)
			}
		}

		entry := backuplog.Entry{
			Kind:        backuplog.Pair,
			Source:      result.Source,
			Destination: result.Destination,
			Status:      backuplog.OutcomeStatus(outcome),
		}
		if err := outcome.Err(); err != nil {
			entry.Error = err.Error()
			plog.Error("Copy failed", "source", result.Source, "exit_code", outcome.Code, "detail", outcome.Detail)
		}
		appendLog(entry)
		progress(pairProgress(result.Source, outcome))
	}

	o.setState(Reporting)
	report.Finished = o.now()
	appendLog(backuplog.Entry{Kind: backuplog.RunCompleted, Time: report.Finished})

	report.Status = Succeeded
	if len(report.failedCopies()) > 0 {
		report.Status = Failed
	}
	plog.Info("Backup run finished", "run_id", runID, "status", report.Status, "copied", report.Copied(), "duration", report.Finished.Sub(report.Started).Round(time.Second))
	progress(report.StatusText())
	return report, nil
}

// cancelRun ends a run whose context was canceled before copying began.
func (o *Orchestrator) cancelRun(report *Report, cause error, appendLog func(backuplog.Entry), progress ProgressFunc) (*Report, error) {
	o.setState(Reporting)
	report.Status = Canceled
	report.Reason = cause.Error()
	report.Finished = o.now()
	plog.Warn("Backup run canceled", "run_id", report.RunID, "evaluated", len(report.Pairs), "reason", cause)
	appendLog(backuplog.Entry{Kind: backuplog.Failure, Error: "backup canceled before copying started"})
	progress(report.StatusText())
	return report, cause
}

// optionsFor derives the copy options for one source of req.
func (o *Orchestrator) optionsFor(req request.Request, source string) mirror.Options {
	opts := o.cfg.Options
	opts.ExcludeDirs = nil
	opts.Transcript = nil
	if req.SlowMode() {
		opts.MultiThreaded = false
	}
	if req.Type() == request.FullProfile {
		opts.ExcludeDirs = slices.Clone(o.cfg.FullProfileExcludes)
	}
	// A destination inside the source must not be copied into itself.
	root := req.DestinationRoot()
	if filepath.IsAbs(root) && preflight.IsWithin(root, source) {
		opts.ExcludeDirs = append(opts.ExcludeDirs, filepath.Clean(root))
	}
	return opts
}

func pairProgress(source string, o mirror.Outcome) string {
	name := baseName(source)
	switch o.Kind {
	case mirror.NoChangesNeeded:
		return fmt.Sprintf("Backup of %s completed (no new/changed files to copy)", name)
	case mirror.CompletedWithChanges:
		return fmt.Sprintf("Backup of %s completed with files copied", name)
	case mirror.CompletedWithStatus:
		return fmt.Sprintf("Backup of %s completed with status %d", name, o.Code)
	default:
		return fmt.Sprintf("Backup of %s failed with exit code %d", name, o.Code)
	}
}
