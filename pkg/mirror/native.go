package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-profile-backup/pkg/metrics"
	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
	"github.com/paulschiretz/pgl-profile-backup/pkg/pool"
	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// Exit-code bits produced by the native engine. They follow robocopy's
// meaning so both engines classify the same way.
const (
	bitCopied   = 1
	bitExtras   = 2
	bitFailures = 8
	bitFatal    = 16
)

// copyBuffers are shared by all native copies; 256KB each.
var copyBuffers = pool.NewFixedBufferPool(256 * 1024)

// modTimeWindow absorbs filesystems with coarse timestamps (FAT stores 2s).
const modTimeWindow = 2 * time.Second

// Native copies with the Go standard file APIs. Files are compared by size
// and modification time; unchanged files are left alone and nothing in the
// destination is ever deleted.
type Native struct {
	// sleep waits between retries; swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewNative returns the native engine.
func NewNative() *Native {
	return &Native{sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// nativeRun is the state of one Copy call.
type nativeRun struct {
	ctx        context.Context
	src, trg   string
	opts       Options
	sleep      func(ctx context.Context, d time.Duration)
	transcript io.Writer
	errs       *tailBuffer

	metrics metrics.CopyMetrics
}

// Copy implements Engine.
func (n *Native) Copy(ctx context.Context, source, destination string, opts Options) Outcome {
	r := &nativeRun{
		ctx:        ctx,
		src:        filepath.Clean(source),
		trg:        filepath.Clean(destination),
		opts:       opts,
		sleep:      n.sleep,
		transcript: &syncWriter{w: opts.transcript()},
		errs:       newTailBuffer(tailSize),
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}

	code := r.execute()
	r.metrics.Log(source)
	return Classify(code, r.errs.String())
}

func (r *nativeRun) execute() int {
	srcInfo, err := os.Stat(r.src)
	if err != nil {
		r.fail("source", err)
		return bitFatal
	}
	if !srcInfo.IsDir() {
		r.fail("source", fmt.Errorf("%s is not a directory", r.src))
		return bitFatal
	}
	if err := os.MkdirAll(r.trg, util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		r.fail("destination", err)
		return bitFatal
	}

	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.threads())

	walkErr := filepath.WalkDir(r.src, func(absSrcPath string, d fs.DirEntry, err error) error {
		if ctxErr := gctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			r.fail(absSrcPath, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(r.src, absSrcPath)
		if err != nil {
			r.fail(absSrcPath, err)
			return nil
		}
		absTrgPath := filepath.Join(r.trg, rel)

		switch {
		case d.IsDir():
			return r.processDirectory(rel, absSrcPath, absTrgPath, d)
		case d.Type()&fs.ModeSymlink != 0:
			r.processSymlink(rel, absSrcPath, absTrgPath)
		case d.Type().IsRegular():
			// Workers never return errors; a failed file must not stop the others.
			g.Go(func() error {
				r.processFile(gctx, rel, absSrcPath, absTrgPath)
				return nil
			})
		default:
			r.logLine("*SPECIAL", 0, rel)
		}
		return nil
	})
	waitErr := g.Wait()

	code := 0
	if walkErr != nil || waitErr != nil {
		r.fail("copy interrupted", errors.Join(walkErr, waitErr))
		code |= bitFatal
	}
	if r.metrics.FilesCopied.Load() > 0 {
		code |= bitCopied
	}
	if r.metrics.Extras.Load() > 0 {
		code |= bitExtras
	}
	if r.metrics.Failures.Load() > 0 {
		code |= bitFailures
	}
	return code
}

func (r *nativeRun) processDirectory(rel, absSrcPath, absTrgPath string, d fs.DirEntry) error {
	if rel != "." {
		if r.isExcluded(absSrcPath, d.Name()) {
			r.logLine("*EXCLUDED Dir", 0, rel)
			return fs.SkipDir
		}
		if !r.opts.RecursiveIncludingEmptyDirs {
			return fs.SkipDir
		}
	}

	info, err := d.Info()
	if err != nil {
		r.fail(absSrcPath, err)
		return fs.SkipDir
	}
	if _, err := os.Stat(absTrgPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(absTrgPath, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
			r.fail(absTrgPath, err)
			return fs.SkipDir
		}
		r.metrics.AddDirCreated()
		r.logLine("New Dir", 0, rel)
	}
	r.countExtras(rel, absSrcPath, absTrgPath)
	return nil
}

// countExtras records destination entries that have no source counterpart.
// They are reported, never removed.
func (r *nativeRun) countExtras(rel, absSrcPath, absTrgPath string) {
	trgEntries, err := os.ReadDir(absTrgPath)
	if err != nil || len(trgEntries) == 0 {
		return
	}
	srcEntries, err := os.ReadDir(absSrcPath)
	if err != nil {
		return
	}
	present := make(map[string]struct{}, len(srcEntries))
	for _, e := range srcEntries {
		present[e.Name()] = struct{}{}
	}
	for _, e := range trgEntries {
		if _, ok := present[e.Name()]; ok {
			continue
		}
		r.metrics.AddExtra()
		r.logLine("*EXTRA", 0, filepath.Join(rel, e.Name()))
	}
}

// isExcluded matches a directory against ExcludeDirs. Absolute entries name
// one directory; the rest are name patterns matched case-insensitively.
func (r *nativeRun) isExcluded(absPath, name string) bool {
	for _, pattern := range r.opts.ExcludeDirs {
		if filepath.IsAbs(pattern) {
			if util.PathKey(filepath.Clean(pattern)) == util.PathKey(absPath) {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(name)); ok {
			return true
		}
	}
	return false
}

func (r *nativeRun) processFile(ctx context.Context, rel, absSrcPath, absTrgPath string) {
	srcInfo, err := os.Stat(absSrcPath)
	if err != nil {
		r.fail(absSrcPath, err)
		return
	}

	tag := "New File"
	if trgInfo, err := os.Lstat(absTrgPath); err == nil {
		if trgInfo.Mode().IsRegular() &&
			trgInfo.Size() == srcInfo.Size() &&
			sameModTime(srcInfo.ModTime(), trgInfo.ModTime()) {
			r.metrics.AddFileUnchanged()
			r.logLine("same", srcInfo.Size(), rel)
			return
		}
		if trgInfo.IsDir() {
			r.fail(absTrgPath, errors.New("destination is a directory"))
			return
		}
		tag = "Newer"
	}

	if err := r.withRetries(ctx, absSrcPath, func() error { return copyFile(absSrcPath, absTrgPath, srcInfo) }); err != nil {
		r.fail(absSrcPath, err)
		return
	}
	r.metrics.AddFileCopied(srcInfo.Size())
	r.logLine(tag, srcInfo.Size(), rel)
}

// sameModTime reports whether a and b are at most modTimeWindow apart.
func sameModTime(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= modTimeWindow
}

func (r *nativeRun) processSymlink(rel, absSrcPath, absTrgPath string) {
	target, err := os.Readlink(absSrcPath)
	if err != nil {
		r.fail(absSrcPath, err)
		return
	}
	if existing, err := os.Readlink(absTrgPath); err == nil && existing == target {
		r.metrics.AddFileUnchanged()
		r.logLine("same", 0, rel)
		return
	}
	err = r.withRetries(r.ctx, absSrcPath, func() error {
		tmp := absTrgPath + ".pgl-profile-backup-link.tmp"
		_ = os.Remove(tmp)
		if err := os.Symlink(target, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, absTrgPath); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return nil
	})
	if err != nil {
		r.fail(absSrcPath, err)
		return
	}
	r.metrics.AddFileCopied(0)
	r.logLine("New Link", 0, rel)
}

func (r *nativeRun) withRetries(ctx context.Context, path string, op func() error) error {
	var lastErr error
	for i := range r.opts.RetryCount + 1 {
		if i > 0 {
			plog.Warn("Retrying copy", "path", path, "attempt", fmt.Sprintf("%d/%d", i, r.opts.RetryCount), "after", r.opts.RetryWait)
			r.sleep(ctx, r.opts.RetryWait)
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", r.opts.RetryCount+1, lastErr)
}

// copyFile writes src to a temporary file next to trg and renames it into
// place, so trg is never left half written.
func copyFile(absSrcPath, absTrgPath string, srcInfo os.FileInfo) error {
	in, err := os.Open(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(absTrgPath), "pgl-profile-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", filepath.Dir(absTrgPath), err)
	}
	absTempPath := out.Name()
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	buf := copyBuffers.Get()
	_, err = io.CopyBuffer(out, in, *buf)
	copyBuffers.Put(buf)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to copy content to %s: %w", absTempPath, err)
	}
	if err := out.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		out.Close()
		return fmt.Errorf("failed to set permissions on %s: %w", absTempPath, err)
	}
	// Close before Chtimes: flushing can touch the modification time.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}
	if err := os.Chtimes(absTempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}
	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return err
	}
	absTempPath = ""
	return nil
}

func (r *nativeRun) fail(what string, err error) {
	r.metrics.AddFailure()
	plog.Warn("Copy error", "path", what, "error", err)
	line := fmt.Sprintf("ERROR %s: %v\n", what, err)
	r.errs.Write([]byte(line))
	fmt.Fprint(r.transcript, "\t"+line)
}

func (r *nativeRun) logLine(tag string, size int64, rel string) {
	if !r.opts.Verbose {
		return
	}
	fmt.Fprintf(r.transcript, "\t%-14s%12d\t%s\n", tag, size, filepath.ToSlash(rel))
}
