// Package transcript stores the verbose listing of each copy in a
// compressed file below the destination root, next to the backup log.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-profile-backup/pkg/util"
)

// DirName is the folder below the destination root that holds transcripts.
const DirName = ".~profile-backup-transcripts"

// Format is the on-disk encoding of a transcript.
type Format string

const (
	Zstd  Format = "zst"
	Gzip  Format = "gz"
	Plain Format = "plain"
	// Off disables transcripts.
	Off Format = "off"
)

var formatToString = map[Format]string{
	Zstd:  "zst",
	Gzip:  "gz",
	Plain: "plain",
	Off:   "off",
}

var stringToFormat = util.InvertMap(formatToString)

// ErrDisabled is returned by Open for the Off format.
var ErrDisabled = errors.New("transcripts are disabled")

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_transcript_format(%s)", string(f))
}

// ParseFormat parses a string and returns the corresponding Format.
func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid transcript format: %q. Must be 'zst', 'gz', 'plain', or 'off'", s)
}

// MarshalJSON implements the json.Marshaler interface for Format.
func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Format.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("transcript format should be a string, got %s", data)
	}
	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}

func (f Format) extension() string {
	switch f {
	case Zstd:
		return ".log.zst"
	case Gzip:
		return ".log.gz"
	default:
		return ".log"
	}
}

// Header identifies the copy a transcript belongs to.
type Header struct {
	RunID       string
	Index       int
	Source      string
	Destination string
	Started     time.Time
}

// FileName returns the transcript file name for h in format f.
func FileName(h Header, f Format) string {
	runID := h.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("%s_%s_%02d%s", h.Started.Format("20060102-150405"), runID, h.Index, f.extension())
}

// Writer is an open transcript. Write never fails so a full disk cannot
// break the pipe of a running copy; the first error is kept and returned by
// Close instead.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	comp io.WriteCloser // nil for Plain
	out  io.Writer
	err  error
}

// Open creates the transcript for h below root.
func Open(root string, h Header, format Format) (*Writer, error) {
	if format == Off {
		return nil, ErrDisabled
	}
	if _, ok := formatToString[format]; !ok {
		return nil, fmt.Errorf("invalid transcript format: %q", format)
	}

	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	path := filepath.Join(dir, FileName(h, format))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	w := &Writer{path: path, file: f, buf: bufio.NewWriter(f)}
	switch format {
	case Zstd:
		zw, err := zstd.NewWriter(w.buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w.comp, w.out = zw, zw
	case Gzip:
		gw, err := pgzip.NewWriterLevel(w.buf, pgzip.DefaultCompression)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		w.comp, w.out = gw, gw
	default:
		w.out = w.buf
	}

	fmt.Fprintf(w, "Run: %s\nSource: %s\nDestination: %s\nStarted: %s\n\n",
		h.RunID, h.Source, h.Destination, h.Started.Format(time.DateTime))
	return w, nil
}

// Path returns the transcript's file path.
func (w *Writer) Path() string { return w.path }

// Write implements io.Writer. It always reports success.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		_, w.err = w.out.Write(p)
	}
	return len(p), nil
}

// Close flushes and closes the transcript. It returns the first error seen
// by Write or during shutdown.
func (w *Writer) Close() (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	retErr = w.err
	if w.comp != nil {
		if err := w.comp.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil && retErr == nil {
		retErr = fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := w.file.Close(); err != nil && retErr == nil {
		retErr = fmt.Errorf("transcript close failed: %w", err)
	}
	return retErr
}
