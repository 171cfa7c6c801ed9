package metrics

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-profile-backup/pkg/plog"
)

// CopyMetrics holds the atomic counters of one native copy. All methods are
// safe for concurrent use by the copy workers.
type CopyMetrics struct {
	FilesCopied    atomic.Int64
	FilesUnchanged atomic.Int64
	BytesCopied    atomic.Int64
	DirsCreated    atomic.Int64
	// Extras are destination entries without a source counterpart.
	Extras   atomic.Int64
	Failures atomic.Int64
}

func (m *CopyMetrics) AddFileCopied(size int64) {
	m.FilesCopied.Add(1)
	m.BytesCopied.Add(size)
}
func (m *CopyMetrics) AddFileUnchanged() { m.FilesUnchanged.Add(1) }
func (m *CopyMetrics) AddDirCreated()    { m.DirsCreated.Add(1) }
func (m *CopyMetrics) AddExtra()         { m.Extras.Add(1) }
func (m *CopyMetrics) AddFailure()       { m.Failures.Add(1) }

// Log prints a summary of the copy of source.
func (m *CopyMetrics) Log(source string) {
	plog.Info("Native copy finished",
		"source", source,
		"files_copied", m.FilesCopied.Load(),
		"files_unchanged", m.FilesUnchanged.Load(),
		"copied", humanize.Bytes(uint64(m.BytesCopied.Load())),
		"dirs_created", m.DirsCreated.Load(),
		"extras", m.Extras.Load(),
		"failures", m.Failures.Load(),
	)
}
