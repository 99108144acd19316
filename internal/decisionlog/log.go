package decisionlog

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/banshee-data/curbwatch/internal/fsutil"
	"github.com/banshee-data/curbwatch/internal/monitoring"
)

// DefaultMaxBytes is the rotation threshold used when Options.MaxBytes is zero.
const DefaultMaxBytes = 1 << 20

// Options configures a Log.
type Options struct {
	// MaxBytes is the size at which the active file rotates to <path>.1.
	MaxBytes int64
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Fallback receives lines that could not be written. Defaults to
	// monitoring.Fallback.
	Fallback *monitoring.FallbackRing
}

// Log is a size-rotated JSON lines file. One older generation is kept.
// Writes are serialized by an internal mutex and never return errors to the
// caller: failures go to the fallback ring.
type Log struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	fs       fsutil.FileSystem
	fallback *monitoring.FallbackRing
	file     fsutil.AppendFile
	size     int64
	written  uint64
	failed   uint64
	rotated  uint64
}

// Open opens or creates the log at path.
func Open(path string, opts Options) (*Log, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Fallback == nil {
		opts.Fallback = monitoring.Fallback
	}
	l := &Log{
		path:     path,
		maxBytes: opts.MaxBytes,
		fs:       opts.FS,
		fallback: opts.Fallback,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := l.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create decision log dir: %w", err)
		}
	}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) openLocked() error {
	f, err := l.fs.OpenAppend(l.path)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	l.file = f
	l.size = 0
	if info, err := l.fs.Stat(l.path); err == nil {
		l.size = info.Size()
	}
	return nil
}

// Path returns the active file path.
func (l *Log) Path() string { return l.path }

// RotatedPath returns the path of the older generation.
func (l *Log) RotatedPath() string { return l.path + ".1" }

// Record appends e, rotating first when the line would push the file past
// the size cap.
func (l *Log) Record(e Entry) {
	line, err := e.MarshalLine()
	if err != nil {
		l.fallback.Add("decisionlog", fmt.Sprintf("%s/%s/%s", e.Component, e.Event, e.Outcome), err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writeLocked(line); err != nil {
		l.failed++
		l.fallback.Add("decisionlog", string(line[:len(line)-1]), err)
		return
	}
	l.written++
}

func (l *Log) writeLocked(line []byte) error {
	if l.file == nil {
		// a previous failure closed the file; try to reopen
		if err := l.openLocked(); err != nil {
			return err
		}
	}
	if l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Log) rotateLocked() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := l.fs.Remove(l.RotatedPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old generation: %w", err)
	}
	if err := l.fs.Rename(l.path, l.RotatedPath()); err != nil {
		return fmt.Errorf("rotate decision log: %w", err)
	}
	l.rotated++
	return l.openLocked()
}

// Sync flushes the active file.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close closes the active file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Stats reports write counters.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Rotated uint64 `json:"rotated"`
	Size    int64  `json:"size_bytes"`
}

// Stats returns the current counters.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Written: l.written, Failed: l.failed, Rotated: l.rotated, Size: l.size}
}
