// Package scanner implements the Walker (C2): depth-first, symlink-averse
// enumeration of regular files beneath one or more roots.
//
// # Design
//
// Per §5's scheduling model the Walker is single-threaded per root and
// processes roots sequentially within a job — concurrency in this
// pipeline is reserved for the hash stages (PrefixFilter, FullHasher),
// which are CPU/IO-bound in a way directory listing is not. A single
// goroutine recurses depth-first, checking a cancel flag between
// directory entries so a scan can be interrupted without mid-read
// preemption.
//
// Filtering, in order:
//   - basename exclusion for directories (ignore_dirs)
//   - basename extension exclusion for files (ignore_exts, normalized:
//     leading '.' ensured, case folded)
//   - non-regular files and symlinks are skipped silently
//   - size < min_file_size or size == 0 are dropped
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fileforge/dupedog/internal/progress"
	"github.com/fileforge/dupedog/internal/types"
)

// CancelFunc reports whether the owning job has been asked to stop.
// Checked between directory entries.
type CancelFunc func() bool

// DirFunc is called periodically with the directory currently being
// walked, for progress display (~every 100 files per §4.2).
type DirFunc func(dir string, filesFound int, bytesScanned int64)

// Scanner discovers files matching filter criteria via sequential,
// depth-first traversal. Designed for single-use: create with New(), call
// Run() once.
type Scanner struct {
	roots       []string
	minSize     int64
	ignoreDirs  map[string]struct{}
	ignoreExts  []string
	showProgress bool
	errCh       chan<- error
	isCancelled CancelFunc
	onPause     func()
	onDir       DirFunc

	stats *stats
	bar   *progress.Bar
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithCancel installs a cooperative cancellation check, polled between
// directory entries.
func WithCancel(fn CancelFunc) Option {
	return func(s *Scanner) { s.isCancelled = fn }
}

// WithPause installs a cooperative pause checkpoint, polled between
// directory entries alongside the cancel check. fn blocks for as long as
// the job is paused.
func WithPause(fn func()) Option {
	return func(s *Scanner) { s.onPause = fn }
}

// WithDirProgress installs a callback invoked roughly every 100 files
// with the directory currently being scanned.
func WithDirProgress(fn DirFunc) Option {
	return func(s *Scanner) { s.onDir = fn }
}

// New creates a Scanner for discovering files beneath roots.
func New(roots []string, minSize int64, ignoreDirs, ignoreExts []string, showProgress bool, errCh chan<- error, opts ...Option) *Scanner {
	dirSet := make(map[string]struct{}, len(ignoreDirs))
	for _, d := range ignoreDirs {
		dirSet[d] = struct{}{}
	}
	s := &Scanner{
		roots:        roots,
		minSize:      minSize,
		ignoreDirs:   dirSet,
		ignoreExts:   normalizeExts(ignoreExts),
		showProgress: showProgress,
		errCh:        errCh,
		isCancelled:  func() bool { return false },
		onPause:      func() {},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// normalizeExts ensures a leading '.' and folds case, per §4.2.
func normalizeExts(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[i] = e
	}
	return out
}

// stats tracks scanning progress using atomic counters so the registry can
// take a cheap snapshot while the walker is still running.
type stats struct {
	filesFound   atomic.Int64
	bytesScanned atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d files (%s) in %.1fs",
		s.filesFound.Load(), humanize.IBytes(uint64(s.bytesScanned.Load())),
		time.Since(s.startTime).Seconds())
}

// BytesScanned returns the total size of every file Run matched, across
// all roots. Valid only after Run has returned; zero beforehand.
func (s *Scanner) BytesScanned() int64 {
	if s.stats == nil {
		return 0
	}
	return s.stats.bytesScanned.Load()
}

// Run walks all roots sequentially and returns the matching files.
func (s *Scanner) Run() []*types.FileEntry {
	s.stats = &stats{startTime: time.Now()}
	s.bar = progress.New(s.showProgress, -1)
	s.bar.Describe(s.stats)

	var results []*types.FileEntry
	for _, root := range s.roots {
		s.onPause()
		if s.isCancelled() {
			break
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			s.sendError(fmt.Errorf("%s: %w", root, err))
			continue
		}
		if err := s.walk(absRoot, &results); err != nil {
			s.sendError(err)
		}
	}

	s.bar.Finish(s.stats)
	return results
}

// walk recurses depth-first from dir, appending matches to results.
func (s *Scanner) walk(dir string, results *[]*types.FileEntry) error {
	s.onPause()
	if s.isCancelled() {
		return nil
	}

	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", dir, types.ErrIO, err)
	}

	const batchSize = 1000
	var subdirs []string
	for {
		entries, readErr := f.ReadDir(batchSize)
		for _, entry := range entries {
			s.onPause()
			if s.isCancelled() {
				_ = f.Close()
				return nil
			}
			fullPath := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				if _, skip := s.ignoreDirs[entry.Name()]; skip {
					continue
				}
				subdirs = append(subdirs, fullPath)
				continue
			}

			if !entry.Type().IsRegular() {
				continue // symlinks, devices, sockets, pipes: skipped silently
			}

			if s.hasIgnoredExt(fullPath) {
				continue
			}

			info, statErr := entry.Info()
			if statErr != nil {
				s.sendError(fmt.Errorf("%s: %w: %v", fullPath, types.ErrIO, statErr))
				continue
			}

			fe := newFileEntry(fullPath, info)
			if fe.Size == 0 || fe.Size < s.minSize {
				continue
			}

			*results = append(*results, fe)
			n := s.stats.filesFound.Add(1)
			s.stats.bytesScanned.Add(fe.Size)
			if n%100 == 0 && s.onDir != nil {
				s.onDir(dir, int(n), s.stats.bytesScanned.Load())
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				_ = f.Close()
				return fmt.Errorf("%s: %w: %v", dir, types.ErrIO, readErr)
			}
			break
		}
		if len(entries) == 0 {
			break
		}
	}
	_ = f.Close()

	s.bar.Describe(s.stats)

	for _, sub := range subdirs {
		if err := s.walk(sub, results); err != nil {
			s.sendError(err)
		}
	}
	return nil
}

func (s *Scanner) hasIgnoredExt(path string) bool {
	if len(s.ignoreExts) == 0 {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range s.ignoreExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// sendError sends a non-fatal error to the errors channel if present.
func (s *Scanner) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}
