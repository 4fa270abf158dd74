// Package linker implements the Linker (C7): the only pipeline stage
// that mutates the filesystem, replacing duplicate files with hard or
// symbolic links to each class's chosen original.
//
// # Processing
//
// Classes are already path-sorted by ClassAnalyzer; the first member of
// each is the original. For every other member (duplicate), the
// duplicate is unlinked and replaced atomically (temp-name then
// rename, ported from the teacher's deduper/links.go) with a link to
// the original. Hard links never cross devices — classes are
// device-scoped by construction, so a cross-device failure here means
// the class itself was built wrong and is reported rather than silently
// worked around.
//
// # Why Sequential?
//
// Unlike the hash stages, link creation mutates shared filesystem
// state; running it single-threaded keeps the teacher's "no two
// workers write the same path" invariant trivially true without extra
// locking.
package linker

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fileforge/dupedog/internal/progress"
	"github.com/fileforge/dupedog/internal/types"
)

// LinkType selects the kind of link Linker creates for each duplicate.
type LinkType string

const (
	Hard LinkType = "hard"
	Soft LinkType = "soft"
)

// PairResult records the outcome of linking one duplicate to its original.
type PairResult struct {
	Original string
	Target   string
	LinkType LinkType
	Size     int64 // duplicate's size, for space-saved accounting
	Err      error
}

// String formats a pair result for verbose/audit output.
func (r PairResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("skipped %s: %v", escapePath(r.Target), r.Err)
	}
	return fmt.Sprintf("Replaced %s with %s link to %s", escapePath(r.Target), r.LinkType, escapePath(r.Original))
}

// escapePath escapes special characters in paths for safe terminal output.
func escapePath(path string) string {
	r := strings.NewReplacer("\t", "\\t", "\n", "\\n", "\r", "\\r")
	return r.Replace(path)
}

// stats tracks linking progress.
type stats struct {
	totalPairs     int
	processedPairs int
	filesLinked    int
	filesFailed    int
	savedBytes     int64
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Linked %d/%d pairs (%d failed), saved %s in %.1fs",
		s.processedPairs, s.totalPairs, s.filesFailed,
		humanize.IBytes(uint64(s.savedBytes)), time.Since(s.startTime).Seconds())
}

// Linker replaces duplicate files with links to each class's original.
// Designed for single-use: create with New(), call Run() once.
type Linker struct {
	classes         []types.LinkableClass
	linkType        LinkType
	selectedIndices map[int]struct{} // nil means "link all"
	showProgress    bool
	errCh           chan<- error
	isCancelled     func() bool
	onPause         func()
}

// Option configures a Linker.
type Option func(*Linker)

// WithSelectedIndices restricts linking to the given class indices (into
// the sorted class list). Absence of this option links every class.
func WithSelectedIndices(indices []int) Option {
	return func(l *Linker) {
		set := make(map[int]struct{}, len(indices))
		for _, i := range indices {
			set[i] = struct{}{}
		}
		l.selectedIndices = set
	}
}

// WithCancel installs a cooperative cancellation check, polled between classes.
func WithCancel(fn func() bool) Option {
	return func(l *Linker) { l.isCancelled = fn }
}

// WithPause installs a cooperative pause checkpoint, polled between
// classes alongside the cancel check. fn blocks for as long as the job
// is paused.
func WithPause(fn func()) Option {
	return func(l *Linker) { l.onPause = fn }
}

// New creates a Linker over ClassAnalyzer survivors.
func New(classes []types.LinkableClass, linkType LinkType, showProgress bool, errCh chan<- error, opts ...Option) *Linker {
	l := &Linker{
		classes:      classes,
		linkType:     linkType,
		showProgress: showProgress,
		errCh:        errCh,
		isCancelled:  func() bool { return false },
		onPause:      func() {},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Linker) totalPairs() int {
	total := 0
	for i, c := range l.classes {
		if !l.selected(i) {
			continue
		}
		total += len(c.Duplicates())
	}
	return total
}

func (l *Linker) selected(index int) bool {
	if l.selectedIndices == nil {
		return true
	}
	_, ok := l.selectedIndices[index]
	return ok
}

// Run links every selected class's duplicates to its original and returns
// per-pair results.
func (l *Linker) Run() []PairResult {
	bar := progress.New(l.showProgress, -1)
	st := &stats{totalPairs: l.totalPairs(), startTime: time.Now()}
	bar.Describe(st)

	var results []PairResult
	pairIndex := 0
	for i, class := range l.classes {
		l.onPause()
		if l.isCancelled() {
			break
		}
		if !l.selected(i) || class.AlreadyLinked {
			continue
		}

		original := class.Original()
		for _, duplicate := range class.Duplicates() {
			pairIndex++
			res := l.linkPair(original, duplicate)
			results = append(results, res)

			st.processedPairs++
			if res.Err != nil {
				st.filesFailed++
				l.sendError(fmt.Errorf("%s: %w", duplicate.Path, res.Err))
			} else {
				st.filesLinked++
				st.savedBytes += duplicate.Size
			}
			if pairIndex%10 == 0 {
				bar.Describe(st)
			}
		}
	}

	bar.Finish(st)
	return results
}

// linkPair replaces duplicate with a link to original, following spec
// §4.7's four-step sequence.
func (l *Linker) linkPair(original, duplicate *types.FileEntry) PairResult {
	res := PairResult{Original: original.Path, Target: duplicate.Path, LinkType: l.linkType, Size: duplicate.Size}

	if _, err := os.Lstat(original.Path); err != nil {
		res.Err = fmt.Errorf("%w: original missing: %v", types.ErrPathNotFound, err)
		return res
	}

	if err := l.replace(original.Path, duplicate.Path); err != nil {
		res.Err = err
	}
	return res
}

// replace atomically swaps duplicate for a link to original via the
// teacher's temp-name-then-rename idiom (links.go), which folds the
// unlink-then-link sequence into a single atomic rename.
func (l *Linker) replace(originalPath, duplicatePath string) error {
	switch l.linkType {
	case Soft:
		if err := CreateSymlink(originalPath, duplicatePath); err != nil {
			return fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		return nil
	default:
		if err := CreateHardlink(originalPath, duplicatePath); err != nil {
			if errors.Is(err, syscall.EXDEV) {
				return fmt.Errorf("%w: %v", types.ErrCrossDevice, err)
			}
			return fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		return nil
	}
}

// sendError sends a non-fatal error to the errors channel if present.
func (l *Linker) sendError(err error) {
	if l.errCh != nil {
		l.errCh <- err
	}
}
