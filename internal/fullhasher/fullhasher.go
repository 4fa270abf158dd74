// Package fullhasher implements the FullHasher (C5): the final hashing
// pass, run only on PrefixFilter survivors, that groups files into
// equivalence classes by their 64-bit full-content hash. Members are not
// compared byte for byte, so a hash collision is taken as equality.
//
// Shares the PrefixFilter's worker-pool topology (ported from the
// teacher's verifier.go semaphore+stats idiom) but hashes the entire
// file instead of a prefix. A hash failure on one member drops only
// that member from its class rather than failing the whole group.
package fullhasher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fileforge/dupedog/internal/cache"
	"github.com/fileforge/dupedog/internal/hasher"
	"github.com/fileforge/dupedog/internal/progress"
	"github.com/fileforge/dupedog/internal/types"
)

// stats tracks full-hashing progress.
type stats struct {
	hashedBytes atomic.Int64
	cachedBytes atomic.Int64
	classes     atomic.Int64
	startTime   time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Full-hashed %s (+%s cached), %d classes formed in %.1fs",
		humanize.IBytes(uint64(s.hashedBytes.Load())),
		humanize.IBytes(uint64(s.cachedBytes.Load())),
		s.classes.Load(), time.Since(s.startTime).Seconds())
}

// FullHasher refines PrefixBucket survivors into EquivalenceClasses.
// Designed for single-use: create with New(), call Run() once.
type FullHasher struct {
	buckets      []types.PrefixBucket
	workers      int
	showProgress bool
	errCh        chan<- error
	isCancelled  func() bool
	onPause      func()
	cache        *cache.Cache
}

// Option configures a FullHasher.
type Option func(*FullHasher)

// WithCancel installs a cooperative cancellation check, polled between files.
func WithCancel(fn func() bool) Option {
	return func(f *FullHasher) { f.isCancelled = fn }
}

// WithPause installs a cooperative pause checkpoint, polled between files
// alongside the cancel check. fn blocks for as long as the job is paused.
func WithPause(fn func()) Option {
	return func(f *FullHasher) { f.onPause = fn }
}

// WithCache installs a persistent hash cache.
func WithCache(c *cache.Cache) Option {
	return func(f *FullHasher) { f.cache = c }
}

// New creates a FullHasher over PrefixFilter survivors.
func New(buckets []types.PrefixBucket, workers int, showProgress bool, errCh chan<- error, opts ...Option) *FullHasher {
	if workers < 1 {
		workers = 1
	}
	f := &FullHasher{
		buckets:      buckets,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
		isCancelled:  func() bool { return false },
		onPause:      func() {},
		cache:        &cache.Cache{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

type fullResult struct {
	entry *types.FileEntry
	hash  uint64
	ok    bool
}

// Run computes FullHash for every bucket member and forms EquivalenceClasses
// keyed by (Device, Size, FullHash), discarding classes below 2 members.
func (f *FullHasher) Run() []types.EquivalenceClass {
	bar := progress.New(f.showProgress, -1)
	st := &stats{startTime: time.Now()}
	bar.Describe(st)

	var out []types.EquivalenceClass
	for _, bucket := range f.buckets {
		f.onPause()
		if f.isCancelled() {
			break
		}
		out = append(out, f.refine(bucket, st, bar)...)
	}

	bar.Finish(st)
	return out
}

func (f *FullHasher) refine(bucket types.PrefixBucket, st *stats, bar *progress.Bar) []types.EquivalenceClass {
	sem := types.NewSemaphore(f.workers)
	resultsCh := make(chan fullResult, len(bucket.Entries))
	var wg sync.WaitGroup

	for _, entry := range bucket.Entries {
		f.onPause()
		if f.isCancelled() {
			break
		}
		wg.Add(1)
		go func(e *types.FileEntry) {
			defer wg.Done()
			sem.Acquire()
			defer sem.Release()

			if cached, ok, err := f.cache.Lookup(e, 0, e.Size); err == nil && ok {
				st.cachedBytes.Add(e.Size)
				bar.Describe(st)
				resultsCh <- fullResult{entry: e, hash: cached, ok: true}
				return
			}

			h, err := hasher.FullHash(e.Path)
			if err != nil {
				f.sendError(err)
				resultsCh <- fullResult{entry: e, ok: false}
				return
			}
			_ = f.cache.Store(e, 0, e.Size, h)
			st.hashedBytes.Add(e.Size)
			bar.Describe(st)
			resultsCh <- fullResult{entry: e, hash: h, ok: true}
		}(entry)
	}
	wg.Wait()
	close(resultsCh)

	grouped := make(map[uint64][]*types.FileEntry)
	for r := range resultsCh {
		if !r.ok {
			continue
		}
		e := r.entry
		e.FullHash = r.hash
		e.HasFullHash = true
		grouped[r.hash] = append(grouped[r.hash], e)
	}

	var out []types.EquivalenceClass
	for hash, entries := range grouped {
		if len(entries) < 2 {
			continue
		}
		out = append(out, types.EquivalenceClass{
			Device:   bucket.Device,
			Size:     bucket.Size,
			FullHash: hash,
			Members:  types.SortedByPath(entries),
		})
		st.classes.Add(1)
	}
	return out
}

func (f *FullHasher) sendError(err error) {
	if f.errCh != nil {
		f.errCh <- err
	}
}
