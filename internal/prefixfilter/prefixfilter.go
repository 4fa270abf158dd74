// Package prefixfilter implements the PrefixFilter (C4): a cheap
// elimination pass that hashes only the first bytes of each SizeBucket
// survivor before paying for a full-content read.
//
// # Concurrency Model
//
// A fixed worker pool (sized max(1, cpu_count/2), ported from the
// teacher's verifier.go semaphore+stats idiom) consumes one job per
// FileEntry; jobs are independent so ordering across the pool doesn't
// matter, only the grouping of results by (Device, Size, PrefixHash)
// at the end. A cache lookup precedes each hash computation.
package prefixfilter

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

// PrefixSize is the number of leading bytes hashed by this stage.
const PrefixSize = hasher.DefaultPrefixSize

// stats tracks prefix-filtering progress.
type stats struct {
	hashedBytes atomic.Int64
	cachedBytes atomic.Int64
	survivors   atomic.Int64
	startTime   time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Prefix-hashed %s (+%s cached), %d survivors in %.1fs",
		humanize.IBytes(uint64(s.hashedBytes.Load())),
		humanize.IBytes(uint64(s.cachedBytes.Load())),
		s.survivors.Load(), time.Since(s.startTime).Seconds())
}

// PrefixFilter refines SizeBucket survivors into PrefixBucket groups.
// Designed for single-use: create with New(), call Run() once.
type PrefixFilter struct {
	buckets      []types.SizeBucket
	workers      int
	showProgress bool
	errCh        chan<- error
	isCancelled  func() bool
	onPause      func()
	cache        *cache.Cache
}

// Option configures a PrefixFilter.
type Option func(*PrefixFilter)

// WithCancel installs a cooperative cancellation check, polled between files.
func WithCancel(fn func() bool) Option {
	return func(p *PrefixFilter) { p.isCancelled = fn }
}

// WithPause installs a cooperative pause checkpoint, polled between files
// alongside the cancel check. fn blocks for as long as the job is paused.
func WithPause(fn func()) Option {
	return func(p *PrefixFilter) { p.onPause = fn }
}

// WithCache installs a persistent hash cache. The cache is called without
// a nil check, so c must not be nil; a disabled cache.Cache from
// cache.Open("") makes every lookup miss and every store a no-op.
func WithCache(c *cache.Cache) Option {
	return func(p *PrefixFilter) { p.cache = c }
}

// New creates a PrefixFilter over SizeBucket survivors.
func New(buckets []types.SizeBucket, workers int, showProgress bool, errCh chan<- error, opts ...Option) *PrefixFilter {
	if workers < 1 {
		workers = 1
	}
	p := &PrefixFilter{
		buckets:      buckets,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
		isCancelled:  func() bool { return false },
		onPause:      func() {},
		cache:        &cache.Cache{}, // disabled by default; WithCache overrides
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type prefixResult struct {
	entry *types.FileEntry
	hash  uint64
	ok    bool
}

// Run computes PrefixHash for every bucket member and refines buckets into
// (Device, Size, PrefixHash) groups, discarding groups below 2 members.
func (p *PrefixFilter) Run() []types.PrefixBucket {
	bar := progress.New(p.showProgress, -1)
	st := &stats{startTime: time.Now()}
	bar.Describe(st)

	var out []types.PrefixBucket
	for _, bucket := range p.buckets {
		p.onPause()
		if p.isCancelled() {
			break
		}
		out = append(out, p.refine(bucket, st, bar)...)
	}

	bar.Finish(st)
	return out
}

func (p *PrefixFilter) refine(bucket types.SizeBucket, st *stats, bar *progress.Bar) []types.PrefixBucket {
	sem := types.NewSemaphore(p.workers)
	resultsCh := make(chan prefixResult, len(bucket.Entries))
	var wg sync.WaitGroup

	for _, entry := range bucket.Entries {
		p.onPause()
		if p.isCancelled() {
			break
		}
		wg.Add(1)
		go func(e *types.FileEntry) {
			defer wg.Done()
			sem.Acquire()
			defer sem.Release()

			n := min(PrefixSize, e.Size)
			if cached, ok, err := p.cache.Lookup(e, 0, n); err == nil && ok {
				st.cachedBytes.Add(n)
				bar.Describe(st)
				resultsCh <- prefixResult{entry: e, hash: cached, ok: true}
				return
			}

			h, err := hasher.PrefixHash(e.Path, PrefixSize)
			if err != nil {
				p.sendError(err)
				resultsCh <- prefixResult{entry: e, ok: false}
				return
			}
			_ = p.cache.Store(e, 0, n, h)
			st.hashedBytes.Add(n)
			bar.Describe(st)
			resultsCh <- prefixResult{entry: e, hash: h, ok: true}
		}(entry)
	}
	wg.Wait()
	close(resultsCh)

	type key struct {
		hash uint64
	}
	grouped := make(map[key][]*types.FileEntry)
	for r := range resultsCh {
		if !r.ok {
			continue
		}
		grouped[key{r.hash}] = append(grouped[key{r.hash}], r.entry)
	}

	var out []types.PrefixBucket
	for k, entries := range grouped {
		if len(entries) < 2 {
			continue
		}
		out = append(out, types.PrefixBucket{
			Device:     bucket.Device,
			Size:       bucket.Size,
			PrefixHash: k.hash,
			Entries:    types.SortedByPath(entries),
		})
		st.survivors.Add(int64(len(entries)))
	}
	return out
}

func (p *PrefixFilter) sendError(err error) {
	if p.errCh != nil {
		p.errCh <- err
	}
}
