// Package screener implements the SizeBucketer (C3): the first filtering
// stage after scanning.
//
// # Overview
//
// Files cannot be duplicates unless they share a size, and they cannot be
// hard-linked together unless they live on the same device, so every
// FileEntry is grouped by (Device, Size). Buckets with fewer than two
// members can never yield a duplicate and are dropped before any hashing
// is attempted — hashing is the expensive stage, this one is not.
//
// # Processing Pipeline
//
//	Input: []*types.FileEntry (all scanned files)
//	    │
//	    ├──► Group by (Device, Size)
//	    │
//	    ├──► Drop buckets of size 1 (no possible duplicate)
//	    │
//	    └──► Output: []types.SizeBucket
//
// Grouping is O(n), uses only metadata already captured by the scanner,
// and is single-threaded: it is CPU-bound in a way that doesn't benefit
// from concurrency at realistic scan sizes.
package screener

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fileforge/dupedog/internal/progress"
	"github.com/fileforge/dupedog/internal/types"
)

// Screener groups scanned files by (Device, Size) to find duplicate
// candidates. Designed for single-use: create with New(), call Run() once.
type Screener struct {
	entries      []*types.FileEntry
	showProgress bool
}

// New creates a Screener over the given scanned entries.
//
// Device is always part of the grouping key: hard links cannot cross
// filesystem devices, so two files on different devices can never be
// linked together regardless of content, and grouping them would only
// waste a full-content hash pass downstream.
func New(entries []*types.FileEntry, showProgress bool) *Screener {
	return &Screener{entries: entries, showProgress: showProgress}
}

type sizeKey struct {
	device uint64
	size   int64
}

// stats tracks screening progress.
type stats struct {
	candidateFiles int
	candidateBytes int64
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Selected %d candidates (%s) in %.1fs",
		s.candidateFiles, humanize.IBytes(uint64(s.candidateBytes)),
		time.Since(s.startTime).Seconds())
}

// Run groups entries by (Device, Size) and returns buckets with at least
// two members, each a potential set of duplicates.
func (s *Screener) Run() []types.SizeBucket {
	bar := progress.New(s.showProgress, -1)
	st := &stats{startTime: time.Now()}

	grouped := make(map[sizeKey][]*types.FileEntry)
	for _, e := range s.entries {
		key := sizeKey{device: e.Device, size: e.Size}
		grouped[key] = append(grouped[key], e)
	}

	var buckets []types.SizeBucket
	for key, entries := range grouped {
		if len(entries) < 2 {
			continue
		}
		buckets = append(buckets, types.SizeBucket{
			Device:  key.device,
			Size:    key.size,
			Entries: types.SortedByPath(entries),
		})
		st.candidateFiles += len(entries)
		st.candidateBytes += key.size * int64(len(entries))
	}

	bar.Finish(st)
	return buckets
}
