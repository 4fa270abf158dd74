// Package classanalyzer implements the ClassAnalyzer (C6): the last
// pre-link stage, which re-validates FullHasher's EquivalenceClasses
// against the live filesystem and computes the scan-level savings
// summary reported back to the caller.
//
// Grounded on original_source/core.py's analysis phase: files are
// re-lstat'd because time has passed since they were scanned and
// hashed, and anything that changed shape underneath (removed,
// replaced by a symlink) must not be linked.
package classanalyzer

import (
	"os"
	"syscall"

	"github.com/fileforge/dupedog/internal/types"
)

// Summary aggregates scan-level totals across every analyzed class.
//
// BeforeSize/AfterSize are deliberately not tracked here: they are
// totals over every file the Walker saw, including the unique files
// that never reach a class, so they're computed once at the registry
// level from the Walker's own running byte count.
type Summary struct {
	TotalSets         int
	AlreadyLinkedSets int
	PotentialSavings  int64
}

// ClassAnalyzer re-validates EquivalenceClass members and classifies each
// surviving class as already-linked or linkable. Designed for single-use:
// create with New(), call Run() once.
type ClassAnalyzer struct {
	classes     []types.EquivalenceClass
	isCancelled func() bool
	onPause     func()
}

// Option configures a ClassAnalyzer.
type Option func(*ClassAnalyzer)

// WithCancel installs a cooperative cancellation check, polled between classes.
func WithCancel(fn func() bool) Option {
	return func(a *ClassAnalyzer) { a.isCancelled = fn }
}

// WithPause installs a cooperative pause checkpoint, polled between
// classes alongside the cancel check. fn blocks for as long as the job
// is paused.
func WithPause(fn func()) Option {
	return func(a *ClassAnalyzer) { a.onPause = fn }
}

// New creates a ClassAnalyzer over FullHasher survivors.
func New(classes []types.EquivalenceClass, opts ...Option) *ClassAnalyzer {
	a := &ClassAnalyzer{classes: classes, isCancelled: func() bool { return false }, onPause: func() {}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run re-validates every class and returns the surviving LinkableClasses
// plus the aggregate Summary.
func (a *ClassAnalyzer) Run() ([]types.LinkableClass, Summary) {
	var (
		linkable []types.LinkableClass
		summary  Summary
	)

	for _, class := range a.classes {
		a.onPause()
		if a.isCancelled() {
			break
		}

		members := a.revalidate(class.Members)
		if len(members) < 2 {
			continue
		}
		members = types.SortedByPath(members)
		class.Members = members

		alreadyLinked := allSameInode(members)
		var savings int64
		if !alreadyLinked {
			savings = class.Size * int64(len(members)-1)
		}

		linkable = append(linkable, types.LinkableClass{
			Class:            class,
			AlreadyLinked:    alreadyLinked,
			PotentialSavings: savings,
		})

		summary.TotalSets++
		if alreadyLinked {
			summary.AlreadyLinkedSets++
		}
		summary.PotentialSavings += savings
	}

	return linkable, summary
}

// revalidate re-lstats each member, dropping anything that is no longer a
// regular file (removed, replaced, or now a symlink). Each survivor is
// returned as a copy whose Device/Inode come from that fresh lstat, so the
// distinct-inode count reflects the filesystem as it is now.
func (a *ClassAnalyzer) revalidate(members []*types.FileEntry) []*types.FileEntry {
	var kept []*types.FileEntry
	for _, m := range members {
		info, err := os.Lstat(m.Path)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			continue
		}
		fresh := *m
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			fresh.Device = uint64(st.Dev) //nolint:unconvert
			fresh.Inode = uint64(st.Ino)  //nolint:unconvert
		}
		kept = append(kept, &fresh)
	}
	return kept
}

func allSameInode(members []*types.FileEntry) bool {
	if len(members) == 0 {
		return false
	}
	first := members[0]
	for _, m := range members[1:] {
		if m.Device != first.Device || m.Inode != first.Inode {
			return false
		}
	}
	return true
}
