// Package types provides the shared data model for the deduplication
// pipeline: the file-identity record produced by the walker and the
// grouping shapes each downstream stage refines it into.
package types

import (
	"cmp"
	"slices"
	"time"
)

// FileEntry holds filesystem identity and content metadata for one scanned
// file. Path uniquely identifies a FileEntry; (Device, Inode) identifies
// the underlying filesystem object and is how already-hardlinked members
// of a class are recognized.
type FileEntry struct {
	Path        string
	Size        int64
	Device      uint64
	Inode       uint64
	Nlink       uint32
	ModTime     time.Time
	FullHash    uint64 // valid only when HasFullHash is true
	HasFullHash bool
}

// Sorted is an ordered collection that maintains sort order by a key
// function. Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for
// ordering. Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// SortedByPath sorts FileEntry pointers by Path, matching the ordering
// guarantee in §5: intra-class member order is stabilized by path so that
// the first element deterministically becomes the "original".
func SortedByPath(entries []*FileEntry) []*FileEntry {
	return NewSorted(entries, func(f *FileEntry) string { return f.Path }).Items()
}

// SizeBucket groups FileEntries sharing a (Device, Size) key. Produced by
// the SizeBucketer (C3); buckets of cardinality 1 are discarded before
// construction since size-unique files cannot be duplicates. Device is
// part of the key because hard links cannot cross devices.
type SizeBucket struct {
	Device  uint64
	Size    int64
	Entries []*FileEntry
}

// PrefixBucket groups SizeBucket survivors sharing a (Device, Size,
// PrefixHash) key. Produced by the PrefixFilter (C4); singleton buckets
// are discarded.
type PrefixBucket struct {
	Device     uint64
	Size       int64
	PrefixHash uint64
	Entries    []*FileEntry
}

// EquivalenceClass groups PrefixBucket survivors sharing a (Device, Size,
// FullHash) key, with at least two members. Produced by the FullHasher
// (C5). Members carry their FullHash for reporting.
type EquivalenceClass struct {
	Device   uint64
	Size     int64
	FullHash uint64
	Members  []*FileEntry
}

// FirstPath returns the path of the lexicographically-first member,
// assuming Members is already path-sorted (true once ClassAnalyzer has
// run). Used to order classes for reproducible Scan Results (§5).
func (c EquivalenceClass) FirstPath() string {
	if len(c.Members) == 0 {
		return ""
	}
	return c.Members[0].Path
}

// LinkableClass is an EquivalenceClass that has survived ClassAnalyzer
// validation: members are re-confirmed regular files, path-sorted, and
// annotated with whether they already share one inode.
type LinkableClass struct {
	Class            EquivalenceClass
	AlreadyLinked    bool  // true iff all members share one (Device, Inode)
	PotentialSavings int64 // Size * (len(Members)-1), 0 when AlreadyLinked
}

// Original returns the member chosen to keep — the lexicographically
// smallest path, per the Original definition in the GLOSSARY.
func (lc LinkableClass) Original() *FileEntry {
	if len(lc.Class.Members) == 0 {
		return nil
	}
	return lc.Class.Members[0]
}

// Duplicates returns every member other than Original.
func (lc LinkableClass) Duplicates() []*FileEntry {
	if len(lc.Class.Members) < 2 {
		return nil
	}
	return lc.Class.Members[1:]
}
