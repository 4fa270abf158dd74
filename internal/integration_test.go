//go:build unix && !e2e

package internal

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/fileforge/dupedog/internal/cache"
	"github.com/fileforge/dupedog/internal/fullhasher"
	"github.com/fileforge/dupedog/internal/prefixfilter"
	"github.com/fileforge/dupedog/internal/registry"
	"github.com/fileforge/dupedog/internal/scanner"
	"github.com/fileforge/dupedog/internal/screener"
	"github.com/fileforge/dupedog/internal/testfs"
)

// =============================================================================
// Section 8.1: Full Pipeline Integration Tests
// =============================================================================

// TestFullPipelineBasicDuplicates tests basic duplicate detection and hardlinking.
func TestFullPipelineBasicDuplicates(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1KiB"}}},
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	expectedSpec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}},
				},
			},
		},
	}
	h.Assert(expectedSpec)
}

// TestFullPipelineExistingHardlinks tests that existing hardlinks are preserved.
func TestFullPipelineExistingHardlinks(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// a.txt and a_link.txt are already hardlinked
					{Path: []string{"a.txt", "a_link.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
					// b.txt is a duplicate (different inode)
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	// All three should now be hardlinked
	expectedSpec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "a_link.txt", "b.txt"}},
				},
			},
		},
	}
	h.Assert(expectedSpec)
}

// TestFullPipelineMixedDuplicatesAndUnique tests mixed duplicates and unique files.
func TestFullPipelineMixedDuplicatesAndUnique(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// Duplicate group 1
					{Path: []string{"dup1_a.txt"}, Chunks: []testfs.Chunk{{Pattern: '1', Size: "1KiB"}}},
					{Path: []string{"dup1_b.txt"}, Chunks: []testfs.Chunk{{Pattern: '1', Size: "1KiB"}}},
					// Duplicate group 2
					{Path: []string{"dup2_a.txt"}, Chunks: []testfs.Chunk{{Pattern: '2', Size: "2KiB"}}},
					{Path: []string{"dup2_b.txt"}, Chunks: []testfs.Chunk{{Pattern: '2', Size: "2KiB"}}},
					// Unique file (different size)
					{Path: []string{"unique.txt"}, Chunks: []testfs.Chunk{{Pattern: 'U', Size: "3KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	expectedSpec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"dup1_a.txt", "dup1_b.txt"}},
					{Path: []string{"dup2_a.txt", "dup2_b.txt"}},
					{Path: []string{"unique.txt"}},
				},
			},
		},
	}
	h.Assert(expectedSpec)
}

// TestFullPipelineMinSizeFilter tests min-size filtering.
func TestFullPipelineMinSizeFilter(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// Small duplicates (should be filtered)
					{Path: []string{"small_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					{Path: []string{"small_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					// Large duplicates (should be processed)
					{Path: []string{"large_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "1KiB"}}},
					{Path: []string{"large_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 500, false)

	smallA := filepath.Join(h.Root(), "data", "small_a.txt")
	smallB := filepath.Join(h.Root(), "data", "small_b.txt")
	largeA := filepath.Join(h.Root(), "data", "large_a.txt")
	largeB := filepath.Join(h.Root(), "data", "large_b.txt")

	if sameInode(t, smallA, smallB) {
		t.Error("small files should NOT be hardlinked (filtered by min-size)")
	}
	if !sameInode(t, largeA, largeB) {
		t.Error("large files should be hardlinked")
	}
}

// TestFullPipelineIgnoreExtensions tests the ignore_exts filter.
func TestFullPipelineIgnoreExtensions(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"keep_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"keep_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"exclude_a.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"exclude_b.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	s := scanner.New([]string{filepath.Join(h.Root(), "data")}, 0, nil, []string{"bak"}, false, nil)
	files := s.Run()

	if len(files) != 2 {
		t.Errorf("expected 2 files (excluding .bak), got %d", len(files))
	}
}

// =============================================================================
// Section 8.2: Empty/No-Results Scenarios (table-driven)
// =============================================================================

func TestFullPipelineEmptyScenarios(t *testing.T) {
	tests := []struct {
		name string
		spec testfs.FileTree
	}{
		{
			name: "empty directory",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{MountPoint: "/data", Files: []testfs.File{}},
				},
			},
		},
		{
			name: "single file",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"only.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
						},
					},
				},
			},
		},
		{
			name: "all unique sizes",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
							{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'B', Size: "2KiB"}}},
							{Path: []string{"c.txt"}, Chunks: []testfs.Chunk{{Pattern: 'C', Size: "3KiB"}}},
						},
					},
				},
			},
		},
		{
			name: "same size different content",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
							{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'B', Size: "1KiB"}}},
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testfs.New(t, tt.spec)

			s := scanner.New([]string{filepath.Join(h.Root(), "data")}, 0, nil, nil, false, nil)
			files := s.Run()

			buckets := screener.New(files, false).Run()

			disabledCache, err := cache.Open("")
			if err != nil {
				t.Fatalf("open disabled cache: %v", err)
			}
			defer func() { _ = disabledCache.Close() }()

			var classCount int
			if len(buckets) > 0 {
				prefixBuckets := prefixfilter.New(buckets, 2, false, nil, prefixfilter.WithCache(disabledCache)).Run()
				classes := fullhasher.New(prefixBuckets, 2, false, nil, fullhasher.WithCache(disabledCache)).Run()
				classCount = len(classes)
			}

			if tt.name == "same size different content" && classCount > 0 {
				t.Errorf("expected no duplicate classes (different content), got %d", classCount)
			}
		})
	}
}

// =============================================================================
// Section 8.4: Data Integrity Tests
// =============================================================================

// TestDataIntegrityHardlinksShareData tests that hardlinks actually share data.
func TestDataIntegrityHardlinksShareData(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'C', Size: "100"}}},
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'C', Size: "100"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	runPipeline(t, h.Root(), nil, nil, 0, false)

	pathA := filepath.Join(h.Root(), "data", "a.txt")
	pathB := filepath.Join(h.Root(), "data", "b.txt")

	contentA, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(pathA, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	contentB, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatal(err)
	}

	if string(contentB) != "modified" {
		t.Errorf("hardlinks should share data: wrote 'modified' to a.txt, read %q from b.txt", contentB)
	}

	if err := os.WriteFile(pathA, contentA, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestDataIntegrityOriginalDataPreserved tests that original data is never lost.
func TestDataIntegrityOriginalDataPreserved(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"original.txt"}, Chunks: []testfs.Chunk{{Pattern: 'U', Size: "100"}}},
					{Path: []string{"duplicate.txt"}, Chunks: []testfs.Chunk{{Pattern: 'U', Size: "100"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	pathOrig := filepath.Join(h.Root(), "data", "original.txt")
	contentBefore, err := os.ReadFile(pathOrig)
	if err != nil {
		t.Fatal(err)
	}

	runPipeline(t, h.Root(), nil, nil, 0, false)

	contentAfter, err := os.ReadFile(pathOrig)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(contentBefore, contentAfter) {
		t.Error("original data should be preserved after deduplication")
	}
}

// =============================================================================
// Section 8.5: Full-Content Hash Tests
// =============================================================================

// TestFullHashSameHeadDifferentTail tests that files with an identical
// PrefixFilter prefix but a different tail are correctly separated by
// the FullHasher.
func TestFullHashSameHeadDifferentTail(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"uniform.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "2MiB"},
					}},
					{Path: []string{"mixed.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1MiB"}, // prefix matches uniform.txt
						{Pattern: 'B', Size: "1MiB"}, // tail differs
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	uniformPath := filepath.Join(h.Root(), "data", "uniform.txt")
	mixedPath := filepath.Join(h.Root(), "data", "mixed.txt")

	if sameInode(t, uniformPath, mixedPath) {
		t.Error("files with same prefix but different content should NOT be hardlinked")
	}
}

// TestFullHashMultiChunk tests files with multiple chunks, confirming
// precise content equality is what gates linking, not just size.
func TestFullHashMultiChunk(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"all_x.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'X', Size: "1MiB"},
					}},
					{Path: []string{"x_then_y.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'Y', Size: "1MiB"},
					}},
					{Path: []string{"all_x_copy.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'X', Size: "1MiB"},
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	allXPath := filepath.Join(h.Root(), "data", "all_x.txt")
	allXCopyPath := filepath.Join(h.Root(), "data", "all_x_copy.txt")
	xThenYPath := filepath.Join(h.Root(), "data", "x_then_y.txt")

	if !sameInode(t, allXPath, allXCopyPath) {
		t.Error("all_x.txt and all_x_copy.txt should be hardlinked (identical content)")
	}
	if sameInode(t, allXPath, xThenYPath) {
		t.Error("all_x.txt and x_then_y.txt should NOT be hardlinked (different tail)")
	}
}

// TestFullHashLargeFiles runs the full hash over GiB-scale content to
// confirm streaming (not whole-file buffering) is what makes large-file
// comparison correct.
func TestFullHashLargeFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large file test in short mode")
	}

	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"file1.dat"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1GiB"},
						{Pattern: 'B', Size: "1GiB"},
						{Pattern: 'X', Size: "1GiB"},
						{Pattern: 'D', Size: "1GiB"},
						{Pattern: 'E', Size: "512MiB"},
					}},
					{Path: []string{"file2.dat"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1GiB"},
						{Pattern: 'B', Size: "1GiB"},
						{Pattern: 'Y', Size: "1GiB"},
						{Pattern: 'D', Size: "1GiB"},
						{Pattern: 'E', Size: "512MiB"},
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	runPipeline(t, h.Root(), nil, nil, 0, false)

	file1Path := filepath.Join(h.Root(), "data", "file1.dat")
	file2Path := filepath.Join(h.Root(), "data", "file2.dat")

	if sameInode(t, file1Path, file2Path) {
		t.Error("files matching everywhere but one interior chunk should NOT be hardlinked")
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// runPipeline submits a non-dry-run ScanRequest rooted at <root>/data and
// blocks until it finishes, mirroring what cmd/dupedog's dedupe command does.
func runPipeline(t *testing.T, root string, ignoreDirs, ignoreExts []string, minSize int64, dryRun bool) {
	t.Helper()

	reg := registry.New(nil)
	id := reg.SubmitScan(registry.ScanRequest{
		Roots:       []string{filepath.Join(root, "data")},
		DryRun:      dryRun,
		LinkType:    "hard",
		IgnoreDirs:  ignoreDirs,
		IgnoreExts:  ignoreExts,
		MinFileSize: uint64(minSize),
	})

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := reg.Snapshot(id)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		switch snap.Status {
		case registry.StatusDone, registry.StatusError, registry.StatusCancelled:
			if snap.Status == registry.StatusError {
				t.Fatalf("scan %s finished with status %s", id, snap.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scan %s did not finish in time", id)
}

func sameInode(t *testing.T, path1, path2 string) bool {
	t.Helper()

	info1, err := os.Stat(path1)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path1, err)
	}
	info2, err := os.Stat(path2)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path2, err)
	}

	stat1 := info1.Sys().(*syscall.Stat_t)
	stat2 := info2.Sys().(*syscall.Stat_t)

	return stat1.Dev == stat2.Dev && stat1.Ino == stat2.Ino
}
