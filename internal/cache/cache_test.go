package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fileforge/dupedog/internal/types"
	"github.com/stretchr/testify/require"
)

func TestCacheDisabled(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	fe := &types.FileEntry{Path: "/test/file", Size: 100, Inode: 1234, ModTime: time.Now()}

	require.NoError(t, c.Store(fe, 0, 100, 0xdeadbeef))

	_, ok, err := c.Lookup(fe, 0, 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, err := Open(cachePath)
	require.NoError(t, err)

	fe := &types.FileEntry{
		Path:    "/test/file.txt",
		Size:    1024,
		Inode:   12345,
		ModTime: time.Unix(1609459200, 0),
	}
	const hash uint64 = 0x0102030405060708

	require.NoError(t, c1.Store(fe, 0, 1024, hash))
	require.NoError(t, c1.Store(fe, 0, 512, hash))
	require.NoError(t, c1.Store(fe, 512, 512, hash))
	require.NoError(t, c1.Close())

	c2, err := Open(cachePath)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()

	for _, tc := range []struct{ start, size int64 }{
		{0, 1024},
		{0, 512},
		{512, 512},
	} {
		got, ok, err := c2.Lookup(fe, tc.start, tc.size)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, hash, got)
	}
}

func TestCacheMissOnMtimeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	fe := &types.FileEntry{Path: "/test/file.txt", Size: 1024, Inode: 12345, ModTime: time.Unix(1609459200, 0)}
	require.NoError(t, c1.Store(fe, 0, 1024, 42))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	changed := &types.FileEntry{Path: fe.Path, Size: fe.Size, Inode: fe.Inode, ModTime: time.Unix(1609459201, 0)}
	_, ok, err := c2.Lookup(changed, 0, 1024)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheMissOnSizeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	fe := &types.FileEntry{Path: "/test/file.txt", Size: 1024, Inode: 12345, ModTime: time.Now()}
	require.NoError(t, c1.Store(fe, 0, 1024, 42))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	changed := &types.FileEntry{Path: fe.Path, Size: 2048, Inode: fe.Inode, ModTime: fe.ModTime}
	_, ok, err := c2.Lookup(changed, 0, 1024)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheMissOnInodeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	fe := &types.FileEntry{Path: "/test/file.txt", Size: 1024, Inode: 12345, ModTime: time.Now()}
	require.NoError(t, c1.Store(fe, 0, 1024, 42))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	changed := &types.FileEntry{Path: fe.Path, Size: fe.Size, Inode: 99999, ModTime: fe.ModTime}
	_, ok, err := c2.Lookup(changed, 0, 1024)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheMissOnPathChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	fe := &types.FileEntry{Path: "/test/original.txt", Size: 1024, Inode: 12345, ModTime: time.Now()}
	require.NoError(t, c1.Store(fe, 0, 1024, 42))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	changed := &types.FileEntry{Path: "/test/renamed.txt", Size: fe.Size, Inode: fe.Inode, ModTime: fe.ModTime}
	_, ok, err := c2.Lookup(changed, 0, 1024)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheMissOnRangeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	fe := &types.FileEntry{Path: "/test/file.txt", Size: 1024, Inode: 12345, ModTime: time.Now()}
	require.NoError(t, c1.Store(fe, 0, 512, 42))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	_, ok, err := c2.Lookup(fe, 512, 512)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c2.Lookup(fe, 0, 1024)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheSelfCleaning(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	feA := &types.FileEntry{Path: "/a.txt", Size: 100, Inode: 1, ModTime: time.Now()}
	feB := &types.FileEntry{Path: "/b.txt", Size: 200, Inode: 2, ModTime: time.Now()}
	require.NoError(t, c1.Store(feA, 0, 100, 1))
	require.NoError(t, c1.Store(feB, 0, 200, 2))
	require.NoError(t, c1.Close())

	c2, _ := Open(cachePath)
	_, ok, _ := c2.Lookup(feA, 0, 100) // hit, copied forward
	require.True(t, ok)
	require.NoError(t, c2.Close())

	c3, _ := Open(cachePath)
	defer func() { _ = c3.Close() }()

	_, ok, _ = c3.Lookup(feA, 0, 100)
	require.True(t, ok, "feA should survive self-cleaning")

	_, ok, _ = c3.Lookup(feB, 0, 200)
	require.False(t, ok, "feB should have been cleaned (never re-looked-up)")
}

func TestMakeKeyDeterministic(t *testing.T) {
	fe := &types.FileEntry{
		Path:    "/test/file.txt",
		Size:    1024,
		Inode:   12345,
		ModTime: time.Unix(1609459200, 123456789),
	}

	require.Equal(t, makeKey(fe, 0, 512), makeKey(fe, 0, 512))
}

func TestCacheDirCreation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedPath := filepath.Join(tmpDir, "a", "b", "c", "cache.db")

	c, err := Open(nestedPath)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, statErr := filepath.Glob(filepath.Join(filepath.Dir(nestedPath), "*"))
	require.NoError(t, statErr)
}
