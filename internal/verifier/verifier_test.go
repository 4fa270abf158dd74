package verifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fileforge/dupedog/internal/linker"
	"github.com/stretchr/testify/require"
)

func TestVerifierConfirmsHardlink(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.txt")
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))
	require.NoError(t, os.Link(original, target))

	pairs := []linker.PairResult{{Original: original, Target: target, LinkType: linker.Hard}}
	ok, failed, outcomes := New(pairs, false).Run()

	require.Equal(t, 1, ok)
	require.Equal(t, 0, failed)
	require.True(t, outcomes[0].OK)
}

func TestVerifierFailsHardlinkWithDifferentInode(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.txt")
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644)) // separate inode, same content

	pairs := []linker.PairResult{{Original: original, Target: target, LinkType: linker.Hard}}
	ok, failed, outcomes := New(pairs, false).Run()

	require.Equal(t, 0, ok)
	require.Equal(t, 1, failed)
	require.Error(t, outcomes[0].Err)
}

func TestVerifierFailsHardlinkMissingTarget(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))

	pairs := []linker.PairResult{{Original: original, Target: filepath.Join(dir, "gone.txt"), LinkType: linker.Hard}}
	ok, failed, _ := New(pairs, false).Run()

	require.Equal(t, 0, ok)
	require.Equal(t, 1, failed)
}

func TestVerifierConfirmsSymlink(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.txt")
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(original, target))

	pairs := []linker.PairResult{{Original: original, Target: target, LinkType: linker.Soft}}
	ok, failed, outcomes := New(pairs, false).Run()

	require.Equal(t, 1, ok)
	require.Equal(t, 0, failed)
	require.True(t, outcomes[0].OK)
}

func TestVerifierFailsSymlinkToWrongTarget(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.txt")
	other := filepath.Join(dir, "other.txt")
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("y"), 0o644))
	require.NoError(t, os.Symlink(other, target))

	pairs := []linker.PairResult{{Original: original, Target: target, LinkType: linker.Soft}}
	ok, failed, _ := New(pairs, false).Run()

	require.Equal(t, 0, ok)
	require.Equal(t, 1, failed)
}

func TestVerifierSkipsFailedLinkerPairs(t *testing.T) {
	pairs := []linker.PairResult{{Original: "/a", Target: "/b", Err: require.AnError}}
	ok, failed, outcomes := New(pairs, false).Run()

	require.Equal(t, 0, ok)
	require.Equal(t, 0, failed)
	require.Empty(t, outcomes)
}
