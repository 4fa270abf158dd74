//go:build unix

package scanner

import (
	"os"
	"syscall"

	"github.com/fileforge/dupedog/internal/types"
)

// newFileEntry builds a types.FileEntry from a path and its os.FileInfo,
// extracting device/inode/nlink from the platform-specific Stat_t.
func newFileEntry(path string, info os.FileInfo) *types.FileEntry {
	stat := info.Sys().(*syscall.Stat_t)
	return &types.FileEntry{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Device:  uint64(stat.Dev), //nolint:unconvert // platform-dependent type
		Inode:   stat.Ino,
		Nlink:   uint32(stat.Nlink),
	}
}
