// Package cache provides persistent caching of content-hash results
// across runs, keyed by file identity plus the byte range hashed.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fileforge/dupedog/internal/types"
)

const (
	bucketName = "hashes"
	hashSize   = 8 // uint64 xxhash digest
)

// Cache provides persistent caching of file hashes using BoltDB.
// Implements self-cleaning: each run creates a new database, only used entries survive.
type Cache struct {
	readDB  *bolt.DB // existing cache (read-only)
	writeDB *bolt.DB // new cache (write) - BoltDB locks this file
	path    string   // final path (for atomic swap)
	enabled bool
}

// Open opens the existing cache for reading and creates a new cache for
// writing. BoltDB's file locking on the .new file prevents concurrent
// instances. Returns a disabled cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}
	var err error

	if _, statErr := os.Stat(path); statErr == nil {
		c.readDB, err = bolt.Open(path, 0o600, &bolt.Options{
			ReadOnly: true,
			Timeout:  1 * time.Second,
		})
		if err != nil {
			c.readDB = nil
		}
	}

	newPath := path + ".new"
	c.writeDB, err = bolt.Open(newPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces the old cache with
// the new one. Only replaces if the write database closed successfully,
// to avoid swapping in a partially-written file.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if c.path != "" {
			if err := os.Rename(c.path+".new", c.path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 1 // increment when key format changes

// makeKey builds a deterministic byte key for BoltDB lookup.
// Key = ver(1) + path + NUL + size(8) + inode(8) + mtime(8) + start(8) + rangeSize(8)
func makeKey(fe *types.FileEntry, start, size int64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(fe.Path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, fe.Size)
	_ = binary.Write(buf, binary.BigEndian, fe.Inode)
	_ = binary.Write(buf, binary.BigEndian, fe.ModTime.UnixNano())
	_ = binary.Write(buf, binary.BigEndian, start)
	_ = binary.Write(buf, binary.BigEndian, size)
	return buf.Bytes()
}

// Lookup retrieves a cached hash for a byte range of fe. Identity is keyed
// by (path, size, inode, mtime, start, rangeSize) — any change is a miss.
// On hit, the entry is copied into the new database (self-cleaning).
func (c *Cache) Lookup(fe *types.FileEntry, start, size int64) (hash uint64, ok bool, err error) {
	if !c.enabled || c.readDB == nil {
		return 0, false, nil
	}

	key := makeKey(fe, start, size)
	var data []byte

	err = c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if len(v) == hashSize {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("cache lookup: %w", err)
	}
	if data == nil {
		return 0, false, nil
	}

	hash = binary.BigEndian.Uint64(data)
	_ = c.Store(fe, start, size, hash)
	return hash, true, nil
}

// Store saves a hash for a byte range of fe into the new database.
func (c *Cache) Store(fe *types.FileEntry, start, size int64, hash uint64) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}

	buf := make([]byte, hashSize)
	binary.BigEndian.PutUint64(buf, hash)

	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(fe, start, size), buf)
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
