// Package kvstore is the public façade over the embedded LSM engine: it
// resolves a database directory, enforces single-writer exclusion via a
// lock file, and composes the memtable, buffer pool, manifest, and level
// tree into the Put/Get/Delete/Scan operations described in spec.md §4.11.
//
// Reference: teacher db.go / options.go (the top-level Open/Close/Put/Get
// surface and its sentinel-error style) gave the façade's shape; the
// storage internals it composes are this repository's own packages
// rather than the teacher's RocksDB-alike column-family/WAL machinery.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/fileutil"
	"github.com/aalhour/lsmkv/internal/kvoptions"
	"github.com/aalhour/lsmkv/internal/lsm"
	"github.com/aalhour/lsmkv/internal/manifest"
	"github.com/aalhour/lsmkv/internal/memtable"
	"github.com/aalhour/lsmkv/internal/minheap"
	"github.com/aalhour/lsmkv/internal/naming"
	"github.com/aalhour/lsmkv/internal/sstable"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// Options is re-exported so callers only need to import kvstore.
type Options = kvoptions.Options

var (
	ErrDatabaseClosed                   = errors.New("kvstore: database is closed")
	ErrDatabaseInUse                    = errors.New("kvstore: database is in use by another instance")
	ErrFailedToOpen                     = errors.New("kvstore: failed to open database")
	ErrOnlyTheDatabaseCanUseFunnyValues = errors.New("kvstore: the tombstone value is reserved for internal use")
)

// KvStore is an embedded, single-writer, persistent ordered key-value
// store for fixed-width uint64 keys and values.
type KvStore struct {
	fs     vfs.FS
	dbDir  string
	name   string
	opts   Options
	lockFD interface{ Close() error }

	pool *bufpool.BufPool
	man  *manifest.Manifest
	tree *lsm.Tree
	mt   *memtable.Memtable

	closed bool
}

// Open resolves <dir>/<name> as the database directory, enforces the
// lock file, and reconstructs (or creates) the on-disk catalog.
func Open(name string, opts Options) (*KvStore, error) {
	fs := vfs.Default()
	dbDir := naming.DBDir(opts.Dir, name)

	if opts.Overwrite && fs.Exists(dbDir) {
		if err := fs.RemoveAll(dbDir); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToOpen, err)
		}
	}
	if err := fs.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpen, err)
	}

	lockPath := naming.LockFile(dbDir, name)
	if fs.Exists(lockPath) {
		return nil, ErrDatabaseInUse
	}
	lockCloser, err := fs.Lock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseInUse, err)
	}

	optionsPath := naming.OptionsFile(dbDir, name)
	if fs.Exists(optionsPath) {
		if opts, err = readOptionsFile(fs, optionsPath, opts); err != nil {
			_ = lockCloser.Close()
			return nil, fmt.Errorf("%w: %v", ErrFailedToOpen, err)
		}
	}
	if err := writeOptionsFile(fs, optionsPath, opts); err != nil {
		_ = lockCloser.Close()
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpen, err)
	}

	kind := opts.Serialization.Kind()
	man, err := manifest.Open(fs, dbDir, name, kind)
	if err != nil {
		_ = lockCloser.Close()
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpen, err)
	}

	pool := bufpool.New(opts.BufferPagesMaximum, nil)
	tree := lsm.NewTree(fs, pool, man, dbDir, name, kind, opts.Tiers, opts.Compaction, opts.MemoryBufferElements)

	return &KvStore{
		fs:     fs,
		dbDir:  dbDir,
		name:   name,
		opts:   opts,
		lockFD: lockCloser,
		pool:   pool,
		man:    man,
		tree:   tree,
		mt:     memtable.New(opts.MemoryBufferElements),
	}, nil
}

// Close deletes the lock file and discards the (possibly non-empty)
// in-memory memtable; spec.md §4.11 states this is a known limitation of
// the no-WAL scope, not a bug.
func (s *KvStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	lockPath := naming.LockFile(s.dbDir, s.name)
	_ = s.lockFD.Close()
	return s.fs.Remove(lockPath)
}

// DataDirectory returns the resolved database directory.
func (s *KvStore) DataDirectory() (string, error) {
	if s.closed {
		return "", ErrDatabaseClosed
	}
	return s.dbDir, nil
}

// Put inserts or updates (k, v). v must not be the reserved tombstone
// value.
func (s *KvStore) Put(k, v uint64) error {
	if s.closed {
		return ErrDatabaseClosed
	}
	if v == fileutil.Tombstone {
		return ErrOnlyTheDatabaseCanUseFunnyValues
	}
	return s.put(k, v)
}

// Delete removes k, recorded as a tombstone until compaction erases it.
func (s *KvStore) Delete(k uint64) error {
	if s.closed {
		return ErrDatabaseClosed
	}
	return s.put(k, fileutil.Tombstone)
}

func (s *KvStore) put(k, v uint64) error {
	err := s.mt.Put(k, v)
	if err == nil {
		return nil
	}
	if !errors.Is(err, memtable.ErrFull) {
		return err
	}

	pairs := toPairs(s.mt.ScanAll())
	if err := s.tree.FlushNewRun(0, pairs); err != nil {
		return fmt.Errorf("kvstore: flush memtable: %w", err)
	}
	s.mt.Clear()

	// Retry: the memtable is now empty so this cannot fail with ErrFull
	// again for a single new key.
	return s.mt.Put(k, v)
}

// Get returns the value for k, or found=false if absent or deleted.
func (s *KvStore) Get(k uint64) (uint64, bool, error) {
	if s.closed {
		return 0, false, ErrDatabaseClosed
	}
	if v, ok := s.mt.Get(k); ok {
		if v == fileutil.Tombstone {
			return 0, false, nil
		}
		return v, true, nil
	}

	v, ok, err := s.tree.Get(k)
	if err != nil {
		return 0, false, err
	}
	if !ok || v == fileutil.Tombstone {
		return 0, false, nil
	}
	return v, true, nil
}

// Scan returns every live (k,v) with lo <= k <= hi, ascending, newest
// version wins, at most one entry per key.
func (s *KvStore) Scan(lo, hi uint64) ([]sstable.Pair, error) {
	if s.closed {
		return nil, ErrDatabaseClosed
	}

	memPairs := toPairs(s.mt.Scan(lo, hi))
	treePairs, err := s.tree.Scan(lo, hi)
	if err != nil {
		return nil, err
	}
	if len(memPairs) == 0 {
		return treePairs, nil
	}

	// The memtable is always the newest version of any key it holds, so
	// it is merged in as the last stream (highest run index, matching
	// minheap's newest-wins tie-break).
	streams := [][]sstable.Pair{treePairs, memPairs}
	return mergeNewestWins(streams)
}

func mergeNewestWins(streams [][]sstable.Pair) ([]sstable.Pair, error) {
	type cursor struct {
		pairs []sstable.Pair
		pos   int
	}
	cursors := make([]*cursor, 0, len(streams))
	for _, p := range streams {
		if len(p) > 0 {
			cursors = append(cursors, &cursor{pairs: p})
		}
	}

	heap := minheap.New(len(cursors))
	for i, c := range cursors {
		heap.Insert(minheap.Item{Key: c.pairs[0].Key, Run: i, Value: c.pairs[0].Value})
	}

	var out []sstable.Pair
	for !heap.IsEmpty() {
		top, _ := heap.Extract()
		c := cursors[top.Run]
		c.pos++
		if c.pos < len(c.pairs) {
			heap.Insert(minheap.Item{Key: c.pairs[c.pos].Key, Run: top.Run, Value: c.pairs[c.pos].Value})
		}
		for !heap.IsEmpty() {
			next, _ := heap.Peek()
			if next.Key != top.Key {
				break
			}
			dup, _ := heap.Extract()
			dc := cursors[dup.Run]
			dc.pos++
			if dc.pos < len(dc.pairs) {
				heap.Insert(minheap.Item{Key: dc.pairs[dc.pos].Key, Run: dup.Run, Value: dc.pairs[dc.pos].Value})
			}
		}
		if top.Value != fileutil.Tombstone {
			out = append(out, sstable.Pair{Key: top.Key, Value: top.Value})
		}
	}
	return out, nil
}

// readOptionsFile loads a previously persisted OPTIONS file, falling
// back to defaults for any field it omits.
func readOptionsFile(fs vfs.FS, path string, defaults Options) (Options, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Options{}, err
	}
	defer f.Close()
	return kvoptions.Read(f, defaults)
}

// writeOptionsFile persists opts next to the manifest so a later Open of
// the same (dir, name) observes the same tuning without the caller
// needing to resupply Options.
func writeOptionsFile(fs vfs.FS, path string, opts Options) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	if err := kvoptions.Write(f, opts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func toPairs(entries []memtable.Entry) []sstable.Pair {
	out := make([]sstable.Pair, len(entries))
	for i, e := range entries {
		out[i] = sstable.Pair{Key: e.Key, Value: e.Value}
	}
	return out
}

// Stats reports buffer-pool hit/miss counters, matching the teacher's
// cache introspection style.
type Stats struct {
	BufferPoolHits   uint64
	BufferPoolMisses uint64
}

func (s *KvStore) Stats() Stats {
	return Stats{BufferPoolHits: s.pool.HitCount(), BufferPoolMisses: s.pool.MissCount()}
}
