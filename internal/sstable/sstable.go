// Package sstable implements the two immutable on-disk sorted-run
// formats: flat-sorted (binary search over a packed pair array) and
// B-tree (internal separator nodes over chained leaves).
//
// Reference: teacher internal/table (reader.go/builder.go) gave the
// Flush/GetFromFile/ScanInFile/Drain contract shape — a serializer that
// builds a file from sorted input and a reader that probes it by key or
// range, all page I/O routed through a shared buffer pool; the wire
// format itself is the spec's literal page-0-header-plus-pairs layout
// (or B-tree) rather than the teacher's block-based SST format with its
// index block / filter block / footer.
package sstable

import (
	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// Pair is one (key, value) record.
type Pair struct {
	Key   uint64
	Value uint64
}

// PairSize is the on-disk width of one Pair: two little-endian u64s.
const PairSize = 16

// Kind selects which on-disk variant a Table uses.
type Kind int

const (
	FlatSorted Kind = iota
	BTree
)

// Table is the shared interface both sstable variants satisfy (spec.md
// §9 "Polymorphism across sstable variants").
type Table interface {
	// Flush writes pairs (already sorted ascending by Key) to the
	// table's file, building whichever on-disk layout the variant uses.
	Flush(pairs []Pair) error

	// GetFromFile returns the value for key, or found=false if absent.
	GetFromFile(key uint64) (value uint64, found bool, err error)

	// ScanInFile returns all pairs with lo <= key <= hi, ascending.
	ScanInFile(lo, hi uint64) ([]Pair, error)

	// Drain returns every pair in the file, ascending.
	Drain() ([]Pair, error)

	// GetMinimum and GetMaximum report the file's key bounds, read from
	// its header.
	GetMinimum() uint64
	GetMaximum() uint64

	// Delete removes the underlying file.
	Delete() error

	// Path returns the file path this table was opened or flushed to.
	Path() string
}

// Open opens an existing data file of the given kind for reading.
func Open(fs vfs.FS, pool *bufpool.BufPool, kind Kind, path string) (Table, error) {
	switch kind {
	case BTree:
		return openBTree(fs, pool, path)
	default:
		return openFlat(fs, pool, path)
	}
}

// New creates a Table ready to Flush a new file of the given kind.
func New(fs vfs.FS, pool *bufpool.BufPool, kind Kind, path string) Table {
	switch kind {
	case BTree:
		return newBTree(fs, pool, path)
	default:
		return newFlat(fs, pool, path)
	}
}
