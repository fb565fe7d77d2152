// Package filter implements the per-run blocked Bloom filter described in
// spec.md §4.4: kBitsPerEntry=10, kNumHashFuncs=7, kBlockBits=1024,
// kEntriesPerCacheLine=16. Each key selects one block via H0 and sets 7
// bits within that block via H1..H7, all independently seeded.
//
// Reference: teacher internal/filter/bloom.go (FastLocalBloom) gave the
// builder/reader split and the "probe within one block" cache-locality
// idea; the actual bit-selection scheme here is the spec's 7-probe,
// 1024-bit-block design rather than FastLocalBloom's single-hash,
// golden-ratio-expansion scheme, and the hash primitive is the teacher's
// seeded XXHash64 (internal/checksum) rather than FastLocalBloom's split
// XXH3 halves.
package filter

import (
	"encoding/binary"

	"github.com/aalhour/lsmkv/internal/checksum"
)

const (
	// BitsPerEntry is the target Bloom filter bits allocated per entry.
	BitsPerEntry = 10
	// NumHashFuncs is the number of bits set per key.
	NumHashFuncs = 7
	// BlockBits is the number of bits in one block (one CPU cache-line pair).
	BlockBits = 1024
	// BlockBytes is BlockBits/8.
	BlockBytes = BlockBits / 8
	// EntriesPerCacheLine is the number of entries one block is sized for.
	EntriesPerCacheLine = 16
)

// seedBase, multiplied by the probe index and added to the filter's
// seed, derives NumHashFuncs+1
// independent seeds (H0 for block selection, H1..H7 for in-block bits)
// from a single xxhash64 primitive.
const seedBase uint64 = 0x9e3779b97f4a7c15

func hashAt(key uint64, seed uint64, probe int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return checksum.XXHash64WithSeed(buf[:], seed+uint64(probe)*seedBase)
}

// Builder accumulates keys and produces the filter's bit data.
type Builder struct {
	seed      uint64
	numBlocks int
	bits      []byte // numBlocks * BlockBytes
}

// NewBuilder allocates a builder for expectedEntries keys. expectedEntries
// is rounded up to a multiple of EntriesPerCacheLine, as spec.md §4.4
// requires.
func NewBuilder(expectedEntries int, seed uint64) *Builder {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	rounded := ((expectedEntries + EntriesPerCacheLine - 1) / EntriesPerCacheLine) * EntriesPerCacheLine
	numBlocks := rounded / EntriesPerCacheLine
	if numBlocks < 1 {
		numBlocks = 1
	}
	return &Builder{
		seed:      seed,
		numBlocks: numBlocks,
		bits:      make([]byte, numBlocks*BlockBytes),
	}
}

// Seed returns the seed this builder (and the resulting reader) uses.
func (b *Builder) Seed() uint64 { return b.seed }

// NumBlocks returns the number of blocks allocated.
func (b *Builder) NumBlocks() int { return b.numBlocks }

// Add sets the bits for key.
func (b *Builder) Add(key uint64) {
	blockIdx := int(hashAt(key, b.seed, 0) % uint64(b.numBlocks))
	block := b.bits[blockIdx*BlockBytes : (blockIdx+1)*BlockBytes]
	for i := 1; i <= NumHashFuncs; i++ {
		bit := hashAt(key, b.seed, i) % BlockBits
		block[bit/8] |= 1 << (bit % 8)
	}
}

// Bits returns the raw bit data (numBlocks*BlockBytes bytes), for
// persistence by the caller.
func (b *Builder) Bits() []byte { return b.bits }

// Reader answers MayContain queries against a previously built filter's
// bit data.
type Reader struct {
	seed      uint64
	numBlocks int
	bits      []byte
}

// NewReader wraps bits (as produced by Builder.Bits) for querying.
func NewReader(bits []byte, numBlocks int, seed uint64) *Reader {
	return &Reader{seed: seed, numBlocks: numBlocks, bits: bits}
}

// MayContain reports whether key may be present. False means definitely
// absent; true may be a false positive.
func (r *Reader) MayContain(key uint64) bool {
	if r.numBlocks == 0 || len(r.bits) == 0 {
		return false
	}
	blockIdx := int(hashAt(key, r.seed, 0) % uint64(r.numBlocks))
	block := r.bits[blockIdx*BlockBytes : (blockIdx+1)*BlockBytes]
	for i := 1; i <= NumHashFuncs; i++ {
		bit := hashAt(key, r.seed, i) % BlockBits
		if block[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}
