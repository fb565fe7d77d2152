package sstable

import (
	"fmt"
	"sort"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/encoding"
	"github.com/aalhour/lsmkv/internal/fileutil"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// flatHeaderLen is page 0's header: fileutil header + num_pairs, min_key,
// max_key (three u64s).
const flatHeaderLen = fileutil.HeaderSize + 8 + 8 + 8

// pairsPerPage is how many 16-byte pairs fit in one page. No pair ever
// straddles a page boundary: this is the "fixed, implementation-defined"
// packing choice spec.md §4.5 leaves open, chosen so every pair read is a
// single buffer-pool page touch.
const pairsPerPage = fileutil.PageSize / PairSize

// flatTable is the flat-sorted sstable variant: a page-0 header followed
// by pages of packed (key,value) pairs, binary-searched by key.
//
// Reference: teacher internal/table/reader.go's GetFromFile/ScanInFile
// split gave the method shape; the actual probe is a plain binary search
// over a page-paged array rather than the teacher's index-block lookup.
type flatTable struct {
	fs   vfs.FS
	pool *bufpool.BufPool
	path string
	raf  vfs.RandomAccessFile

	numPairs int
	minKey   uint64
	maxKey   uint64
	loaded   bool
}

func newFlat(fs vfs.FS, pool *bufpool.BufPool, path string) *flatTable {
	return &flatTable{fs: fs, pool: pool, path: path}
}

func openFlat(fs vfs.FS, pool *bufpool.BufPool, path string) (*flatTable, error) {
	t := newFlat(fs, pool, path)
	if err := t.loadHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *flatTable) Path() string { return t.path }

func (t *flatTable) Flush(pairs []Pair) error {
	if !sort.SliceIsSorted(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key }) {
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	}

	f, err := t.fs.Create(t.path)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", t.path, err)
	}
	defer func() { _ = f.Close() }()

	var minKey, maxKey uint64
	if len(pairs) > 0 {
		minKey, maxKey = pairs[0].Key, pairs[len(pairs)-1].Key
	}

	header := make([]byte, fileutil.PageSize)
	fileutil.WriteHeader(header, fileutil.FileTypeData)
	encoding.EncodeFixed64(header[fileutil.HeaderSize:fileutil.HeaderSize+8], uint64(len(pairs)))
	encoding.EncodeFixed64(header[fileutil.HeaderSize+8:fileutil.HeaderSize+16], minKey)
	encoding.EncodeFixed64(header[fileutil.HeaderSize+16:flatHeaderLen], maxKey)
	if err := f.Append(header); err != nil {
		return fmt.Errorf("sstable: write header: %w", err)
	}

	numPages := 0
	if len(pairs) > 0 {
		numPages = (len(pairs) + pairsPerPage - 1) / pairsPerPage
	}
	for p := 0; p < numPages; p++ {
		page := make([]byte, fileutil.PageSize)
		start := p * pairsPerPage
		end := start + pairsPerPage
		if end > len(pairs) {
			end = len(pairs)
		}
		for i, pr := range pairs[start:end] {
			off := i * PairSize
			encoding.EncodeFixed64(page[off:off+8], pr.Key)
			encoding.EncodeFixed64(page[off+8:off+16], pr.Value)
		}
		if err := f.Append(page); err != nil {
			return fmt.Errorf("sstable: write page %d: %w", p, err)
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}

	t.numPairs, t.minKey, t.maxKey, t.loaded = len(pairs), minKey, maxKey, true
	return nil
}

func (t *flatTable) loadHeader() error {
	page, err := t.readPage(0)
	if err != nil {
		return err
	}
	if err := fileutil.ReadHeader(page, fileutil.FileTypeData); err != nil {
		return fmt.Errorf("sstable: %s: %w", t.path, err)
	}
	t.numPairs = int(encoding.DecodeFixed64(page[fileutil.HeaderSize : fileutil.HeaderSize+8]))
	t.minKey = encoding.DecodeFixed64(page[fileutil.HeaderSize+8 : fileutil.HeaderSize+16])
	t.maxKey = encoding.DecodeFixed64(page[fileutil.HeaderSize+16 : flatHeaderLen])
	t.loaded = true
	return nil
}

func (t *flatTable) GetMinimum() uint64 {
	t.ensureLoaded()
	return t.minKey
}

func (t *flatTable) GetMaximum() uint64 {
	t.ensureLoaded()
	return t.maxKey
}

func (t *flatTable) ensureLoaded() {
	if !t.loaded {
		_ = t.loadHeader()
	}
}

func (t *flatTable) GetFromFile(key uint64) (uint64, bool, error) {
	t.ensureLoaded()
	if t.numPairs == 0 || key < t.minKey || key > t.maxKey {
		return 0, false, nil
	}

	lo, hi := 0, t.numPairs-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		k, v, err := t.pairAt(mid)
		if err != nil {
			return 0, false, err
		}
		switch {
		case k == key:
			return v, true, nil
		case k < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false, nil
}

func (t *flatTable) ScanInFile(lo, hi uint64) ([]Pair, error) {
	t.ensureLoaded()
	if t.numPairs == 0 || hi < t.minKey || lo > t.maxKey {
		return nil, nil
	}

	start := t.firstIndexAtLeast(lo)
	var out []Pair
	for i := start; i < t.numPairs; i++ {
		k, v, err := t.pairAt(i)
		if err != nil {
			return nil, err
		}
		if k > hi {
			break
		}
		out = append(out, Pair{Key: k, Value: v})
	}
	return out, nil
}

// firstIndexAtLeast returns the index of the first pair with key >= lo,
// or numPairs if none.
func (t *flatTable) firstIndexAtLeast(lo uint64) int {
	l, h := 0, t.numPairs
	for l < h {
		mid := l + (h-l)/2
		k, _, err := t.pairAt(mid)
		if err != nil || k < lo {
			l = mid + 1
		} else {
			h = mid
		}
	}
	return l
}

func (t *flatTable) Drain() ([]Pair, error) {
	t.ensureLoaded()
	out := make([]Pair, 0, t.numPairs)
	for i := 0; i < t.numPairs; i++ {
		k, v, err := t.pairAt(i)
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{Key: k, Value: v})
	}
	return out, nil
}

func (t *flatTable) Delete() error {
	if t.raf != nil {
		_ = t.raf.Close()
		t.raf = nil
	}
	return t.fs.Remove(t.path)
}

func (t *flatTable) pairAt(i int) (key, value uint64, err error) {
	page, err := t.readPage(int64(1 + i/pairsPerPage))
	if err != nil {
		return 0, 0, err
	}
	off := (i % pairsPerPage) * PairSize
	return encoding.DecodeFixed64(page[off : off+8]), encoding.DecodeFixed64(page[off+8 : off+16]), nil
}

func (t *flatTable) readPage(pageIdx int64) ([]byte, error) {
	id := bufpool.PageId{File: t.path, Page: pageIdx}
	if cached, ok := t.pool.Get(id); ok {
		return cached.Contents, nil
	}
	if t.raf == nil {
		raf, err := t.fs.OpenRandomAccess(t.path)
		if err != nil {
			return nil, fmt.Errorf("sstable: open %s: %w", t.path, err)
		}
		t.raf = raf
	}

	buf := make([]byte, fileutil.PageSize)
	n, err := t.raf.ReadAt(buf, pageIdx*fileutil.PageSize)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("sstable: read page %d of %s: %w", pageIdx, t.path, err)
	}
	t.pool.Put(id, fileutil.FileTypeData, buf)
	return buf, nil
}
