package filter

import (
	"fmt"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/encoding"
	"github.com/aalhour/lsmkv/internal/fileutil"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// headerLen is the page-0 header: magic+type tag (fileutil.HeaderSize),
// then num_blocks (u64) and seed (u64).
const headerLen = fileutil.HeaderSize + 8 + 8

// Write serializes a filter built by Builder to path: page 0 is
// [magic, type-tag, num_blocks, seed], followed by the bit data,
// zero-padded to a page boundary.
func Write(fs vfs.FS, path string, b *Builder) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("filter: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, fileutil.PageSize)
	fileutil.WriteHeader(header, fileutil.FileTypeFilter)
	encoding.EncodeFixed64(header[fileutil.HeaderSize:fileutil.HeaderSize+8], uint64(b.NumBlocks()))
	encoding.EncodeFixed64(header[fileutil.HeaderSize+8:headerLen], b.Seed())
	if err := f.Append(header); err != nil {
		return fmt.Errorf("filter: write header: %w", err)
	}

	bits := b.Bits()
	dataPages := fileutil.NumPages(len(bits))
	padded := make([]byte, dataPages*fileutil.PageSize)
	copy(padded, bits)
	if err := f.Append(padded); err != nil {
		return fmt.Errorf("filter: write bits: %w", err)
	}
	return f.Sync()
}

// Load reads a filter file back into a Reader, going through pool for
// every page (page 0's header and every data page) so repeated opens of a
// hot filter are served from cache.
func Load(fs vfs.FS, pool *bufpool.BufPool, path string) (*Reader, error) {
	raf, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, fmt.Errorf("filter: open %s: %w", path, err)
	}
	defer func() { _ = raf.Close() }()

	header, err := readPage(raf, pool, path, 0, fileutil.FileTypeFilter)
	if err != nil {
		return nil, err
	}
	if err := fileutil.ReadHeader(header, fileutil.FileTypeFilter); err != nil {
		return nil, fmt.Errorf("filter: %s: %w", path, err)
	}
	numBlocks := int(encoding.DecodeFixed64(header[fileutil.HeaderSize : fileutil.HeaderSize+8]))
	seed := encoding.DecodeFixed64(header[fileutil.HeaderSize+8 : headerLen])

	numBits := numBlocks * BlockBytes
	dataPages := fileutil.NumPages(numBits)
	bits := make([]byte, 0, dataPages*fileutil.PageSize)
	for i := 1; i <= dataPages; i++ {
		page, err := readPage(raf, pool, path, int64(i), fileutil.FileTypeFilter)
		if err != nil {
			return nil, err
		}
		bits = append(bits, page...)
	}
	bits = bits[:numBits]

	return NewReader(bits, numBlocks, seed), nil
}

func readPage(raf vfs.RandomAccessFile, pool *bufpool.BufPool, path string, pageIdx int64, ft fileutil.FileType) ([]byte, error) {
	id := bufpool.PageId{File: path, Page: pageIdx}
	if cached, ok := pool.Get(id); ok {
		return cached.Contents, nil
	}
	buf := make([]byte, fileutil.PageSize)
	n, err := raf.ReadAt(buf, pageIdx*fileutil.PageSize)
	if n < len(buf) && err != nil && n == 0 {
		return nil, fmt.Errorf("filter: read page %d of %s: %w", pageIdx, path, err)
	}
	pool.Put(id, ft, buf)
	return buf, nil
}
