package sstable

import (
	"fmt"
	"sort"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/encoding"
	"github.com/aalhour/lsmkv/internal/fileutil"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// btreeHeaderLen is page 0's header: fileutil header + num_pairs, min_key,
// max_key, root_page, fanout (five u64s).
const btreeHeaderLen = fileutil.HeaderSize + 8*5

// nodeHeaderLen is every non-header page's prefix: a u64 node-kind tag
// followed by a u64 entry count.
const nodeHeaderLen = 16

const (
	nodeKindLeaf     = 0
	nodeKindInternal = 1
)

// leafCapacity is the number of (key,value) pairs one leaf page holds,
// leaving room for the node header and the next_page chaining pointer.
// Spec.md §4.3 estimates "≈ 255"; this implementation's exact figure is
// (PageSize - nodeHeaderLen - 8) / PairSize = 254, documented in
// DESIGN.md.
const leafCapacity = (fileutil.PageSize - nodeHeaderLen - 8) / PairSize

// internalCapacity is the number of separator/child entries one internal
// node page holds. Spec.md §4.3 estimates "≈ 510"; this implementation
// stores an 8-byte child pointer alongside every 8-byte separator key
// (16 bytes/entry rather than the spec's informal 8-byte-per-entry
// estimate), giving (PageSize - nodeHeaderLen) / 16 = 255, documented in
// DESIGN.md.
const internalCapacity = (fileutil.PageSize - nodeHeaderLen) / 16

// btreeTable is the B-tree sstable variant: leaves hold sorted pairs and
// are chained via next_page; internal nodes hold sorted separator keys
// (the maximum key of the corresponding child subtree) with child page
// pointers. Separator semantics: smallest separator >= key selects the
// child (spec.md §9 open question (i), resolved this way).
//
// Reference: teacher internal/block (separator/child shape of a sorted
// index block) and internal/table/builder.go (bottom-up leaf-then-index
// construction) gave the build order; this format's fixed page layout
// and chaining replace the teacher's variable-length block + footer
// format.
type btreeTable struct {
	fs   vfs.FS
	pool *bufpool.BufPool
	path string
	raf  vfs.RandomAccessFile

	numPairs int
	minKey   uint64
	maxKey   uint64
	rootPage int64
	fanout   int
	loaded   bool
}

func newBTree(fs vfs.FS, pool *bufpool.BufPool, path string) *btreeTable {
	return &btreeTable{fs: fs, pool: pool, path: path}
}

func openBTree(fs vfs.FS, pool *bufpool.BufPool, path string) (*btreeTable, error) {
	t := newBTree(fs, pool, path)
	if err := t.loadHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *btreeTable) Path() string { return t.path }

type btreeNode struct {
	kind     int
	pageIdx  int64
	pairs    []Pair   // leaf only
	next     int64    // leaf only; 0 means none
	seps     []uint64 // internal only
	children []int64  // internal only, parallel to seps
}

// Flush builds the tree bottom-up: leaves first, then one or more levels
// of internal separator nodes, until a single root remains.
func (t *btreeTable) Flush(pairs []Pair) error {
	if !sort.SliceIsSorted(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key }) {
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	}

	var minKey, maxKey uint64
	if len(pairs) > 0 {
		minKey, maxKey = pairs[0].Key, pairs[len(pairs)-1].Key
	}

	var nodes []*btreeNode
	nextPage := int64(1)

	// Leaves.
	if len(pairs) == 0 {
		nodes = append(nodes, &btreeNode{kind: nodeKindLeaf, pageIdx: nextPage})
		nextPage++
	} else {
		for start := 0; start < len(pairs); start += leafCapacity {
			end := start + leafCapacity
			if end > len(pairs) {
				end = len(pairs)
			}
			leaf := &btreeNode{kind: nodeKindLeaf, pageIdx: nextPage, pairs: append([]Pair(nil), pairs[start:end]...)}
			nodes = append(nodes, leaf)
			nextPage++
		}
		for i := 0; i < len(nodes)-1; i++ {
			nodes[i].next = nodes[i+1].pageIdx
		}
	}

	// Internal levels, bottom-up, until one node remains.
	level := nodes
	for len(level) > 1 {
		var parents []*btreeNode
		for start := 0; start < len(level); start += internalCapacity {
			end := start + internalCapacity
			if end > len(level) {
				end = len(level)
			}
			group := level[start:end]
			parent := &btreeNode{kind: nodeKindInternal, pageIdx: nextPage}
			for _, child := range group {
				parent.seps = append(parent.seps, subtreeMax(child))
				parent.children = append(parent.children, child.pageIdx)
			}
			parents = append(parents, parent)
			nextPage++
		}
		nodes = append(nodes, parents...)
		level = parents
	}
	root := level[0]

	f, err := t.fs.Create(t.path)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", t.path, err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, fileutil.PageSize)
	fileutil.WriteHeader(header, fileutil.FileTypeData)
	enc := header[fileutil.HeaderSize:]
	encoding.EncodeFixed64(enc[0:8], uint64(len(pairs)))
	encoding.EncodeFixed64(enc[8:16], minKey)
	encoding.EncodeFixed64(enc[16:24], maxKey)
	encoding.EncodeFixed64(enc[24:32], uint64(root.pageIdx))
	encoding.EncodeFixed64(enc[32:40], uint64(internalCapacity))
	if err := f.Append(header); err != nil {
		return fmt.Errorf("sstable: write header: %w", err)
	}

	byPage := make(map[int64]*btreeNode, len(nodes))
	for _, n := range nodes {
		byPage[n.pageIdx] = n
	}
	for p := int64(1); p < nextPage; p++ {
		n := byPage[p]
		page := make([]byte, fileutil.PageSize)
		encodeNode(page, n)
		if err := f.Append(page); err != nil {
			return fmt.Errorf("sstable: write node page %d: %w", p, err)
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}

	t.numPairs, t.minKey, t.maxKey, t.rootPage, t.fanout, t.loaded =
		len(pairs), minKey, maxKey, root.pageIdx, internalCapacity, true
	return nil
}

func subtreeMax(n *btreeNode) uint64 {
	if n.kind == nodeKindLeaf {
		if len(n.pairs) == 0 {
			return 0
		}
		return n.pairs[len(n.pairs)-1].Key
	}
	return n.seps[len(n.seps)-1]
}

func encodeNode(page []byte, n *btreeNode) {
	encoding.EncodeFixed64(page[0:8], uint64(n.kind))
	if n.kind == nodeKindLeaf {
		encoding.EncodeFixed64(page[8:16], uint64(len(n.pairs)))
		for i, pr := range n.pairs {
			off := nodeHeaderLen + i*PairSize
			encoding.EncodeFixed64(page[off:off+8], pr.Key)
			encoding.EncodeFixed64(page[off+8:off+16], pr.Value)
		}
		nextOff := nodeHeaderLen + leafCapacity*PairSize
		encoding.EncodeFixed64(page[nextOff:nextOff+8], uint64(n.next))
		return
	}
	encoding.EncodeFixed64(page[8:16], uint64(len(n.seps)))
	for i := range n.seps {
		off := nodeHeaderLen + i*16
		encoding.EncodeFixed64(page[off:off+8], n.seps[i])
		encoding.EncodeFixed64(page[off+8:off+16], uint64(n.children[i]))
	}
}

func (t *btreeTable) loadHeader() error {
	page, err := t.readPage(0)
	if err != nil {
		return err
	}
	if err := fileutil.ReadHeader(page, fileutil.FileTypeData); err != nil {
		return fmt.Errorf("sstable: %s: %w", t.path, err)
	}
	dec := page[fileutil.HeaderSize:]
	t.numPairs = int(encoding.DecodeFixed64(dec[0:8]))
	t.minKey = encoding.DecodeFixed64(dec[8:16])
	t.maxKey = encoding.DecodeFixed64(dec[16:24])
	t.rootPage = int64(encoding.DecodeFixed64(dec[24:32]))
	t.fanout = int(encoding.DecodeFixed64(dec[32:40]))
	t.loaded = true
	return nil
}

func (t *btreeTable) ensureLoaded() {
	if !t.loaded {
		_ = t.loadHeader()
	}
}

func (t *btreeTable) GetMinimum() uint64 {
	t.ensureLoaded()
	return t.minKey
}

func (t *btreeTable) GetMaximum() uint64 {
	t.ensureLoaded()
	return t.maxKey
}

func (t *btreeTable) Delete() error {
	if t.raf != nil {
		_ = t.raf.Close()
		t.raf = nil
	}
	return t.fs.Remove(t.path)
}

func (t *btreeTable) GetFromFile(key uint64) (uint64, bool, error) {
	t.ensureLoaded()
	if t.numPairs == 0 || key < t.minKey || key > t.maxKey {
		return 0, false, nil
	}

	page := t.rootPage
	for {
		n, err := t.readNode(page)
		if err != nil {
			return 0, false, err
		}
		if n.kind == nodeKindLeaf {
			lo, hi := 0, len(n.pairs)-1
			for lo <= hi {
				mid := lo + (hi-lo)/2
				switch {
				case n.pairs[mid].Key == key:
					return n.pairs[mid].Value, true, nil
				case n.pairs[mid].Key < key:
					lo = mid + 1
				default:
					hi = mid - 1
				}
			}
			return 0, false, nil
		}
		page = childFor(n, key)
	}
}

// childFor returns the child page for the smallest separator >= key
// (spec.md §9 open question (i)'s resolution).
func childFor(n *decodedNode, key uint64) int64 {
	i := sort.Search(len(n.seps), func(i int) bool { return n.seps[i] >= key })
	if i == len(n.seps) {
		i = len(n.seps) - 1
	}
	return n.children[i]
}

func (t *btreeTable) ScanInFile(lo, hi uint64) ([]Pair, error) {
	t.ensureLoaded()
	if t.numPairs == 0 || hi < t.minKey || lo > t.maxKey {
		return nil, nil
	}

	leafPage, err := t.descendToLeaf(lo)
	if err != nil {
		return nil, err
	}

	var out []Pair
	for leafPage != 0 {
		n, err := t.readNode(leafPage)
		if err != nil {
			return nil, err
		}
		done := false
		for _, pr := range n.pairs {
			if pr.Key < lo {
				continue
			}
			if pr.Key > hi {
				done = true
				break
			}
			out = append(out, pr)
		}
		if done {
			break
		}
		leafPage = n.next
	}
	return out, nil
}

func (t *btreeTable) Drain() ([]Pair, error) {
	t.ensureLoaded()
	leafPage, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	out := make([]Pair, 0, t.numPairs)
	for leafPage != 0 {
		n, err := t.readNode(leafPage)
		if err != nil {
			return nil, err
		}
		out = append(out, n.pairs...)
		leafPage = n.next
	}
	return out, nil
}

// descendToLeaf returns the page index of the leaf that would hold key,
// whether or not key is actually present.
func (t *btreeTable) descendToLeaf(key uint64) (int64, error) {
	if key <= t.minKey {
		return t.leftmostLeaf()
	}
	page := t.rootPage
	for {
		n, err := t.readNode(page)
		if err != nil {
			return 0, err
		}
		if n.kind == nodeKindLeaf {
			return page, nil
		}
		page = childFor(n, key)
	}
}

func (t *btreeTable) leftmostLeaf() (int64, error) {
	page := t.rootPage
	for {
		n, err := t.readNode(page)
		if err != nil {
			return 0, err
		}
		if n.kind == nodeKindLeaf {
			return page, nil
		}
		page = n.children[0]
	}
}

type decodedNode struct {
	kind     int
	pairs    []Pair
	next     int64
	seps     []uint64
	children []int64
}

func (t *btreeTable) readNode(pageIdx int64) (*decodedNode, error) {
	raw, err := t.readPage(pageIdx)
	if err != nil {
		return nil, err
	}
	kind := int(encoding.DecodeFixed64(raw[0:8]))
	count := int(encoding.DecodeFixed64(raw[8:16]))
	n := &decodedNode{kind: kind}
	if kind == nodeKindLeaf {
		n.pairs = make([]Pair, count)
		for i := 0; i < count; i++ {
			off := nodeHeaderLen + i*PairSize
			n.pairs[i] = Pair{
				Key:   encoding.DecodeFixed64(raw[off : off+8]),
				Value: encoding.DecodeFixed64(raw[off+8 : off+16]),
			}
		}
		nextOff := nodeHeaderLen + leafCapacity*PairSize
		n.next = int64(encoding.DecodeFixed64(raw[nextOff : nextOff+8]))
		return n, nil
	}
	n.seps = make([]uint64, count)
	n.children = make([]int64, count)
	for i := 0; i < count; i++ {
		off := nodeHeaderLen + i*16
		n.seps[i] = encoding.DecodeFixed64(raw[off : off+8])
		n.children[i] = int64(encoding.DecodeFixed64(raw[off+8 : off+16]))
	}
	return n, nil
}

func (t *btreeTable) readPage(pageIdx int64) ([]byte, error) {
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
