// Package bufpool implements a cache of fixed-size pages keyed by
// (file, page#), backed by a clock evictor.
//
// Reference: teacher internal/cache (LRUCache's table+eviction-list split,
// CacheKey{FileNumber,BlockOffset}, hit/miss counters) gave the shape of
// this cache; the eviction policy is swapped for the spec-mandated Clock
// ring (internal/evictor) and the table is open-addressed per spec.md
// §4.2, which calls out an injectable hash function so tests can drive
// bucket placement deterministically.
package bufpool

import (
	"github.com/aalhour/lsmkv/internal/evictor"
	"github.com/aalhour/lsmkv/internal/fileutil"
)

// PageId identifies any cached page by the file it belongs to and its
// 0-based page index within that file.
type PageId struct {
	File string
	Page int64
}

// PageType records which kind of page a buffered entry holds, mirroring
// the file type it was read from.
type PageType = fileutil.FileType

// BufferedPage is a copy-out view of a cached page.
type BufferedPage struct {
	Type     PageType
	Contents []byte // always len == fileutil.PageSize
}

// HashFunc computes a bucket hash for a PageId. New uses an FNV-1a-based
// default when given nil; tests may inject e.g. func(id PageId) uint64
// { return uint64(id.Page) } to force collisions and drive bucket
// placement deterministically.
type HashFunc func(id PageId) uint64

func defaultHash(id PageId) uint64 {
	h := uint64(1469598103934665603) // FNV-1a offset basis
	for i := 0; i < len(id.File); i++ {
		h ^= uint64(id.File[i])
		h *= 1099511628211
	}
	h ^= uint64(id.Page)
	h *= 1099511628211
	return h
}

const (
	initialBuckets   = 16
	growLoadFactor   = 0.75
	minBucketsPerCap = 4
)

type entry struct {
	used bool
	id   PageId
	page BufferedPage
}

// BufPool is a cache of at most maxElements pages, open-addressed with
// linear probing and capped by a clock evictor.
type BufPool struct {
	hash        HashFunc
	maxElements int

	buckets []entry
	count   int

	clock *evictor.Clock

	hits   uint64
	misses uint64
}

// New creates a BufPool holding at most maxElements pages. If hash is nil,
// a default FNV-1a-based hash is used.
func New(maxElements int, hash HashFunc) *BufPool {
	if maxElements < 1 {
		maxElements = 1
	}
	if hash == nil {
		hash = defaultHash
	}
	nb := initialBuckets
	for nb < maxElements*minBucketsPerCap {
		nb *= 2
	}
	return &BufPool{
		hash:        hash,
		maxElements: maxElements,
		buckets:     make([]entry, nb),
		clock:       evictor.New(maxElements),
	}
}

// Get returns a copy of the cached page for id, if present.
func (p *BufPool) Get(id PageId) (BufferedPage, bool) {
	i, found := p.find(id)
	if !found {
		p.misses++
		return BufferedPage{}, false
	}
	p.hits++
	p.clock.MarkUsed(id)
	out := make([]byte, len(p.buckets[i].page.Contents))
	copy(out, p.buckets[i].page.Contents)
	return BufferedPage{Type: p.buckets[i].page.Type, Contents: out}, true
}

// Put inserts or replaces the cached page for id. Inserting a new page
// beyond capacity asks the evictor for a victim and discards it from the
// table. contents is copied; the caller retains ownership of its slice.
func (p *BufPool) Put(id PageId, pt PageType, contents []byte) {
	stored := make([]byte, len(contents))
	copy(stored, contents)

	if i, found := p.find(id); found {
		p.buckets[i].page = BufferedPage{Type: pt, Contents: stored}
		p.clock.MarkUsed(id)
		return
	}

	if p.count >= p.maxElements {
		if victim, ok := p.clock.Insert(id); ok {
			p.remove(victim.(PageId))
		}
	} else {
		p.clock.Insert(id)
	}

	p.insert(id, BufferedPage{Type: pt, Contents: stored})
}

// Invalidate drops id from the pool immediately, bypassing the evictor's
// clock.
func (p *BufPool) Invalidate(id PageId) {
	if _, found := p.find(id); found {
		p.remove(id)
		p.clock.Remove(id)
	}
}

// InvalidateFile drops every cached page belonging to file. Callers must
// use this before a deleted file's path can be reused (e.g. compaction
// removing an input run), since a stale cached page would otherwise
// survive under the new file's identity.
func (p *BufPool) InvalidateFile(file string) {
	var ids []PageId
	for i := range p.buckets {
		if p.buckets[i].used && p.buckets[i].id.File == file {
			ids = append(ids, p.buckets[i].id)
		}
	}
	for _, id := range ids {
		p.remove(id)
		p.clock.Remove(id)
	}
}

// Len returns the number of pages currently cached.
func (p *BufPool) Len() int { return p.count }

// HitCount and MissCount support debug introspection in tests.
func (p *BufPool) HitCount() uint64  { return p.hits }
func (p *BufPool) MissCount() uint64 { return p.misses }

func (p *BufPool) find(id PageId) (int, bool) {
	n := len(p.buckets)
	i := int(p.hash(id) % uint64(n))
	for probed := 0; probed < n; probed++ {
		e := &p.buckets[i]
		if !e.used {
			return 0, false
		}
		if e.id == id {
			return i, true
		}
		i = (i + 1) % n
	}
	return 0, false
}

func (p *BufPool) insert(id PageId, page BufferedPage) {
	if float64(p.count+1) > growLoadFactor*float64(len(p.buckets)) {
		p.grow()
	}
	n := len(p.buckets)
	i := int(p.hash(id) % uint64(n))
	for p.buckets[i].used {
		i = (i + 1) % n
	}
	p.buckets[i] = entry{used: true, id: id, page: page}
	p.count++
}

func (p *BufPool) remove(id PageId) {
	n := len(p.buckets)
	i := int(p.hash(id) % uint64(n))
	for probed := 0; probed < n; probed++ {
		e := &p.buckets[i]
		if !e.used {
			return
		}
		if e.id == id {
			p.deleteAt(i)
			return
		}
		i = (i + 1) % n
	}
}

// deleteAt removes the bucket at i and re-inserts the probe chain that
// follows it, preserving linear-probing lookup correctness.
func (p *BufPool) deleteAt(i int) {
	n := len(p.buckets)
	p.buckets[i] = entry{}
	p.count--

	j := (i + 1) % n
	for p.buckets[j].used {
		e := p.buckets[j]
		p.buckets[j] = entry{}
		p.count--
		p.insertRaw(e.id, e.page)
		j = (j + 1) % n
	}
}

// insertRaw places an entry directly without triggering growth or
// touching the eviction clock; used only by deleteAt's probe-chain
// repair.
func (p *BufPool) insertRaw(id PageId, page BufferedPage) {
	n := len(p.buckets)
	i := int(p.hash(id) % uint64(n))
	for p.buckets[i].used {
		i = (i + 1) % n
	}
	p.buckets[i] = entry{used: true, id: id, page: page}
	p.count++
}

func (p *BufPool) grow() {
	old := p.buckets
	p.buckets = make([]entry, len(old)*2)
	p.count = 0
	for _, e := range old {
		if e.used {
			p.insertRaw(e.id, e.page)
		}
	}
}
