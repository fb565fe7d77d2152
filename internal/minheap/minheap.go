// Package minheap implements the k-way-merge priority queue used by
// compaction and by KvStore.Scan: a binary min-heap over (key, run index)
// pairs, ordered by key ascending and, on ties, by run index descending
// (the newest run wins, so older duplicates are discarded by the caller
// on Extract).
//
// Reference: teacher internal/compaction (subcompaction.go's merge-iterator
// style fan-in) gave the shape of "seed one entry per input stream, repeatedly
// pull the smallest"; the tie-break rule itself is spec.md §4.8's.
package minheap

// Item is one entry in the heap: a key tagged with the index of the run
// (or stream) it came from.
type Item struct {
	Key   uint64
	Run   int
	Value uint64 // carried opaquely; the heap never inspects it
}

// less reports whether a should be extracted before b: smaller key first;
// on ties, larger run index (newer) first.
func less(a, b Item) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Run > b.Run
}

// Heap is a binary min-heap over Item, ordered per spec.md §4.8.
type Heap struct {
	items []Item
}

// New creates an empty heap, optionally pre-sized.
func New(capacityHint int) *Heap {
	return &Heap{items: make([]Item, 0, capacityHint)}
}

// IsEmpty reports whether the heap holds no items.
func (h *Heap) IsEmpty() bool { return len(h.items) == 0 }

// Len returns the number of items.
func (h *Heap) Len() int { return len(h.items) }

// Insert adds an item to the heap.
func (h *Heap) Insert(it Item) {
	h.items = append(h.items, it)
	h.siftUp(len(h.items) - 1)
}

// Extract removes and returns the smallest item. The second return value
// is false if the heap was empty.
func (h *Heap) Extract() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return top, true
}

// Peek returns the smallest item without removing it.
func (h *Heap) Peek() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	return h.items[0], true
}

// InsertAndExtract replaces the top item with it (if the heap is
// non-empty) then sifts down, avoiding an Extract+Insert pair's two
// traversals. If the heap is empty, it behaves like Insert followed by
// Extract.
func (h *Heap) InsertAndExtract(it Item) (Item, bool) {
	if len(h.items) == 0 {
		return it, true
	}
	top := h.items[0]
	h.items[0] = it
	h.siftDown(0)
	return top, true
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !less(h.items[i], h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap) siftDown(i int) {
	n := len(h.items)
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && less(h.items[l], h.items[smallest]) {
			smallest = l
		}
		if r < n && less(h.items[r], h.items[smallest]) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
