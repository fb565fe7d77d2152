// Package evictor implements clock (second-chance) replacement over a
// fixed-size ring of slots.
//
// Reference: teacher internal/cache's LRU list gave the shape of "a
// replacement policy owns its own bookkeeping and hands back the evicted
// identity"; the policy itself is the spec-mandated Clock algorithm rather
// than the teacher's true-LRU list, since spec.md §4.3 calls for a clock
// hand over a fixed ring, not a doubly-linked recency list. The occupied
// and dirty (referenced) bits per slot are packed bitsets rather than a
// []bool per flag, grounded on the retrieved pack's
// github.com/bits-and-blooms/bitset (the bitset FlashLogGo's own Bloom
// filter is built on) — a natural fit here since the ring's bitmaps are a
// pure in-memory structure with no on-disk layout for a library swap to
// disturb.
package evictor

import "github.com/bits-and-blooms/bitset"

// Page identifies the cached item a slot holds. The zero value is never
// a valid page identity that Clock tracks (the caller only ever Inserts
// identities it has chosen).
type Page any

// Clock is a fixed-size ring of slots implementing the clock (second
// chance) eviction policy: a slot survives at most one full rotation of
// the hand between accesses; if every slot is dirty, the policy degrades
// to strict FIFO over one rotation.
type Clock struct {
	occupied *bitset.BitSet
	dirty    *bitset.BitSet
	pages    []Page
	hand     uint
	index    map[Page]uint // page identity -> slot index, for O(1) MarkUsed/lookup
}

// New creates a Clock ring sized for n slots.
func New(n int) *Clock {
	c := &Clock{}
	c.Resize(n)
	return c
}

// Resize resizes the ring to n slots. Existing entries may be dropped.
func (c *Clock) Resize(n int) {
	if n < 0 {
		n = 0
	}
	c.occupied = bitset.New(uint(n))
	c.dirty = bitset.New(uint(n))
	c.pages = make([]Page, n)
	c.hand = 0
	c.index = make(map[Page]uint, n)
}

// Insert writes page into the first non-dirty slot starting from the
// clock hand, clearing the dirty bit of every dirty slot it passes over.
// It returns the slot's previous occupant, if any, so the caller can drop
// it from whatever structure it indexes pages by.
func (c *Clock) Insert(page Page) (evicted Page, hadEvicted bool) {
	n := uint(len(c.pages))
	if n == 0 {
		return nil, false
	}

	for {
		if !c.occupied.Test(c.hand) || !c.dirty.Test(c.hand) {
			if c.occupied.Test(c.hand) {
				evicted = c.pages[c.hand]
				hadEvicted = true
				delete(c.index, evicted)
			}
			c.occupied.Set(c.hand)
			c.dirty.Clear(c.hand)
			c.pages[c.hand] = page
			c.index[page] = c.hand
			c.hand = (c.hand + 1) % n
			return evicted, hadEvicted
		}
		c.dirty.Clear(c.hand)
		c.hand = (c.hand + 1) % n
	}
}

// MarkUsed sets the dirty (referenced) bit on page's slot, if present. It
// is a no-op if page is not currently tracked.
func (c *Clock) MarkUsed(page Page) {
	if i, ok := c.index[page]; ok {
		c.dirty.Set(i)
	}
}

// Remove drops page from the ring immediately, without waiting for
// eviction. Used when the caller invalidates a page out-of-band.
func (c *Clock) Remove(page Page) {
	if i, ok := c.index[page]; ok {
		c.occupied.Clear(i)
		c.dirty.Clear(i)
		c.pages[i] = nil
		delete(c.index, page)
	}
}

// Len returns the number of occupied slots.
func (c *Clock) Len() int {
	return len(c.index)
}

// Cap returns the ring's slot count.
func (c *Clock) Cap() int {
	return len(c.pages)
}
