package filter

import "testing"

func TestBuilderAddAndReaderMayContain(t *testing.T) {
	b := NewBuilder(100, 42)
	keys := []uint64{1, 2, 3, 1000, 999999}
	for _, k := range keys {
		b.Add(k)
	}
	r := NewReader(b.Bits(), b.NumBlocks(), b.Seed())
	for _, k := range keys {
		if !r.MayContain(k) {
			t.Errorf("MayContain(%d) = false, want true (no false negatives)", k)
		}
	}
}

func TestReaderRejectsObviouslyAbsentKeys(t *testing.T) {
	b := NewBuilder(16, 7)
	b.Add(5)
	r := NewReader(b.Bits(), b.NumBlocks(), b.Seed())
	falsePositives := 0
	for k := uint64(1000); k < 1100; k++ {
		if r.MayContain(k) {
			falsePositives++
		}
	}
	if falsePositives == 100 {
		t.Error("every probed key reported a match; filter is not discriminating at all")
	}
}

func TestNumBlocksRoundsUpToCacheLine(t *testing.T) {
	b := NewBuilder(1, 0)
	if b.NumBlocks() < 1 {
		t.Fatalf("NumBlocks() = %d, want >= 1", b.NumBlocks())
	}
	if len(b.Bits()) != b.NumBlocks()*BlockBytes {
		t.Fatalf("len(Bits()) = %d, want %d", len(b.Bits()), b.NumBlocks()*BlockBytes)
	}
}

func TestDifferentSeedsProduceDifferentBits(t *testing.T) {
	b1 := NewBuilder(50, 1)
	b2 := NewBuilder(50, 2)
	b1.Add(42)
	b2.Add(42)
	if string(b1.Bits()) == string(b2.Bits()) && b1.Seed() != b2.Seed() {
		t.Error("different seeds produced identical bit patterns for the same key")
	}
}

func TestEmptyReaderNeverMatches(t *testing.T) {
	r := NewReader(nil, 0, 0)
	if r.MayContain(42) {
		t.Error("empty reader should never report a match")
	}
}
