package memtable

import "testing"

func TestEmpty(t *testing.T) {
	m := New(10)
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	if _, ok := m.Get(1); ok {
		t.Error("Get on empty table should miss")
	}
}

func TestPutGet(t *testing.T) {
	m := New(10)
	if err := m.Put(1, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := m.Get(1)
	if !ok || v != 10 {
		t.Fatalf("Get(1) = %d, %v, want 10, true", v, ok)
	}
}

func TestPutUpdateDoesNotConsumeCapacity(t *testing.T) {
	m := New(1)
	if err := m.Put(1, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(1, 20); err != nil {
		t.Fatalf("Put (update): %v", err)
	}
	v, _ := m.Get(1)
	if v != 20 {
		t.Errorf("Get(1) = %d, want 20", v)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestFullOnNewKey(t *testing.T) {
	m := New(2)
	if err := m.Put(1, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(2, 2); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(3, 3); err != ErrFull {
		t.Fatalf("Put at capacity = %v, want ErrFull", err)
	}
}

func TestScanInclusiveBounds(t *testing.T) {
	m := New(10)
	for _, kv := range []Entry{{1, 10}, {2, 20}, {3, 30}} {
		if err := m.Put(kv.Key, kv.Value); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got := m.Scan(1, 3)
	want := []Entry{{1, 10}, {2, 20}, {3, 30}}
	if len(got) != len(want) {
		t.Fatalf("Scan returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestScanAllOrdered(t *testing.T) {
	m := New(100)
	keys := []uint64{50, 10, 30, 20, 40}
	for _, k := range keys {
		if err := m.Put(k, k*10); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got := m.ScanAll()
	for i := 1; i < len(got); i++ {
		if got[i-1].Key >= got[i].Key {
			t.Fatalf("ScanAll not ascending at %d: %+v", i, got)
		}
	}
	if len(got) != len(keys) {
		t.Fatalf("ScanAll returned %d entries, want %d", len(got), len(keys))
	}
}

func TestClear(t *testing.T) {
	m := New(10)
	_ = m.Put(1, 1)
	_ = m.Put(2, 2)
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
	if _, ok := m.Get(1); ok {
		t.Error("Get after Clear should miss")
	}
}

func TestLargeInsertOrderedScan(t *testing.T) {
	const n = 2000
	m := New(n)
	for i := uint64(0); i < n; i++ {
		// Insert in a scrambled order to exercise rebalancing.
		k := (i * 7919) % n
		if err := m.Put(k, k*2); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	got := m.ScanAll()
	if len(got) != n {
		t.Fatalf("ScanAll length = %d, want %d", len(got), n)
	}
	for i, e := range got {
		if e.Key != uint64(i) || e.Value != uint64(i)*2 {
			t.Fatalf("entry %d = %+v, want {%d %d}", i, e, i, i*2)
		}
	}
}
