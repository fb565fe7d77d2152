package kvstore

import (
	"testing"

	"github.com/aalhour/lsmkv/internal/fileutil"
	"github.com/aalhour/lsmkv/internal/kvoptions"
	"github.com/aalhour/lsmkv/internal/naming"
)

func defaultTestOptions(t *testing.T) Options {
	t.Helper()
	return kvoptions.Default(t.TempDir())
}

func TestPutGetDelete(t *testing.T) {
	opts := defaultTestOptions(t)
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Put(1, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := db.Get(1)
	if err != nil || !ok || v != 10 {
		t.Fatalf("Get(1) = %d, %v, %v, want 10, true", v, ok, err)
	}

	if err := db.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := db.Get(1); err != nil || ok {
		t.Fatalf("Get(1) after delete found=%v err=%v, want not found", ok, err)
	}
}

func TestPutRejectsTombstoneValue(t *testing.T) {
	opts := defaultTestOptions(t)
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Put(1, fileutil.Tombstone); err != ErrOnlyTheDatabaseCanUseFunnyValues {
		t.Fatalf("Put(tombstone) = %v, want ErrOnlyTheDatabaseCanUseFunnyValues", err)
	}
}

func TestScanIncludesEnds(t *testing.T) {
	opts := defaultTestOptions(t)
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	for _, k := range []uint64{1, 2, 3, 4, 5} {
		if err := db.Put(k, k*10); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	got, err := db.Scan(2, 4)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Scan(2,4) returned %d pairs, want 3: %+v", len(got), got)
	}
	if got[0].Key != 2 || got[len(got)-1].Key != 4 {
		t.Fatalf("Scan(2,4) bounds = %+v, want inclusive [2,4]", got)
	}
}

func TestTenThousandRoundTrip(t *testing.T) {
	opts := defaultTestOptions(t)
	opts.MemoryBufferElements = 1000
	opts.Serialization = kvoptions.FlatSorted
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	const n = 10000
	for i := uint64(0); i < n; i++ {
		if err := db.Put(i, 2*i); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint64(0); i < n; i++ {
		v, ok, err := db.Get(i)
		if err != nil || !ok || v != 2*i {
			t.Fatalf("Get(%d) = %d, %v, %v, want %d, true", i, v, ok, err, 2*i)
		}
	}
	for i := uint64(0); i < n; i++ {
		if err := db.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	for i := uint64(0); i < n; i++ {
		if _, ok, err := db.Get(i); err != nil || ok {
			t.Fatalf("Get(%d) after delete found=%v err=%v, want not found", i, ok, err)
		}
	}
}

func TestLevelStructureWithTiersFour(t *testing.T) {
	opts := defaultTestOptions(t)
	opts.Tiers = 4
	opts.MemoryBufferElements = 2
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	dbDir, err := db.DataDirectory()
	if err != nil {
		t.Fatalf("DataDirectory: %v", err)
	}
	exists := func(level, run, intermediate int) bool {
		return db.fs.Exists(naming.DataFile(dbDir, "db", level, run, intermediate))
	}
	filterExists := func(level, run, intermediate int) bool {
		return db.fs.Exists(naming.FilterFile(dbDir, "db", level, run, intermediate))
	}

	for i := uint64(1); i <= 3; i++ {
		if err := db.Put(i, i*10); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if !exists(0, 0, 0) || !filterExists(0, 0, 0) {
		t.Fatal("after 3 puts, L0.R0.I0 data+filter should exist")
	}

	for _, k := range []uint64{4, 5} {
		if err := db.Put(k, k*10); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	if !exists(0, 1, 0) {
		t.Fatal("after 2 more puts (5 total), L0.R1.I0 should exist")
	}

	for _, k := range []uint64{6, 7, 8, 9} {
		if err := db.Put(k, k*10); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	if exists(0, 0, 0) || exists(0, 1, 0) || exists(0, 2, 0) || exists(0, 3, 0) {
		t.Fatal("after 4 more puts (9 total), all L0 runs should be compacted away")
	}
	for i := 0; i < 4; i++ {
		if !exists(1, 0, i) || !filterExists(1, 0, i) {
			t.Fatalf("after 9 puts, L1.R0.I%d data+filter should exist", i)
		}
	}
	for i := uint64(1); i <= 9; i++ {
		v, ok, err := db.Get(i)
		if err != nil || !ok || v != i*10 {
			t.Fatalf("Get(%d) after compaction = %d, %v, %v, want %d, true", i, v, ok, err, i*10)
		}
	}

	// Three more such rounds (24 more puts, 33 total): L1 fills to 4 runs
	// and cascades into L2 with 16 intermediates (32 compacted keys at 2
	// pairs/output-chunk).
	for i := uint64(10); i <= 33; i++ {
		if err := db.Put(i, i*10); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if n := db.tree.NumRuns(0); n != 0 {
		t.Fatalf("NumRuns(0) after 33 puts = %d, want 0", n)
	}
	if n := db.tree.NumRuns(1); n != 0 {
		t.Fatalf("NumRuns(1) after 33 puts = %d, want 0", n)
	}
	for i := 0; i < 16; i++ {
		if !exists(2, 0, i) || !filterExists(2, 0, i) {
			t.Fatalf("after 33 puts, L2.R0.I%d data+filter should exist", i)
		}
	}
	for i := uint64(1); i <= 33; i++ {
		v, ok, err := db.Get(i)
		if err != nil || !ok || v != i*10 {
			t.Fatalf("Get(%d) after full cascade = %d, %v, %v, want %d, true", i, v, ok, err, i*10)
		}
	}
}

func TestFilterPointRead(t *testing.T) {
	opts := defaultTestOptions(t)
	// The 16th Put flushes the first 15 keys to an L0 run, so their Gets
	// (and the Get of 999, which falls inside that run's key range) go
	// through the run's Bloom filter.
	opts.MemoryBufferElements = 15
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	keys := []uint64{928137, 8778, 2891, 3289, 2183, 958572, 3982738, 837267,
		1283, 32919, 309201, 283, 123, 39824738, 38763, 12058}
	for _, k := range keys {
		if err := db.Put(k, k); err != nil {
			t.Fatalf("Put(%d): %v", k, err)
		}
	}
	for _, k := range keys {
		if _, ok, err := db.Get(k); err != nil || !ok {
			t.Fatalf("Get(%d) found=%v err=%v, want found", k, ok, err)
		}
	}
	if _, ok, err := db.Get(999); err != nil || ok {
		t.Fatalf("Get(999) found=%v err=%v, want not found", ok, err)
	}
}

func TestOptionsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	opts := kvoptions.Default(dir)
	opts.Tiers = 7
	opts.MemoryBufferElements = 42

	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A second process that doesn't know the first process's tuning
	// should still observe it: it only supplies Dir and otherwise gets
	// defaults, but the persisted OPTIONS file overrides them.
	reopened, err := Open("db", kvoptions.Default(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if reopened.opts.Tiers != 7 {
		t.Fatalf("reopened Tiers = %d, want 7 (persisted)", reopened.opts.Tiers)
	}
	if reopened.opts.MemoryBufferElements != 42 {
		t.Fatalf("reopened MemoryBufferElements = %d, want 42 (persisted)", reopened.opts.MemoryBufferElements)
	}
}

func TestOptionsFileWrittenOnFirstOpen(t *testing.T) {
	opts := defaultTestOptions(t)
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	dbDir, err := db.DataDirectory()
	if err != nil {
		t.Fatalf("DataDirectory: %v", err)
	}
	if !db.fs.Exists(naming.OptionsFile(dbDir, "db")) {
		t.Fatal("OPTIONS file should exist after Open")
	}
}

func TestLockFileExcludesSecondOpen(t *testing.T) {
	opts := defaultTestOptions(t)
	db, err := Open("db", opts)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}

	if _, err := Open("db", opts); err != ErrDatabaseInUse {
		t.Fatalf("second Open = %v, want ErrDatabaseInUse", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open("db", opts)
	if err != nil {
		t.Fatalf("reopen after Close: %v", err)
	}
	_ = db2.Close()
}
