package manifest

import (
	"testing"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/naming"
	"github.com/aalhour/lsmkv/internal/sstable"
	"github.com/aalhour/lsmkv/internal/vfs"
)

func TestRegisterAndReload(t *testing.T) {
	fs := vfs.Default()
	dbDir := t.TempDir()

	m, err := Open(fs, dbDir, "db", sstable.FlatSorted)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	files := []FileMetadata{
		{ID: FileId{Level: 0, Run: 0, Intermediate: 0}, MinKey: 1, MaxKey: 100},
		{ID: FileId{Level: 0, Run: 0, Intermediate: 1}, MinKey: 101, MaxKey: 200},
	}
	if err := m.RegisterNewFiles(files); err != nil {
		t.Fatalf("RegisterNewFiles: %v", err)
	}

	if n := m.NumFiles(0, 0); n != 2 {
		t.Fatalf("NumFiles(0,0) = %d, want 2", n)
	}
	if !m.InRange(0, 0, 0, 50) {
		t.Error("InRange(50) in file 0 should be true")
	}
	if m.InRange(0, 0, 0, 150) {
		t.Error("InRange(150) in file 0 should be false")
	}

	idx, ok := m.FirstFileInRange(0, 0, 90, 110)
	if !ok || idx != 0 {
		t.Fatalf("FirstFileInRange = %d, %v, want 0, true", idx, ok)
	}

	paths := m.GetPotentialFiles(dbDir, "db", 0, 0, 150)
	if len(paths) != 1 {
		t.Fatalf("GetPotentialFiles returned %d paths, want 1", len(paths))
	}

	// Reload from disk and confirm the catalog survives.
	m2, err := Open(fs, dbDir, "db", sstable.FlatSorted)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := m2.NumFiles(0, 0); n != 2 {
		t.Fatalf("reloaded NumFiles(0,0) = %d, want 2", n)
	}
	if n := m2.NumLevels(); n != 1 {
		t.Fatalf("reloaded NumLevels = %d, want 1", n)
	}
}

func TestRemoveFiles(t *testing.T) {
	fs := vfs.Default()
	dbDir := t.TempDir()
	m, err := Open(fs, dbDir, "db", sstable.FlatSorted)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.RegisterNewFiles([]FileMetadata{
		{ID: FileId{Level: 0, Run: 0, Intermediate: 0}, MinKey: 1, MaxKey: 10},
	}); err != nil {
		t.Fatalf("RegisterNewFiles: %v", err)
	}
	if err := m.RemoveFiles([]FileId{{Level: 0, Run: 0, Intermediate: 0}}); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if n := m.NumFiles(0, 0); n != 0 {
		t.Errorf("NumFiles(0,0) after remove = %d, want 0", n)
	}
}

func TestRecoverByScan(t *testing.T) {
	fs := vfs.Default()
	dbDir := t.TempDir()
	pool := bufpool.New(16, nil)

	path := naming.DataFile(dbDir, "db", 0, 0, 0)
	tbl := sstable.New(fs, pool, sstable.FlatSorted, path)
	if err := tbl.Flush([]sstable.Pair{{Key: 5, Value: 50}, {Key: 6, Value: 60}}); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	m, err := Open(fs, dbDir, "db", sstable.FlatSorted)
	if err != nil {
		t.Fatalf("Open (recover by scan): %v", err)
	}
	if n := m.NumFiles(0, 0); n != 1 {
		t.Fatalf("recovered NumFiles(0,0) = %d, want 1", n)
	}
	if !m.InRange(0, 0, 0, 5) {
		t.Error("recovered file should report InRange(5)")
	}
}
