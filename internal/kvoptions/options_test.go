package kvoptions

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	want := Options{
		Dir:                  "/tmp/data",
		MemoryBufferElements: 2000,
		BufferPagesMaximum:   128,
		Serialization:        BTree,
		Tiers:                6,
		Compaction:           false,
		Overwrite:            true,
	}

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf, Default(want.Dir))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestReadFallsBackToDefaults(t *testing.T) {
	got, err := Read(bytes.NewBufferString("[DBOptions]\ntiers=7\n"), Default("/db"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Tiers != 7 {
		t.Errorf("Tiers = %d, want 7", got.Tiers)
	}
	if got.MemoryBufferElements != Default("/db").MemoryBufferElements {
		t.Errorf("MemoryBufferElements = %d, want default", got.MemoryBufferElements)
	}
}
