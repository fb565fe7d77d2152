package checksum

import (
	"strconv"
	"testing"
)

// TestXXHash64Deterministic tests that XXHash64 produces consistent results.
func TestXXHash64Deterministic(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		seed  uint64
	}{
		{"empty_seed0", []byte{}, 0},
		{"single_byte_0", []byte{0}, 0},
		{"1_to_9", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 0},
		{"hello", []byte("hello"), 0},
		{"hello_world", []byte("hello world"), 0},
		{"empty_seed1", []byte{}, 1},
		{"hello_seed12345", []byte("hello"), 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1 := XXHash64WithSeed(tt.input, tt.seed)
			h2 := XXHash64WithSeed(tt.input, tt.seed)
			if h1 != h2 {
				t.Errorf("XXHash64WithSeed not deterministic: got 0x%016X then 0x%016X", h1, h2)
			}
			if len(tt.input) > 0 && h1 == 0 {
				t.Error("XXHash64WithSeed returned 0 for non-empty input")
			}
		})
	}
}

// TestXXHash64DifferentSeedsDiffer checks that the same key hashed with two
// different seeds lands on different values, which is what lets the filter's
// seven probes over one key actually address different bits.
func TestXXHash64DifferentSeedsDiffer(t *testing.T) {
	key := []byte("some key")
	h1 := XXHash64WithSeed(key, 1)
	h2 := XXHash64WithSeed(key, 2)
	if h1 == h2 {
		t.Error("XXHash64WithSeed(key, 1) == XXHash64WithSeed(key, 2), want different probes")
	}
}

// TestXXHash64EmptyInput tests the special case of empty input.
func TestXXHash64EmptyInput(t *testing.T) {
	hash := XXHash64([]byte{})
	if hash == 0 {
		t.Error("XXHash64 of empty input should not be 0")
	}
}

// TestXXHash64NoSeed tests the convenience function without seed.
func TestXXHash64NoSeed(t *testing.T) {
	tests := [][]byte{
		{},
		{0},
		[]byte("hello"),
		[]byte("a database key"),
	}

	for _, input := range tests {
		h1 := XXHash64(input)
		h2 := XXHash64WithSeed(input, 0)
		if h1 != h2 {
			t.Errorf("XXHash64(%q) = 0x%016X != XXHash64WithSeed(_, 0) = 0x%016X",
				input, h1, h2)
		}
	}
}

// TestXXHash64LongInput tests with inputs longer than 32 bytes.
func TestXXHash64LongInput(t *testing.T) {
	// 64 bytes of incrementing values
	input := make([]byte, 64)
	for i := range input {
		input[i] = byte(i)
	}

	// This should use the 4-accumulator path
	hash := XXHash64(input)
	if hash == 0 {
		t.Error("XXHash64 returned 0 for non-empty input")
	}

	hash2 := XXHash64(input)
	if hash != hash2 {
		t.Error("XXHash64 not deterministic")
	}
}

// TestXXHash64Incremental tests that XXHash64 processes all bytes.
func TestXXHash64Incremental(t *testing.T) {
	// Hash should change with each additional byte
	prev := XXHash64(nil)
	for i := 1; i <= 64; i++ {
		data := make([]byte, i)
		for j := range i {
			data[j] = byte(j)
		}
		curr := XXHash64(data)
		if curr == prev {
			t.Errorf("Hash didn't change from length %d to %d", i-1, i)
		}
		prev = curr
	}
}

// TestXXHash64Determinism verifies the hash is deterministic across a wider
// spread of input shapes.
func TestXXHash64Determinism(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0},
		{0, 1, 2},
		[]byte("a key"),
		[]byte("The quick brown fox jumps over the lazy dog"),
		make([]byte, 1000),
	}

	for _, input := range inputs {
		h1 := XXHash64(input)
		h2 := XXHash64(input)
		if h1 != h2 {
			t.Errorf("Hash not deterministic for input of length %d", len(input))
		}
	}
}

// TestXXHash64BoundaryLengthsNonZero exercises the algorithm's boundary
// lengths (the 32-byte accumulator cutover, the 8/4/1-byte tail loops)
// over a fixed, reproducible buffer and checks that no non-empty input
// hashes to zero.
func TestXXHash64BoundaryLengthsNonZero(t *testing.T) {
	sanityBuffer := make([]byte, 2243)
	for i := range sanityBuffer {
		sanityBuffer[i] = byte((i * 2654435761) >> 24)
	}

	testLengths := []int{0, 1, 3, 4, 8, 14, 16, 24, 32, 48, 64, 128, 256, 512, 1024, 2243}

	for _, length := range testLengths {
		if length > len(sanityBuffer) {
			continue
		}
		data := sanityBuffer[:length]
		hash := XXHash64(data)
		if length > 0 && hash == 0 {
			t.Errorf("XXHash64 returned 0 for %d byte input", length)
		}
	}
}

// BenchmarkXXHash64 benchmarks the XXHash64 implementation.
func BenchmarkXXHash64(b *testing.B) {
	sizes := []int{16, 64, 256, 1024, 4096, 16384}

	for _, size := range sizes {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}

		b.Run(strconv.Itoa(size)+"B", func(b *testing.B) {
			b.SetBytes(int64(size))
			for range b.N {
				XXHash64(data)
			}
		})
	}
}
