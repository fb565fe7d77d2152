// Package kvoptions holds the database's open-time configuration, both
// the programmatic struct callers fill in directly and an OPTIONS-file
// reader/writer for the same fields.
//
// Reference: teacher internal/options/file.go gave the section-based,
// bufio.Scanner key=value parsing; the field set itself is the spec's
// Open() options rather than RocksDB's DBOptions/CFOptions split.
package kvoptions

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aalhour/lsmkv/internal/sstable"
)

// Serialization selects which sstable.Kind new runs are written as.
type Serialization int

const (
	FlatSorted Serialization = iota
	BTree
)

func (s Serialization) String() string {
	if s == BTree {
		return "kBTree"
	}
	return "kFlatSorted"
}

// Kind converts Serialization to the sstable package's own enum.
func (s Serialization) Kind() sstable.Kind {
	if s == BTree {
		return sstable.BTree
	}
	return sstable.FlatSorted
}

func ParseSerialization(s string) Serialization {
	if s == "kBTree" {
		return BTree
	}
	return FlatSorted
}

// Options is the database's open-time configuration (spec.md §7's
// recognized fields).
type Options struct {
	// Dir is the parent directory the named database directory is
	// resolved under.
	Dir string

	// MemoryBufferElements is the memtable capacity, in distinct keys.
	MemoryBufferElements int

	// BufferPagesMaximum is the buffer pool's max cached page count.
	BufferPagesMaximum int

	// Serialization selects the on-disk sstable variant new runs use.
	Serialization Serialization

	// Tiers is the max run count a level holds before compacting.
	Tiers int

	// Compaction enables compaction on overflow; it runs synchronously
	// inside the flush that pushes a level past its run threshold.
	Compaction bool

	// Overwrite, if true, removes any existing database directory of
	// the same name before Open creates a fresh one.
	Overwrite bool
}

// Default returns the options a bare Open(name) would use.
func Default(dir string) Options {
	return Options{
		Dir:                  dir,
		MemoryBufferElements: 1000,
		BufferPagesMaximum:   256,
		Serialization:        FlatSorted,
		Tiers:                4,
		Compaction:           true,
		Overwrite:            false,
	}
}

// Write serializes opts in the teacher's OPTIONS-file style: bracketed
// sections, key=value lines.
func Write(w io.Writer, opts Options) error {
	lines := []string{
		"[DBOptions]",
		fmt.Sprintf("dir=%s", opts.Dir),
		fmt.Sprintf("memory_buffer_elements=%d", opts.MemoryBufferElements),
		fmt.Sprintf("buffer_pages_maximum=%d", opts.BufferPagesMaximum),
		fmt.Sprintf("serialization=%s", opts.Serialization),
		fmt.Sprintf("tiers=%d", opts.Tiers),
		fmt.Sprintf("compaction=%t", opts.Compaction),
		fmt.Sprintf("overwrite=%t", opts.Overwrite),
		"",
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// Read parses an OPTIONS file written by Write, starting from defaults
// for any field the file omits.
func Read(r io.Reader, defaults Options) (Options, error) {
	opts := defaults
	scanner := bufio.NewScanner(r)
	section := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		if section != "DBOptions" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "dir":
			opts.Dir = value
		case "memory_buffer_elements":
			opts.MemoryBufferElements, _ = strconv.Atoi(value)
		case "buffer_pages_maximum":
			opts.BufferPagesMaximum, _ = strconv.Atoi(value)
		case "serialization":
			opts.Serialization = ParseSerialization(value)
		case "tiers":
			opts.Tiers, _ = strconv.Atoi(value)
		case "compaction":
			opts.Compaction, _ = strconv.ParseBool(value)
		case "overwrite":
			opts.Overwrite, _ = strconv.ParseBool(value)
		}
	}
	return opts, scanner.Err()
}
