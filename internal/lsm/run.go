// Package lsm implements the per-level, per-run read/compaction logic
// that sits between the manifest and the KvStore façade: Run manages
// one run's files, Tree (level.go) manages the runs of every level and
// triggers tiered compaction.
//
// Reference: teacher internal/compaction (compaction picker's level/run
// bookkeeping and subcompaction's file-set iteration) gave the shape of
// "per-level run list with a size/count trigger feeding a merge job";
// the trigger rule and the merge itself are spec.md §4.9/§4.10's own.
package lsm

import (
	"fmt"

	"github.com/aalhour/lsmkv/internal/bufpool"
	"github.com/aalhour/lsmkv/internal/filter"
	"github.com/aalhour/lsmkv/internal/manifest"
	"github.com/aalhour/lsmkv/internal/naming"
	"github.com/aalhour/lsmkv/internal/sstable"
	"github.com/aalhour/lsmkv/internal/vfs"
)

// Run manages one run inside one level: its ordered list of data files
// and their filters, probed smallest-intermediate-first.
type Run struct {
	fs       vfs.FS
	pool     *bufpool.BufPool
	man      *manifest.Manifest
	dbDir    string
	name     string
	kind     sstable.Kind
	level    int
	runIndex int
}

// NewRun wraps an existing (level, run) already present in the manifest.
func NewRun(fs vfs.FS, pool *bufpool.BufPool, man *manifest.Manifest, dbDir, name string, kind sstable.Kind, level, run int) *Run {
	return &Run{fs: fs, pool: pool, man: man, dbDir: dbDir, name: name, kind: kind, level: level, runIndex: run}
}

// Level and Index report this run's position.
func (r *Run) Level() int { return r.level }
func (r *Run) Index() int { return r.runIndex }

// Get scans this run's files smallest-intermediate-first, short-circuited
// by the manifest's InRange and the filter's MayContain.
func (r *Run) Get(key uint64) (uint64, bool, error) {
	for _, fm := range r.man.Files(r.level, r.runIndex) {
		if !r.man.InRange(r.level, r.runIndex, fm.ID.Intermediate, key) {
			continue
		}
		filterPath := naming.FilterFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		if reader, err := filter.Load(r.fs, r.pool, filterPath); err == nil {
			if !reader.MayContain(key) {
				continue
			}
		}
		dataPath := naming.DataFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		tbl, err := sstable.Open(r.fs, r.pool, r.kind, dataPath)
		if err != nil {
			return 0, false, err
		}
		if v, ok, err := tbl.GetFromFile(key); err != nil {
			return 0, false, err
		} else if ok {
			return v, true, nil
		}
	}
	return 0, false, nil
}

// Scan locates the starting file via the manifest and follows successive
// files in intermediate order until one emits only keys past hi or there
// are no more files.
func (r *Run) Scan(lo, hi uint64) ([]sstable.Pair, error) {
	files := r.man.Files(r.level, r.runIndex)
	start, ok := r.man.FirstFileInRange(r.level, r.runIndex, lo, hi)
	if !ok {
		return nil, nil
	}

	var out []sstable.Pair
	for _, fm := range files {
		if fm.ID.Intermediate < start {
			continue
		}
		if fm.MinKey > hi {
			break
		}
		dataPath := naming.DataFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		tbl, err := sstable.Open(r.fs, r.pool, r.kind, dataPath)
		if err != nil {
			return nil, err
		}
		pairs, err := tbl.ScanInFile(lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

// RegisterNewFile registers a freshly-flushed file with the manifest.
func (r *Run) RegisterNewFile(intermediate int, minKey, maxKey uint64) error {
	return r.man.RegisterNewFiles([]manifest.FileMetadata{{
		ID:     manifest.FileId{Level: r.level, Run: r.runIndex, Intermediate: intermediate},
		MinKey: minKey,
		MaxKey: maxKey,
	}})
}

// Delete unregisters and deletes all data and filter files of the run.
func (r *Run) Delete() error {
	files := r.man.Files(r.level, r.runIndex)
	ids := make([]manifest.FileId, 0, len(files))
	for _, fm := range files {
		dataPath := naming.DataFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		filterPath := naming.FilterFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		tbl := sstable.New(r.fs, r.pool, r.kind, dataPath)
		_ = tbl.Delete()
		_ = r.fs.Remove(filterPath)
		// The data/filter file paths get reused when a future flush writes
		// the same (level, run, intermediate) again; drop any cached pages
		// now so that reuse never serves stale bytes from the buffer pool.
		r.pool.InvalidateFile(dataPath)
		r.pool.InvalidateFile(filterPath)
		ids = append(ids, fm.ID)
	}
	if err := r.man.RemoveFiles(ids); err != nil {
		return err
	}
	return r.man.RemoveRun(r.level, r.runIndex)
}

// Streamer yields a run's pairs in ascending key order for compaction's
// k-way merge.
type Streamer struct {
	run    *Run
	pairs  []sstable.Pair
	cursor int
}

// NewStreamer drains every file in the run into one ascending stream.
// Spec.md §4.10's merge step reads whole runs; within a run, files are
// already disjoint and ordered by intermediate, so concatenation in
// intermediate order yields ascending keys.
func NewStreamer(r *Run) (*Streamer, error) {
	var pairs []sstable.Pair
	for _, fm := range r.man.Files(r.level, r.runIndex) {
		dataPath := naming.DataFile(r.dbDir, r.name, r.level, r.runIndex, fm.ID.Intermediate)
		tbl, err := sstable.Open(r.fs, r.pool, r.kind, dataPath)
		if err != nil {
			return nil, fmt.Errorf("lsm: open %s for compaction: %w", dataPath, err)
		}
		drained, err := tbl.Drain()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, drained...)
	}
	return &Streamer{run: r, pairs: pairs}, nil
}

// Next returns the stream's next pair, or ok=false at end.
func (s *Streamer) Next() (sstable.Pair, bool) {
	if s.cursor >= len(s.pairs) {
		return sstable.Pair{}, false
	}
	p := s.pairs[s.cursor]
	s.cursor++
	return p, true
}
