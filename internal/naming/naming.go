// Package naming derives the on-disk file paths for a database's manifest,
// lock, data, and filter files from (directory, name, level, run,
// intermediate).
//
// Reference: teacher internal/vfs for the path-shaped strings the rest of
// the store treats opaquely; this package is the one place that knows the
// naming scheme (spec.md §6 "File layout").
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// DBDir returns the database directory for (dir, name): <dir>/<name>.
func DBDir(dir, name string) string {
	return filepath.Join(dir, name)
}

// LockFile returns the path of the presence-based lock file.
func LockFile(dbDir, name string) string {
	return filepath.Join(dbDir, name+".LOCK")
}

// ManifestFile returns the path of the manifest catalog file.
func ManifestFile(dbDir, name string) string {
	return filepath.Join(dbDir, name+".MANIFEST")
}

// OptionsFile returns the path of the persisted OPTIONS file.
func OptionsFile(dbDir, name string) string {
	return filepath.Join(dbDir, name+".OPTIONS")
}

// DataFile returns the path of a sorted-run data file.
func DataFile(dbDir, name string, level, run, intermediate int) string {
	return filepath.Join(dbDir, fmt.Sprintf("%s.DATA.L%d.R%d.I%d", name, level, run, intermediate))
}

// FilterFile returns the path of the Bloom filter file for a data file.
func FilterFile(dbDir, name string, level, run, intermediate int) string {
	return filepath.Join(dbDir, fmt.Sprintf("%s.FILTER.L%d.R%d.I%d", name, level, run, intermediate))
}

var dataFilePattern = regexp.MustCompile(`^(.+)\.DATA\.L(\d+)\.R(\d+)\.I(\d+)$`)

// ParsedDataFile is the decomposition of a data file's base name.
type ParsedDataFile struct {
	Name         string
	Level        int
	Run          int
	Intermediate int
}

// ParseDataFile recognizes a data file's base name produced by DataFile,
// returning ok=false if base does not match the naming scheme.
func ParseDataFile(base string) (ParsedDataFile, bool) {
	m := dataFilePattern.FindStringSubmatch(base)
	if m == nil {
		return ParsedDataFile{}, false
	}
	level, err1 := strconv.Atoi(m[2])
	run, err2 := strconv.Atoi(m[3])
	intermediate, err3 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return ParsedDataFile{}, false
	}
	return ParsedDataFile{Name: m[1], Level: level, Run: run, Intermediate: intermediate}, true
}
