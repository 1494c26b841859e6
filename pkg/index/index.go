// Package index builds a per-key index of the newest known location of
// each key across a set of append-only data files, either by scanning a
// data file directly or by reading its hint-file sidecar.
package index

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beansdb/beansdb/pkg/fs"
	"github.com/beansdb/beansdb/pkg/hint"
	"github.com/beansdb/beansdb/pkg/record"
)

// Entry is one key's location and metadata as recorded in a file's index.
type Entry struct {
	Key     string
	DataPos int64
	CRC     uint32 // zero when built from a hint file: hints carry no CRC
	Ver     int32
	Tstamp  int32
	Ksz     uint32
	Vsz     uint32
	Hash    uint32 // low 16 bits only when built from a hint file
}

// Tombstone reports whether this entry's version marks a deletion.
func (e Entry) Tombstone() bool { return e.Ver < 0 }

// FromDataFile scans r (an entire *.data file opened for reading) and
// returns the last-seen Entry for each key, keyed by key, in file order.
// CRC is populated since the full record is visible during a data-file
// scan. The scan stops at the first invalid (crc==0) record or truncation,
// matching the on-disk "end of valid data" sentinel.
func FromDataFile(r io.ReadSeeker, codec record.Decompressor) (map[string]Entry, error) {
	rd, err := record.NewReader(r, codec)
	if err != nil {
		return nil, err
	}

	entries := map[string]Entry{}

	for {
		rec, err := rd.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			if errors.Is(err, record.ErrInvalidRecord) || errors.Is(err, record.ErrTruncated) {
				break
			}

			return nil, fmt.Errorf("index: scan data file: %w", err)
		}

		entries[string(rec.Key)] = Entry{
			Key:     string(rec.Key),
			DataPos: rec.DataPos,
			CRC:     rec.Header.CRC,
			Ver:     rec.Header.Ver,
			Tstamp:  rec.Header.Tstamp,
			Ksz:     rec.Header.Ksz,
			Vsz:     rec.Header.Vsz,
			Hash:    rec.ContentHash,
		}
	}

	return entries, nil
}

// FromHintFile decodes a hint file's contents (already decompressed via the
// caller's [hint.Codec]) and returns the last-seen Entry per key. Hint
// records carry no CRC or Tstamp, since the sidecar format omits them;
// callers needing those fields must fall back to [FromDataFile].
func FromHintFile(recs []hint.Record) map[string]Entry {
	entries := map[string]Entry{}

	for _, r := range recs {
		entries[string(r.Key)] = Entry{
			Key:     string(r.Key),
			DataPos: r.DataPos,
			Ver:     r.Ver,
			Ksz:     uint32(r.Ksz),
			Hash:    uint32(r.Hash),
		}
	}

	return entries
}

// FileEntries is a single data file's index plus its ordering key (the file
// name, used to establish file-order == version-order during compaction
// planning).
type FileEntries struct {
	FileName string
	Entries  map[string]Entry
}

// SortByFileName sorts files lexicographically by name, the file-order
// convention the planner relies on for precedence between files (ver is
// never compared across files): files are named so that lexicographic
// order is creation order.
func SortByFileName(files []FileEntries) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
}

// FileInfo describes one data file on disk, for callers deciding whether a
// hint-file scan is permitted.
type FileInfo struct {
	DataPath string
	HintPath string
	HasHint  bool
}

// Discover lists the *.data files in dir together with their hint sidecar
// status, sorted by name. fsys is normally [fs.NewReal]; any [fs.FS]
// implementation can be passed.
func Discover(fsys fs.FS, dir string) ([]FileInfo, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("index: read dir %s: %w", dir, err)
	}

	var files []FileInfo

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if !strings.HasSuffix(name, ".data") {
			continue
		}

		dataPath := filepath.Join(dir, name)
		hintPath := hint.DataPathToHintPath(dataPath)

		hasHint, err := fsys.Exists(hintPath)
		if err != nil {
			return nil, fmt.Errorf("index: check hint file %s: %w", hintPath, err)
		}

		files = append(files, FileInfo{
			DataPath: dataPath,
			HintPath: hintPath,
			HasHint:  hasHint,
		})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].DataPath < files[j].DataPath })

	return files, nil
}
