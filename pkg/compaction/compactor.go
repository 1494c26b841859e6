package compaction

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/beansdb/beansdb/pkg/fs"
	"github.com/beansdb/beansdb/pkg/hint"
	"github.com/beansdb/beansdb/pkg/record"
)

// Report summarizes the outcome of compacting one or more files.
type Report struct {
	FilesRewritten int
	FilesSkipped   int
	RecordsKept    int
	RecordsDropped int
	BytesBefore    int64
	BytesAfter     int64
	// Errors holds one entry per file that failed to compact. A per-file
	// error never aborts the run: the compactor moves on to
	// the next file, leaving the failed file's originals untouched.
	Errors []error
}

// merge folds other into r in place.
func (r *Report) merge(other Report) {
	r.FilesRewritten += other.FilesRewritten
	r.FilesSkipped += other.FilesSkipped
	r.RecordsKept += other.RecordsKept
	r.RecordsDropped += other.RecordsDropped
	r.BytesBefore += other.BytesBefore
	r.BytesAfter += other.BytesAfter
	r.Errors = append(r.Errors, other.Errors...)
}

// Compactor rewrites data files in place, dropping records a [Plan] has
// marked for deletion and rewriting the surviving ones plus a fresh hint
// sidecar.
type Compactor struct {
	fsys   fs.FS
	writer *fs.AtomicWriter
	codec  hint.Codec
	// decompressor is used only to compute content hashes for compressed
	// values read from the source file; compaction always writes the
	// original compressed bytes through unchanged.
	decompressor record.Decompressor
}

// New returns a Compactor using fsys for all file I/O and codec to
// compress rewritten hint files.
func New(fsys fs.FS, codec hint.Codec, decompressor record.Decompressor) *Compactor {
	return &Compactor{
		fsys:         fsys,
		writer:       fs.NewAtomicWriter(fsys),
		codec:        codec,
		decompressor: decompressor,
	}
}

// CompactAll rewrites every file in files against plan, continuing past
// per-file failures.
func (c *Compactor) CompactAll(files []FileIndex, plan Plan, dataPathFor func(tag string) string) Report {
	var total Report

	for _, f := range files {
		dataPath := dataPathFor(f.Tag)

		r, err := c.CompactFile(dataPath, f.Tag, plan)
		if err != nil {
			total.FilesSkipped++
			total.Errors = append(total.Errors, fmt.Errorf("compact %s: %w", dataPath, err))

			continue
		}

		total.merge(r)
	}

	return total
}

// CompactFile rewrites a single data file at dataPath. It scans the source
// file fully before writing anything: if the scan itself fails (a
// truncated or corrupt file), CompactFile returns an error
// and touches neither the data file nor its hint sidecar. Records the
// plan marks as surviving (plan.Keep(tag, key, ver)) are written through
// unchanged into a new data file, alongside a freshly built hint file.
// Both are built in memory first, then each is published via its own
// atomic rename: the data file first, then the hint file. The pair is not
// replaced as one unit: if writing the hint fails, the new data file is
// already in place beside the old hint.
func (c *Compactor) CompactFile(dataPath, tag string, plan Plan) (Report, error) {
	src, err := c.fsys.Open(dataPath)
	if err != nil {
		return Report{}, fmt.Errorf("open %s: %w", dataPath, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return Report{}, fmt.Errorf("stat %s: %w", dataPath, err)
	}

	rd, err := record.NewReader(src, c.decompressor)
	if err != nil {
		return Report{}, err
	}

	var (
		dataBuf  bytes.Buffer
		hintRecs []hint.Record
		kept     int
		dropped  int
	)

	for {
		rec, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			if errors.Is(err, record.ErrInvalidRecord) {
				// End-of-valid-data sentinel: stop scanning, but this is not
				// a scan failure — everything read so far is trustworthy.
				break
			}

			// Any other error (truncation, I/O failure) means the source
			// file can't be trusted: abort without writing anything.
			return Report{}, fmt.Errorf("scan %s: %w", dataPath, err)
		}

		if !plan.Keep(tag, string(rec.Key), rec.Header.Ver) {
			dropped++

			continue
		}

		pos := int64(dataBuf.Len())

		if _, err := record.WriteRaw(&dataBuf, rec.Header, rec.Key, rec.Value); err != nil {
			return Report{}, fmt.Errorf("rewrite record for key %q: %w", rec.Key, err)
		}

		hintRecs = append(hintRecs, hint.Record{
			Ksz:     uint8(len(rec.Key)),
			DataPos: pos,
			Ver:     rec.Header.Ver,
			Hash:    bhash.Low16(rec.ContentHash),
			Key:     rec.Key,
		})

		kept++
	}

	hintPath := hint.DataPathToHintPath(dataPath)

	hintBytes, err := hint.EncodeFile(c.codec, hintRecs)
	if err != nil {
		return Report{}, fmt.Errorf("encode hint for %s: %w", dataPath, err)
	}

	opts := c.writer.DefaultOptions()

	if err := c.writer.Write(dataPath, bytes.NewReader(dataBuf.Bytes()), opts); err != nil {
		return Report{}, fmt.Errorf("write %s: %w", dataPath, err)
	}

	if err := c.writer.Write(hintPath, bytes.NewReader(hintBytes), opts); err != nil {
		return Report{}, fmt.Errorf("write %s: %w", hintPath, err)
	}

	return Report{
		FilesRewritten: 1,
		RecordsKept:    kept,
		RecordsDropped: dropped,
		BytesBefore:    srcInfo.Size(),
		BytesAfter:     int64(dataBuf.Len()),
	}, nil
}

