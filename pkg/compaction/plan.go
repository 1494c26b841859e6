// Package compaction implements the offline data-file compactor: planning
// which records survive rewrite and performing the
// in-place, file-by-file rewrite.
package compaction

import (
	"github.com/beansdb/beansdb/pkg/expiry"
	"github.com/beansdb/beansdb/pkg/index"
)

// location identifies one version of a key: which file (tag) it lives in
// and its record version.
type location struct {
	Tag string
	Ver int32
}

// Reason explains why a record was placed in the delete set.
type Reason int

const (
	// KeepReason means the record survives compaction.
	KeepReason Reason = iota
	// Superseded means a newer version of the key exists elsewhere, or this
	// is the latest version but it is a tombstone.
	Superseded
	// Expired means this is the latest live version of the key but the
	// configured [expiry.Policy] says it is past its expiration.
	Expired
)

// FileIndex is one data file's built key index, identified
// by Tag (normally the file name) and given in file order: Files[i] must
// have been created before Files[i+1].
type FileIndex struct {
	Tag     string
	Entries map[string]index.Entry
}

// deleteKey is the composite key the delete set is built over: a record is
// identified uniquely by which file it's in, its key, and its version,
// since the same key can appear with the same version number only once per
// file but multiple times across files during history.
type deleteKey struct {
	Tag string
	Key string
	Ver int32
}

// Plan is the result of planning a compaction: for every (file, key,
// version) triple seen across all input files, whether it survives.
type Plan struct {
	latest  map[string]location
	reasons map[deleteKey]Reason
}

// PlanOptions configures [Plan] construction.
type PlanOptions struct {
	// Policy is the expiry policy to evaluate against each surviving
	// record. A zero-value [expiry.Policy] never expires anything.
	Policy expiry.Policy
	// Now is the reference Unix timestamp for expiry evaluation.
	Now int64
}

// BuildPlan computes which records survive compaction across files (given
// in file order).
//
// Pass 1 determines, for each key, the single surviving (tag, ver): file
// order alone decides it. Later files are scanned after earlier ones, so a
// key re-mentioned in a later file unconditionally replaces whatever
// earlier file last held it, whatever the two records' ver numbers are.
// There is no cross-file ver comparison: ver only distinguishes records
// within the same file's tombstone/live state, never precedence between
// files.
//
// Pass 2 classifies every (tag, key, ver) triple actually observed: any
// triple that isn't the key's surviving location is Superseded. The
// surviving location is itself Superseded if it's a tombstone (ver < 0):
// a winning tombstone carries no value to keep, so it is
// dropped too, effectively implementing deletion. Otherwise the surviving
// location is Expired if the configured policy says so, or Keep.
func BuildPlan(files []FileIndex, opts PlanOptions) Plan {
	latest := map[string]location{}

	for _, f := range files {
		for key, e := range f.Entries {
			latest[key] = location{Tag: f.Tag, Ver: e.Ver}
		}
	}

	reasons := map[deleteKey]Reason{}

	for _, f := range files {
		for key, e := range f.Entries {
			dk := deleteKey{Tag: f.Tag, Key: key, Ver: e.Ver}
			loc := location{Tag: f.Tag, Ver: e.Ver}

			if latest[key] != loc {
				reasons[dk] = Superseded

				continue
			}

			if e.Tombstone() {
				reasons[dk] = Superseded

				continue
			}

			if opts.Policy.IsExpired(int64(e.Vsz), int64(e.Tstamp), opts.Now) {
				reasons[dk] = Expired

				continue
			}

			reasons[dk] = KeepReason
		}
	}

	return Plan{latest: latest, reasons: reasons}
}

// Reason returns why the record identified by (tag, key, ver) was
// classified as it was. A triple BuildPlan never observed whose key it did
// observe is Superseded: a file's index holds only the last record per
// key, so any other version of that key in the file is an older one.
// Triples whose key was never observed return KeepReason, since the safe
// default for an unplanned record is to keep it.
func (p Plan) Reason(tag, key string, ver int32) Reason {
	if r, ok := p.reasons[deleteKey{Tag: tag, Key: key, Ver: ver}]; ok {
		return r
	}

	if _, known := p.latest[key]; known {
		return Superseded
	}

	return KeepReason
}

// Keep reports whether the record identified by (tag, key, ver) survives
// compaction.
func (p Plan) Keep(tag, key string, ver int32) bool {
	return p.Reason(tag, key, ver) == KeepReason
}

// SurvivingVersion returns the version of key that survives compaction
// across the whole file set, and whether key was seen at all.
func (p Plan) SurvivingVersion(key string) (int32, bool) {
	loc, ok := p.latest[key]

	return loc.Ver, ok
}
