// Package validate compares two index builds of the same data file (a
// fresh rescan against its hint sidecar, or a hint against a freshly
// rebuilt ".tmp" hint) and reports any field-level disagreement.
package validate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/beansdb/beansdb/pkg/index"
)

// Diff describes one mismatch found between two index builds: either a
// key present on only one side, or a key whose Field disagrees between
// Left and Right.
type Diff struct {
	Key   string
	Field string
	Left  string
	Right string
}

func (d Diff) String() string {
	if d.Field == "" {
		return fmt.Sprintf("%s: %s", d.Key, d.Left)
	}

	return fmt.Sprintf("%s: %s mismatch: %s vs %s", d.Key, d.Field, d.Left, d.Right)
}

// fieldGetter names one comparable field of an [index.Entry] and how to
// render it for a diff.
type fieldGetter struct {
	name string
	get  func(index.Entry) string
}

func fmtInt64(v int64) string   { return strconv.FormatInt(v, 10) }
func fmtInt32(v int32) string   { return strconv.FormatInt(int64(v), 10) }
func fmtUint32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

var dataVsHintFields = []fieldGetter{
	{"datapos", func(e index.Entry) string { return fmtInt64(e.DataPos) }},
	{"ver", func(e index.Entry) string { return fmtInt32(e.Ver) }},
}

var hintVsTmpHintFields = []fieldGetter{
	{"datapos", func(e index.Entry) string { return fmtInt64(e.DataPos) }},
	{"ver", func(e index.Entry) string { return fmtInt32(e.Ver) }},
	{"hash", func(e index.Entry) string { return fmtUint32(e.Hash) }},
	{"ksz", func(e index.Entry) string { return fmtUint32(e.Ksz) }},
}

// compareEntries reports a Diff for every key present in only one of left
// or right, and a Diff per disagreeing field for every key present in
// both. Diffs are returned sorted by key so output is stable across
// map-iteration order.
func compareEntries(leftName, rightName string, left, right map[string]index.Entry, fields []fieldGetter) []Diff {
	var diffs []Diff

	for key, l := range left {
		r, ok := right[key]
		if !ok {
			diffs = append(diffs, Diff{Key: key, Left: fmt.Sprintf("present in %s, missing from %s", leftName, rightName)})

			continue
		}

		for _, f := range fields {
			lv, rv := f.get(l), f.get(r)
			if lv != rv {
				diffs = append(diffs, Diff{Key: key, Field: f.name, Left: lv, Right: rv})
			}
		}
	}

	for key := range right {
		if _, ok := left[key]; !ok {
			diffs = append(diffs, Diff{Key: key, Left: fmt.Sprintf("present in %s, missing from %s", rightName, leftName)})
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Key != diffs[j].Key {
			return diffs[i].Key < diffs[j].Key
		}

		return diffs[i].Field < diffs[j].Field
	})

	return diffs
}

// DataVsHint compares a data file's freshly rescanned index against its
// hint file's index, reporting any key whose datapos or ver disagrees, or
// that's present on only one side.
func DataVsHint(data, hint map[string]index.Entry) []Diff {
	return compareEntries("data", "hint", data, hint, dataVsHintFields)
}

// HintVsTmpHint compares a hint file's index against a freshly rebuilt
// ".tmp" hint's index, reporting any key whose datapos, ver, hash, or ksz
// disagrees, or that's present on only one side.
func HintVsTmpHint(hint, tmpHint map[string]index.Entry) []Diff {
	return compareEntries("hint", "tmp-hint", hint, tmpHint, hintVsTmpHintFields)
}
