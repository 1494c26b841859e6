// Command beansdb-compact scans a directory of append-only data files and
// either rewrites them in place (dropping superseded, tombstoned, and
// expired records), prints their live keys, or validates them against
// their hint sidecars.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/beansdb/beansdb/pkg/compaction"
	"github.com/beansdb/beansdb/pkg/dirlock"
	"github.com/beansdb/beansdb/pkg/expiry"
	"github.com/beansdb/beansdb/pkg/fs"
	"github.com/beansdb/beansdb/pkg/hint"
	"github.com/beansdb/beansdb/pkg/index"
	"github.com/beansdb/beansdb/pkg/record"
	"github.com/beansdb/beansdb/pkg/validate"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	flags := flag.NewFlagSet("beansdb-compact", flag.ContinueOnError)
	flags.SetOutput(stderr)

	dir := flags.StringP("dir", "d", "", "target data directory (required for all actions except --test)")
	compact := flags.BoolP("compact", "m", false, "compact data and hint files (drop superseded, tombstoned, and expired records)")
	printKeys := flags.BoolP("print", "p", false, "print all live keys as key<TAB>ver<TAB>datapos and exit")
	buildHint := flags.BoolP("build-hint", "b", false, "build hint files for every data file, replacing any existing hint")
	validateData := flags.BoolP("validate", "c", false, "rescan every data file and compare it against its hint file")
	validateTmp := flags.BoolP("validate-tmp", "t", false, "validate every hint file against a freshly rebuilt hint")
	expireDays := flags.Int64P("expire-days", "e", 0, "shorthand: expire records at least --expire-size old than this many days (combined with -s)")
	expireSize := flags.StringP("expire-size", "s", "", "shorthand: minimum value size to expire (combined with -e)")
	tiers := flags.StringP("tiers", "r", "", "tiered expiry spec \"size:days[,size:days...]\", e.g. \"1M:30,512K:7\"")
	verbose := flags.BoolP("verbose", "v", false, "print progress as each file is processed")
	selfTest := flags.Bool("test", false, "run self-tests and exit")

	pattern := flags.String("pattern", "", "only operate on *.data files whose name contains this substring")
	configPath := flags.String("config", "", "JSONC file providing expiry tiers (\"expire_tiers\": \"size:days,...\")")
	threads := flags.Int("threads", 1, "number of files to compact concurrently")
	reportPath := flags.String("report", "", "write the compaction report as JSON to this path in addition to stdout")
	dryRun := flags.Bool("dry-run", false, "print a summary and exit without writing any files")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		fmt.Fprintln(stderr, "error:", err)

		return 2
	}

	if *selfTest {
		if err := runSelfTest(stdout); err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 1
		}

		return 0
	}

	actions := 0
	for _, set := range []bool{*compact, *printKeys, *buildHint, *validateData, *validateTmp} {
		if set {
			actions++
		}
	}

	if actions != 1 {
		fmt.Fprintln(stderr, "error: specify exactly one of -m, -p, -b, -c, -t")

		return 2
	}

	if *dir == "" {
		fmt.Fprintln(stderr, "error: -d is required")
		flags.PrintDefaults()

		return 2
	}

	policy, err := resolvePolicy(*configPath, *tiers, *expireSize, *expireDays)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 2
	}

	unlock, err := dirlock.Acquire(filepath.Join(*dir, ".compact.lock"), 2*time.Second)
	if err != nil {
		fmt.Fprintln(stderr, "error: acquiring compaction lock:", err)

		return 3
	}
	defer unlock()

	fsys := fs.NewReal()

	fileInfos, err := index.Discover(fsys, *dir)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 3
	}

	if *pattern != "" {
		filtered := fileInfos[:0]

		for _, fi := range fileInfos {
			if strings.Contains(filepath.Base(fi.DataPath), *pattern) {
				filtered = append(filtered, fi)
			}
		}

		fileInfos = filtered
	}

	files, err := buildFileIndexes(fsys, fileInfos)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)

		return 3
	}

	plan := compaction.BuildPlan(files, compaction.PlanOptions{Policy: policy, Now: time.Now().Unix()})

	switch {
	case *printKeys:
		printLiveKeys(stdout, files, plan)

		return 0

	case *validateData:
		hasDiffs, err := runValidateData(stdout, fsys, fileInfos, files)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 3
		}

		if hasDiffs {
			return 1
		}

		return 0

	case *validateTmp:
		hasDiffs, err := runValidateTmpHint(stdout, fsys, fileInfos, files, plan)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)

			return 3
		}

		if hasDiffs {
			return 1
		}

		return 0

	case *buildHint:
		if *dryRun {
			printDryRun(stdout, files, plan)

			return 0
		}

		report := rebuildHintsOnly(fsys, files, plan)
		printReport(stdout, report, *verbose)

		if *reportPath != "" {
			writeReportFile(fsys, *reportPath, report)
		}

		return exitCodeFor(report)
	}

	// *compact
	if *dryRun {
		printDryRun(stdout, files, plan)

		return 0
	}

	codec := hint.NewFlateCodec(6)
	compactor := compaction.New(fsys, codec, nil)

	report := compactConcurrently(compactor, files, plan, *threads, *verbose, stdout)

	printReport(stdout, report, *verbose)

	if *reportPath != "" {
		writeReportFile(fsys, *reportPath, report)
	}

	return exitCodeFor(report)
}

// resolvePolicy builds the expiry policy in effect for a run. tiers (-r)
// takes priority over the config file; the -e/-s shorthand pair is
// equivalent to a single tier and, like tiers, overrides the config file.
// -e without -s (or vice versa) is an error: the shorthand only makes
// sense as a pair.
func resolvePolicy(configPath, tiersSpec, expireSize string, expireDays int64) (expiry.Policy, error) {
	if tiersSpec != "" {
		parsed, err := expiry.ParseTiers(tiersSpec)
		if err != nil {
			return expiry.Policy{}, err
		}

		return expiry.NewPolicy(parsed), nil
	}

	if expireSize != "" || expireDays != 0 {
		if expireSize == "" || expireDays == 0 {
			return expiry.Policy{}, fmt.Errorf("compactor: -e and -s must be given together")
		}

		size, err := expiry.ParseSize(expireSize)
		if err != nil {
			return expiry.Policy{}, err
		}

		return expiry.Legacy(size, expireDays), nil
	}

	if configPath == "" {
		return expiry.NewPolicy(nil), nil
	}

	parsed, err := loadExpireTiersFromConfig(configPath)
	if err != nil {
		return expiry.Policy{}, err
	}

	return expiry.NewPolicy(parsed), nil
}

type expireConfigFile struct {
	ExpireTiers string `json:"expire_tiers"`
}

func loadExpireTiersFromConfig(path string) ([]expiry.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var cfg expireConfigFile

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.ExpireTiers == "" {
		return nil, nil
	}

	return expiry.ParseTiers(cfg.ExpireTiers)
}

func buildFileIndexes(fsys fs.FS, infos []index.FileInfo) ([]compaction.FileIndex, error) {
	files := make([]compaction.FileIndex, 0, len(infos))

	for _, fi := range infos {
		f, err := fsys.Open(fi.DataPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fi.DataPath, err)
		}

		entries, err := index.FromDataFile(f, nil)
		closeErr := f.Close()

		if err != nil {
			return nil, fmt.Errorf("index %s: %w", fi.DataPath, err)
		}

		if closeErr != nil {
			return nil, fmt.Errorf("close %s: %w", fi.DataPath, closeErr)
		}

		files = append(files, compaction.FileIndex{Tag: fi.DataPath, Entries: entries})
	}

	return files, nil
}

func compactConcurrently(c *compaction.Compactor, files []compaction.FileIndex, plan compaction.Plan, threads int, verbose bool, stdout *os.File) compaction.Report {
	if threads < 1 {
		threads = 1
	}

	var (
		mu    sync.Mutex
		total compaction.Report
		wg    sync.WaitGroup
		sem   = make(chan struct{}, threads)
	)

	for _, f := range files {
		f := f

		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if verbose {
				fmt.Fprintf(stdout, "compacting %s\n", f.Tag)
			}

			r, err := c.CompactFile(f.Tag, f.Tag, plan)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				total.FilesSkipped++
				total.Errors = append(total.Errors, fmt.Errorf("%s: %w", f.Tag, err))

				return
			}

			total.FilesRewritten += r.FilesRewritten
			total.RecordsKept += r.RecordsKept
			total.RecordsDropped += r.RecordsDropped
			total.BytesBefore += r.BytesBefore
			total.BytesAfter += r.BytesAfter
		}()
	}

	wg.Wait()

	return total
}

func rebuildHintsOnly(fsys fs.FS, files []compaction.FileIndex, plan compaction.Plan) compaction.Report {
	var total compaction.Report

	codec := hint.NewFlateCodec(6)

	for _, f := range files {
		var recs []hint.Record

		for key, e := range f.Entries {
			if !plan.Keep(f.Tag, key, e.Ver) {
				total.RecordsDropped++

				continue
			}

			recs = append(recs, hint.Record{
				Ksz:     uint8(len(key)),
				DataPos: e.DataPos,
				Ver:     e.Ver,
				Hash:    bhash.Low16(e.Hash),
				Key:     []byte(key),
			})

			total.RecordsKept++
		}

		hintPath := hint.DataPathToHintPath(f.Tag)
		if err := writeHintFile(fsys, hintPath, codec, recs); err != nil {
			total.FilesSkipped++
			total.Errors = append(total.Errors, fmt.Errorf("%s: %w", hintPath, err))

			continue
		}

		total.FilesRewritten++
	}

	return total
}

func writeHintFile(fsys fs.FS, path string, codec hint.Codec, recs []hint.Record) error {
	data, err := hint.EncodeFile(codec, recs)
	if err != nil {
		return err
	}

	w := fs.NewAtomicWriter(fsys)

	return w.WriteWithDefaults(path, bytes.NewReader(data))
}

// printLiveKeys prints, one per line as "key<TAB>ver<TAB>datapos", every
// key that survives compaction under plan. A key's surviving location is
// whichever file last mentioned it, matching [compaction.BuildPlan]'s
// file-order precedence.
func printLiveKeys(stdout *os.File, files []compaction.FileIndex, plan compaction.Plan) {
	type located struct {
		tag   string
		entry index.Entry
	}

	merged := map[string]located{}

	for _, f := range files {
		for key, e := range f.Entries {
			merged[key] = located{tag: f.Tag, entry: e}
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		loc := merged[key]
		if !plan.Keep(loc.tag, key, loc.entry.Ver) {
			continue
		}

		fmt.Fprintf(stdout, "%s\t%d\t%d\n", key, loc.entry.Ver, loc.entry.DataPos)
	}
}

// runValidateData rescans every data file and compares it to its hint
// file, printing any diff on datapos or ver. It reports hasDiffs so the
// caller can choose a nonzero exit code without treating diffs as a fatal
// error.
func runValidateData(stdout *os.File, fsys fs.FS, infos []index.FileInfo, files []compaction.FileIndex) (bool, error) {
	hasDiffs := false

	for i, fi := range infos {
		if !fi.HasHint {
			fmt.Fprintf(stdout, "%s: no hint file\n", fi.DataPath)

			hasDiffs = true

			continue
		}

		hintEntries, err := readHintEntries(fsys, fi.HintPath)
		if err != nil {
			return false, fmt.Errorf("read hint %s: %w", fi.HintPath, err)
		}

		for _, d := range validate.DataVsHint(files[i].Entries, hintEntries) {
			fmt.Fprintf(stdout, "%s: %s\n", fi.DataPath, d)

			hasDiffs = true
		}
	}

	return hasDiffs, nil
}

// runValidateTmpHint rebuilds each file's hint entirely in memory (the
// ".tmp" hint a rebuild would produce) and compares it against the hint
// file currently on disk, printing any diff on datapos, ver, hash, or
// ksz.
func runValidateTmpHint(stdout *os.File, fsys fs.FS, infos []index.FileInfo, files []compaction.FileIndex, plan compaction.Plan) (bool, error) {
	hasDiffs := false

	for i, fi := range infos {
		if !fi.HasHint {
			fmt.Fprintf(stdout, "%s: no hint file\n", fi.DataPath)

			hasDiffs = true

			continue
		}

		existing, err := readHintEntries(fsys, fi.HintPath)
		if err != nil {
			return false, fmt.Errorf("read hint %s: %w", fi.HintPath, err)
		}

		rebuilt := rebuiltHintEntries(files[i], plan)

		for _, d := range validate.HintVsTmpHint(existing, rebuilt) {
			fmt.Fprintf(stdout, "%s: %s\n", fi.DataPath, d)

			hasDiffs = true
		}
	}

	return hasDiffs, nil
}

func readHintEntries(fsys fs.FS, path string) (map[string]index.Entry, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}

	codec := hint.NewFlateCodec(6)

	recs, err := hint.DecodeFile(codec, data)
	if err != nil {
		return nil, err
	}

	return index.FromHintFile(recs), nil
}

// rebuiltHintEntries mirrors the hint a rebuild would write for f: the
// surviving entries, with their content hash truncated to the 16 bits a
// hint record stores, matching [Compactor.CompactFile]'s own truncation.
func rebuiltHintEntries(f compaction.FileIndex, plan compaction.Plan) map[string]index.Entry {
	out := map[string]index.Entry{}

	for key, e := range f.Entries {
		if !plan.Keep(f.Tag, key, e.Ver) {
			continue
		}

		e.Hash = uint32(bhash.Low16(e.Hash))
		out[key] = e
	}

	return out
}

func printDryRun(stdout *os.File, files []compaction.FileIndex, plan compaction.Plan) {
	var kept, dropped int

	for _, f := range files {
		for key, e := range f.Entries {
			if plan.Keep(f.Tag, key, e.Ver) {
				kept++
			} else {
				dropped++
			}
		}
	}

	fmt.Fprintf(stdout, "dry run: %d files, %d records would survive, %d would be dropped\n", len(files), kept, dropped)
}

func printReport(stdout *os.File, r compaction.Report, verbose bool) {
	fmt.Fprintf(stdout, "rewrote %d file(s), skipped %d, kept %d record(s), dropped %d record(s), %d -> %d bytes\n",
		r.FilesRewritten, r.FilesSkipped, r.RecordsKept, r.RecordsDropped, r.BytesBefore, r.BytesAfter)

	if verbose {
		for _, err := range r.Errors {
			fmt.Fprintln(stdout, "  error:", err)
		}
	}
}

type reportJSON struct {
	FilesRewritten int      `json:"files_rewritten"`
	FilesSkipped   int      `json:"files_skipped"`
	RecordsKept    int      `json:"records_kept"`
	RecordsDropped int      `json:"records_dropped"`
	BytesBefore    int64    `json:"bytes_before"`
	BytesAfter     int64    `json:"bytes_after"`
	Errors         []string `json:"errors,omitempty"`
}

func writeReportFile(fsys fs.FS, path string, r compaction.Report) {
	rj := reportJSON{
		FilesRewritten: r.FilesRewritten,
		FilesSkipped:   r.FilesSkipped,
		RecordsKept:    r.RecordsKept,
		RecordsDropped: r.RecordsDropped,
		BytesBefore:    r.BytesBefore,
		BytesAfter:     r.BytesAfter,
	}

	for _, err := range r.Errors {
		rj.Errors = append(rj.Errors, err.Error())
	}

	data, err := json.MarshalIndent(rj, "", "  ")
	if err != nil {
		return
	}

	_ = fsys.WriteFileAtomic(path, data, 0o644)
}

func exitCodeFor(r compaction.Report) int {
	if len(r.Errors) > 0 {
		return 1
	}

	return 0
}

// runSelfTest exercises the record and hint codecs against in-memory
// fixtures and reports the first mismatch found. It touches no files and
// needs no -d, matching its role as a release sanity check rather than an
// operation on a particular directory.
func runSelfTest(stdout *os.File) error {
	if err := selfTestRecordRoundtrip(); err != nil {
		return fmt.Errorf("record codec self-test: %w", err)
	}

	fmt.Fprintln(stdout, "record codec roundtrip: ok")

	if err := selfTestHintRoundtrip(); err != nil {
		return fmt.Errorf("hint codec self-test: %w", err)
	}

	fmt.Fprintln(stdout, "hint codec roundtrip: ok")

	return nil
}

func selfTestRecordRoundtrip() error {
	key := []byte("self-test-key")
	value := []byte("self-test-value")

	hdr := record.Header{
		Tstamp: 1700000000,
		Ver:    1,
		Ksz:    uint32(len(key)),
		Vsz:    uint32(len(value)),
	}
	hdr.CRC = record.ComputeCRC(hdr, key, value)

	var buf bytes.Buffer

	if _, err := record.WriteRaw(&buf, hdr, key, value); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	rd, err := record.NewReader(bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		return fmt.Errorf("new reader: %w", err)
	}

	rec, err := rd.Next()
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}

	if string(rec.Key) != string(key) || string(rec.Value) != string(value) || rec.Header.Ver != hdr.Ver {
		return fmt.Errorf("roundtrip mismatch: got key=%q value=%q ver=%d", rec.Key, rec.Value, rec.Header.Ver)
	}

	return nil
}

func selfTestHintRoundtrip() error {
	codec := hint.NewFlateCodec(6)

	recs := []hint.Record{
		{Ksz: 1, DataPos: 0, Ver: 1, Hash: 42, Key: []byte("a")},
		{Ksz: 1, DataPos: 256, Ver: 2, Hash: 7, Key: []byte("b")},
	}

	data, err := hint.EncodeFile(codec, recs)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	got, err := hint.DecodeFile(codec, data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if len(got) != len(recs) {
		return fmt.Errorf("roundtrip mismatch: got %d records, want %d", len(got), len(recs))
	}

	for i, r := range got {
		want := recs[i]
		if string(r.Key) != string(want.Key) || r.Ver != want.Ver || r.DataPos != want.DataPos || r.Hash != want.Hash {
			return fmt.Errorf("roundtrip mismatch at record %d: got %+v, want %+v", i, r, want)
		}
	}

	return nil
}
