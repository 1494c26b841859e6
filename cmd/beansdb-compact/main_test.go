package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beansdb/beansdb/pkg/record"
	"github.com/stretchr/testify/require"
)

func writeDataFile(t *testing.T, path string, recs []record.Record) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	for _, rec := range recs {
		hdr := rec.Header
		hdr.CRC = record.ComputeCRC(hdr, rec.Key, rec.Value)

		_, err := record.WriteRaw(f, hdr, rec.Key, rec.Value)
		require.NoError(t, err)
	}
}

func newPipeFiles(t *testing.T) (r, w *os.File) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		r.Close()
		w.Close()
	})

	return r, w
}

func Test_Run_SelfTestPasses(t *testing.T) {
	t.Parallel()

	_, stdout := newPipeFiles(t)
	_, stderr := newPipeFiles(t)

	code := run([]string{"--test"}, stdout, stderr)
	require.Equal(t, 0, code)
}

func Test_Run_RejectsZeroOrMultipleActions(t *testing.T) {
	t.Parallel()

	_, stdout := newPipeFiles(t)
	_, stderr := newPipeFiles(t)

	dir := t.TempDir()

	require.NotEqual(t, 0, run([]string{"-d", dir}, stdout, stderr))
	require.NotEqual(t, 0, run([]string{"-d", dir, "-m", "-p"}, stdout, stderr))
}

func Test_Run_PrintLiveKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDataFile(t, filepath.Join(dir, "1.data"), []record.Record{
		{Header: record.Header{Ver: 1, Ksz: 1, Vsz: 1}, Key: []byte("a"), Value: []byte("1")},
		{Header: record.Header{Ver: 2, Ksz: 1, Vsz: 1}, Key: []byte("a"), Value: []byte("2")},
	})

	stdoutR, stdoutW := newPipeFiles(t)
	_, stderr := newPipeFiles(t)

	code := run([]string{"-d", dir, "-p"}, stdoutW, stderr)
	require.Equal(t, 0, code)
	stdoutW.Close()

	buf := make([]byte, 4096)
	n, _ := stdoutR.Read(buf)
	out := string(buf[:n])

	require.True(t, strings.HasPrefix(out, "a\t2\t"), "got %q", out)
}

func Test_Run_CompactRewritesDataDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "1.data")
	writeDataFile(t, dataPath, []record.Record{
		{Header: record.Header{Ver: 1, Ksz: 1, Vsz: 1}, Key: []byte("a"), Value: []byte("1")},
		{Header: record.Header{Ver: 2, Ksz: 1, Vsz: 1}, Key: []byte("a"), Value: []byte("2")},
	})

	stdoutR, stdoutW := newPipeFiles(t)
	_, stderr := newPipeFiles(t)

	code := run([]string{"-d", dir, "-m"}, stdoutW, stderr)
	require.Equal(t, 0, code)
	stdoutW.Close()

	buf := make([]byte, 4096)
	n, _ := stdoutR.Read(buf)
	require.Contains(t, string(buf[:n]), "kept 1 record(s)")

	info, err := os.Stat(dataPath)
	require.NoError(t, err)
	require.Less(t, info.Size(), int64(2*record.Alignment))
}
