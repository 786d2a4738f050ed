package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/datastor/internal/storage/frame"
)

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// run executes the root command with args and stdin and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

var clock = time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)

func TestIngestBinaryAndDump(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	out, err := run(t, "alpha\nbeta\ngamma\n", "ingest", "--root", root, "--program", "cli-test")
	require.NoError(t, err)
	assert.Contains(t, out, "stored 3 records")

	path := filepath.Join(root, "20240101", "202401011000.bin")
	h, payloads, err := frame.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cli-test", h.Program)
	require.Len(t, payloads, 3)
	assert.Equal(t, "beta", string(payloads[1]))

	out, err = run(t, "", "dump", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"beta"`)
	assert.Contains(t, out, "records=3")
	assert.Contains(t, out, `program="cli-test"`)
}

func TestIngestJSONRejectsInvalidLines(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	out, err := run(t, "{\"a\":1}\nnot json\n[1,2,3]\n",
		"--format", "json", "ingest", "--root", root, "--record-format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	var res IngestResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.EqualValues(t, 2, res.Records)
	assert.EqualValues(t, 1, res.Rejected)

	data, err := os.ReadFile(filepath.Join(root, "20240101", "202401011000.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"header\":\"datastor\"}\n{\"a\":1}\n[1,2,3]\n", string(data))
}

func TestDumpJSONOutput(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	_, err := run(t, "{\"v\":1}\n{\"v\":2}\n", "ingest", "--root", root, "--record-format", "json")
	require.NoError(t, err)

	out, err := run(t, "", "--format", "json", "dump", "-n", "1",
		filepath.Join(root, "20240101", "202401011000.json"))
	require.NoError(t, err)

	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	var res struct {
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Len(t, res.Records, 1)
	assert.JSONEq(t, `{"v":1}`, string(res.Records[0]))
}

func TestDumpRaw(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	_, err := run(t, "ab\ncd\n", "ingest", "--root", root)
	require.NoError(t, err)

	out, err := run(t, "", "dump", "--raw", filepath.Join(root, "20240101", "202401011000.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", out)
}

func TestVerify(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	_, err := run(t, "one\ntwo\n", "ingest", "--root", root)
	require.NoError(t, err)

	out, err := run(t, "", "verify", root)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "1 files, 2 records, 0 failed")

	// Corrupt the trailing magic of the last frame.
	path := filepath.Join(root, "20240101", "202401011000.bin")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] = 'X'
	require.NoError(t, os.WriteFile(path, data, 0644))

	out, err = run(t, "", "verify", root)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "1 failed (1 corrupt)")
}

func TestVerifyMissingPath(t *testing.T) {
	_, err := run(t, "", "verify", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompress(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"20231231/202312312300.bin", "20240101/202401010000.bin"} {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	out, err := run(t, "", "compress", "--root", root, "--now", "2024-01-01T12:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "1 days archived")

	assert.FileExists(t, filepath.Join(root, "20231231.tar.gz"))
	assert.NoDirExists(t, filepath.Join(root, "20231231"))
	assert.DirExists(t, filepath.Join(root, "20240101"))
}

func TestCompressReportsFailedDay(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"20231230/202312300000.bin", "20231231/202312310000.bin"} {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "20231230.tar.gz"), []byte("old"), 0644))

	out, err := run(t, "", "compress", "--root", root, "--now", "2024-01-01T12:00:00Z")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 days archived, 1 failed")
	assert.FileExists(t, filepath.Join(root, "20231231.tar.gz"))
	assert.DirExists(t, filepath.Join(root, "20231230"))
}

func TestIngestStopsOnStoreError(t *testing.T) {
	root := t.TempDir()
	fixClock(t, clock)

	// A file where the day directory belongs makes every store call fail.
	require.NoError(t, os.WriteFile(filepath.Join(root, "20240101"), nil, 0644))

	_, err := run(t, "one\ntwo\n", "ingest", "--root", root)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "line 1")
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"20240101.tar.gz", "20240201.tar.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("archive"), 0644))
	}

	out, err := run(t, "", "prune", "--root", root, "--keep", "240h", "--now", "2024-02-02T00:00:00Z", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete 1 archives")
	assert.FileExists(t, filepath.Join(root, "20240101.tar.gz"))

	_, err = run(t, "", "prune", "--root", root, "--keep", "240h", "--now", "2024-02-02T00:00:00Z")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "20240101.tar.gz"))
	assert.FileExists(t, filepath.Join(root, "20240201.tar.gz"))
}

func TestConfigFile(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "datastor.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("root: "+root+"\nprogram: from-file\nformat: json\n"), 0644))
	fixClock(t, clock)

	_, err := run(t, "{\"x\":true}\n", "ingest", "-c", cfgPath)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "20240101", "202401011000.json"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"header":"from-file"}`))
}

func TestInvalidFlags(t *testing.T) {
	_, err := run(t, "", "--format", "xml", "verify", ".")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, "", "ingest", "--root", t.TempDir(), "--record-format", "csv")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, "", "ingest", "--root", t.TempDir(), "--program", "bad\x01name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
}
