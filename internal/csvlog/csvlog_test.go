package csvlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestNewCreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")

	_, err := New(path, 0)
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"timestamp", "event", "server", "folder"}, rows[0])
}

func TestNewCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "sessions.csv")

	_, err := New(path, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestNewKeepsExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	existing := "timestamp,event,server,folder\n2026-03-01 09:00:00,start,192.168.1.50:3389,Production\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0644))

	_, err := New(path, 0)
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "192.168.1.50:3389", rows[1][2])
}

func TestRecordAppendsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	l, err := New(path, 0)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 10, 14, 30, 5, 0, time.Local)
	require.NoError(t, l.Record("start", "192.168.1.50:3389", "Production", ts))
	require.NoError(t, l.Record("end", "192.168.1.50:3389", "Production", ts.Add(time.Hour)))

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2026-03-10 14:30:05", "start", "192.168.1.50:3389", "Production"}, rows[1])
	assert.Equal(t, []string{"2026-03-10 15:30:05", "end", "192.168.1.50:3389", "Production"}, rows[2])
}

func TestPruneDropsExpiredRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	old := time.Now().Add(-200 * 24 * time.Hour).Format(timestampLayout)
	recent := time.Now().Add(-time.Hour).Format(timestampLayout)
	content := "timestamp,event,server,folder\n" +
		old + ",start,10.0.0.1:22,\n" +
		old + ",end,10.0.0.1:22,\n" +
		recent + ",start,192.168.1.50:3389,Production\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := New(path, 180*24*time.Hour)
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "192.168.1.50:3389", rows[1][2])
}

func TestPrunePreservesUnparseableRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	old := time.Now().Add(-200 * 24 * time.Hour).Format(timestampLayout)
	content := "timestamp,event,server,folder\n" +
		"not-a-timestamp,start,10.0.0.1:22,\n" +
		old + ",end,10.0.0.1:22,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := New(path, 180*24*time.Hour)
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "not-a-timestamp", rows[1][0])
}

func TestPruneNoopWhenNothingExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.csv")
	recent := time.Now().Add(-time.Hour).Format(timestampLayout)
	content := "timestamp,event,server,folder\n" + recent + ",start,10.0.0.1:22,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = New(path, 180*24*time.Hour)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "file must not be rewritten when no rows expire")
}

func TestNewFailsOnUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	// Parent "directory" is a regular file, so MkdirAll must fail.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err := New(filepath.Join(blocker, "sub", "sessions.csv"), 0)
	assert.Error(t, err)
}
