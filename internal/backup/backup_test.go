package backup

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// seedDatabase creates a database at path holding n rows.
func seedDatabase(t *testing.T, path string, n int) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS observations (id INTEGER PRIMARY KEY, note TEXT)`)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err = db.Exec(`INSERT INTO observations (note) VALUES (?)`, "slept")
		require.NoError(t, err)
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n))
	return n
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cadence.db")
	m, err := NewManager(dbPath, filepath.Join(dir, "backups"), DefaultRetention(), quietLogger())
	require.NoError(t, err)
	return m, dbPath
}

func TestNewManagerValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name      string
		dbPath    string
		backupDir string
		retention RetentionPolicy
	}{
		{"missing database path", "", dir, DefaultRetention()},
		{"missing backup dir", filepath.Join(dir, "c.db"), "", DefaultRetention()},
		{"negative retention", filepath.Join(dir, "c.db"), dir, RetentionPolicy{Hourly: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.dbPath, tt.backupDir, tt.retention, quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestBackupAndList(t *testing.T) {
	m, dbPath := newTestManager(t)
	ctx := context.Background()

	_, err := m.Backup(ctx)
	require.Error(t, err, "backup of a missing database")

	seedDatabase(t, dbPath, 3)

	result, err := m.Backup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, result.Path)
	assert.Positive(t, result.Size)
	assert.Zero(t, result.Pruned)
	assert.Equal(t, 3, countRows(t, result.Path))

	snapshots, err := m.List()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, result.Path, snapshots[0].Path)
}

func TestRestore(t *testing.T) {
	m, dbPath := newTestManager(t)
	ctx := context.Background()

	seedDatabase(t, dbPath, 2)
	result, err := m.Backup(ctx)
	require.NoError(t, err)

	seedDatabase(t, dbPath, 5)
	require.Equal(t, 7, countRows(t, dbPath))

	require.NoError(t, m.Restore(ctx, result.Path))
	assert.Equal(t, 2, countRows(t, dbPath))
	assert.NoFileExists(t, dbPath+".pre-restore")
}

func TestRestoreRejectsBadBackup(t *testing.T) {
	m, dbPath := newTestManager(t)
	ctx := context.Background()
	seedDatabase(t, dbPath, 4)

	garbage := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a database file at all"), 0o600))

	assert.Error(t, m.Restore(ctx, garbage))
	assert.Error(t, m.Restore(ctx, filepath.Join(t.TempDir(), "missing.db")))
	assert.Equal(t, 4, countRows(t, dbPath))
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := func(age time.Duration) Info {
		return Info{Path: age.String(), CreatedAt: now.Add(-age)}
	}
	day := 24 * time.Hour

	// Newest first, as listSnapshots returns them.
	snapshots := []Info{
		snap(time.Hour),
		snap(2 * time.Hour),
		snap(3 * time.Hour),
		snap(2 * day),
		snap(3 * day),
		snap(10 * day),
		snap(40 * day),
		snap(400 * day),
	}

	tests := []struct {
		name   string
		policy RetentionPolicy
		want   []string
	}{
		{
			name:   "defaults keep everything under a year",
			policy: DefaultRetention(),
			want:   []string{(400 * day).String()},
		},
		{
			name:   "tight policy keeps the newest of each tier",
			policy: RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1},
			want: []string{
				(2 * time.Hour).String(),
				(3 * time.Hour).String(),
				(3 * day).String(),
				(400 * day).String(),
			},
		},
		{
			name:   "zero policy drops everything",
			policy: RetentionPolicy{},
			want: []string{
				time.Hour.String(), (2 * time.Hour).String(), (3 * time.Hour).String(),
				(2 * day).String(), (3 * day).String(), (10 * day).String(),
				(40 * day).String(), (400 * day).String(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, s := range expired(snapshots, tt.policy, now) {
				got = append(got, s.Path)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	ages := []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour}
	for i, age := range ages {
		path := filepath.Join(dir, "cadence-"+string(rune('a'+i))+".db")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		ts := now.Add(-age)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o600))

	removed, err := prune(dir, RetentionPolicy{Hourly: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	snapshots, err := listSnapshots(dir)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, filepath.Join(dir, "cadence-a.db"), snapshots[0].Path)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	missing, err := listSnapshots(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
