package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager snapshots one SQLite database into a backup directory.
type Manager struct {
	dbPath    string
	dir       string
	retention RetentionPolicy
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewManager creates the backup directory if needed. A zero policy keeps
// nothing older than the newest snapshot, so callers usually pass
// DefaultRetention.
func NewManager(dbPath, dir string, retention RetentionPolicy, logger logrus.FieldLogger) (*Manager, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if retention.Hourly < 0 || retention.Daily < 0 || retention.Weekly < 0 || retention.Monthly < 0 {
		return nil, fmt.Errorf("retention counts must be >= 0, got %+v", retention)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		dbPath:    dbPath,
		dir:       dir,
		retention: retention,
		logger:    logger.WithField("component", "backup"),
		now:       time.Now,
	}, nil
}

// Backup writes a verified snapshot, then prunes expired ones. A pruning
// failure is logged and does not fail the backup.
func (m *Manager) Backup(ctx context.Context) (*Result, error) {
	start := m.now()
	if _, err := os.Stat(m.dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	name := fmt.Sprintf("cadence-%s%s", start.UTC().Format("20060102-150405.000000"), snapshotExt)
	path := filepath.Join(m.dir, name)

	if err := snapshot(ctx, m.dbPath, path); err != nil {
		return nil, err
	}
	if err := verify(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("snapshot verification failed: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	result := &Result{
		Info:     Info{Path: path, CreatedAt: info.ModTime(), Size: info.Size()},
		Duration: time.Since(start),
	}

	result.Pruned, err = prune(m.dir, m.retention, m.now())
	if err != nil {
		m.logger.WithError(err).Warn("failed to apply retention policy")
	}

	m.logger.WithFields(logrus.Fields{
		"path":   path,
		"size":   result.Size,
		"pruned": result.Pruned,
	}).Info("backup completed")
	return result, nil
}

// List returns the available snapshots, newest first.
func (m *Manager) List() ([]Info, error) {
	return listSnapshots(m.dir)
}

// Restore replaces the database with the snapshot at path. Nothing may have
// the database open. The current database is kept aside and put back when
// the restore fails.
func (m *Manager) Restore(ctx context.Context, path string) error {
	if err := verify(ctx, path); err != nil {
		return fmt.Errorf("backup %s is not usable: %w", path, err)
	}

	previous := m.dbPath + ".pre-restore"
	hadDatabase := false
	if _, err := os.Stat(m.dbPath); err == nil {
		_ = os.Remove(previous)
		if err := snapshot(ctx, m.dbPath, previous); err != nil {
			return fmt.Errorf("failed to save current database: %w", err)
		}
		hadDatabase = true
		defer func() { _ = os.Remove(previous) }()
	}

	// A WAL left from the replaced database would be replayed onto the
	// restored one.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(m.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", m.dbPath+suffix, err)
		}
	}

	err := copyFile(path, m.dbPath)
	if err == nil {
		err = verify(ctx, m.dbPath)
	}
	if err == nil {
		m.logger.WithField("path", path).Info("database restored")
		return nil
	}

	if !hadDatabase {
		return fmt.Errorf("restore failed: %w", err)
	}
	if rbErr := copyFile(previous, m.dbPath); rbErr != nil {
		return fmt.Errorf("restore failed (%v) and rollback failed: %w", err, rbErr)
	}
	return fmt.Errorf("restore failed, previous database kept: %w", err)
}
