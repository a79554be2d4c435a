package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// AppendSleepWake stores a new sleep/wake log.
func (s *Store) AppendSleepWake(ctx context.Context, log *types.SleepWakeLog) error {
	if log == nil || log.OwnerID == "" {
		return fmt.Errorf("%w: sleep/wake log owner is required", storage.ErrInvalidInput)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var quality sql.NullFloat64
	if log.Quality != nil {
		quality = sql.NullFloat64{Float64: *log.Quality, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sleep_wake_logs (id, owner_id, sleep_at, wake_at, duration_minutes, quality, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.OwnerID, toMillis(log.SleepAt), toMillis(log.WakeAt), log.DurationMinutes,
		quality, nullableString(log.Note), toMillis(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sleep/wake log: %w", err)
	}
	return nil
}

// AppendActivity stores a new activity log.
func (s *Store) AppendActivity(ctx context.Context, log *types.ActivityLog) error {
	if log == nil || log.OwnerID == "" || log.Tag == "" {
		return fmt.Errorf("%w: activity owner and tag are required", storage.ErrInvalidInput)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var duration sql.NullInt64
	if log.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: int64(*log.DurationMinutes), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, owner_id, tag, start_at, end_at, duration_minutes, location, intensity, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.OwnerID, log.Tag, toMillis(log.StartAt), nullableMillis(log.EndAt), duration,
		nullableString(log.Location), nullableString(string(log.Intensity)), nullableString(log.Note),
		toMillis(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// RecentSleepWake returns an owner's logs, newest sleep first.
func (s *Store) RecentSleepWake(ctx context.Context, ownerID string, limit, offset int) ([]*types.SleepWakeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, sleep_at, wake_at, duration_minutes, quality, note, created_at
		FROM sleep_wake_logs
		WHERE owner_id = ?
		ORDER BY sleep_at DESC, id
		LIMIT ? OFFSET ?`,
		ownerID, storage.NormalizeLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sleep/wake logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*types.SleepWakeLog, 0)
	for rows.Next() {
		var (
			l                        types.SleepWakeLog
			sleepAt, wakeAt, created int64
			quality                  sql.NullFloat64
			note                     sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.OwnerID, &sleepAt, &wakeAt, &l.DurationMinutes, &quality, &note, &created); err != nil {
			return nil, fmt.Errorf("failed to scan sleep/wake log: %w", err)
		}
		l.SleepAt = fromMillis(sleepAt)
		l.WakeAt = fromMillis(wakeAt)
		l.CreatedAt = fromMillis(created)
		if quality.Valid {
			q := quality.Float64
			l.Quality = &q
		}
		l.Note = note.String
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// RecentActivities returns an owner's activity logs, newest start first.
func (s *Store) RecentActivities(ctx context.Context, ownerID string, filter storage.ActivityFilter, limit, offset int) ([]*types.ActivityLog, error) {
	query := `
		SELECT id, owner_id, tag, start_at, end_at, duration_minutes, location, intensity, note, created_at
		FROM activity_logs
		WHERE owner_id = ?`
	args := []any{ownerID}
	if filter.Tag != "" {
		query += " AND tag = ?"
		args = append(args, filter.Tag)
	}
	query += " ORDER BY start_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, storage.NormalizeLimit(limit), max(offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*types.ActivityLog, 0)
	for rows.Next() {
		var (
			l                         types.ActivityLog
			startAt, created          int64
			endAt, duration           sql.NullInt64
			location, intensity, note sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Tag, &startAt, &endAt, &duration, &location, &intensity, &note, &created); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		l.StartAt = fromMillis(startAt)
		l.EndAt = timeFromNull(endAt)
		if duration.Valid {
			d := int(duration.Int64)
			l.DurationMinutes = &d
		}
		l.Location = location.String
		l.Intensity = types.Intensity(intensity.String)
		l.Note = note.String
		l.CreatedAt = fromMillis(created)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
