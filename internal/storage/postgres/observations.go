package postgres

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

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sleep_wake_logs (id, owner_id, sleep_at, wake_at, duration_minutes, quality, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			log.ID, log.OwnerID, log.SleepAt, log.WakeAt, log.DurationMinutes, quality,
			nullableString(log.Note), log.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert sleep/wake log: %w", err)
		}
		return nil
	})
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

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO activity_logs (id, owner_id, tag, start_at, end_at, duration_minutes, location, intensity, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			log.ID, log.OwnerID, log.Tag, log.StartAt, nullableTime(log.EndAt), duration,
			nullableString(log.Location), nullableString(string(log.Intensity)), nullableString(log.Note),
			log.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert activity log: %w", err)
		}
		return nil
	})
}

// RecentSleepWake returns an owner's logs, newest sleep first.
func (s *Store) RecentSleepWake(ctx context.Context, ownerID string, limit, offset int) ([]*types.SleepWakeLog, error) {
	var logs []*types.SleepWakeLog
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, sleep_at, wake_at, duration_minutes, quality, note, created_at
			FROM sleep_wake_logs
			WHERE owner_id = $1
			ORDER BY sleep_at DESC, id
			LIMIT $2 OFFSET $3`,
			ownerID, storage.NormalizeLimit(limit), max(offset, 0),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to query sleep/wake logs: %w", err)
		}
		defer rows.Close()

		logs = make([]*types.SleepWakeLog, 0)
		for rows.Next() {
			var (
				l       types.SleepWakeLog
				quality sql.NullFloat64
				note    sql.NullString
			)
			if err := rows.Scan(&l.ID, &l.OwnerID, &l.SleepAt, &l.WakeAt, &l.DurationMinutes, &quality, &note, &l.CreatedAt); err != nil {
				return fmt.Errorf("postgres: failed to scan sleep/wake log: %w", err)
			}
			l.SleepAt = l.SleepAt.UTC()
			l.WakeAt = l.WakeAt.UTC()
			l.CreatedAt = l.CreatedAt.UTC()
			if quality.Valid {
				q := quality.Float64
				l.Quality = &q
			}
			l.Note = note.String
			logs = append(logs, &l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// RecentActivities returns an owner's activity logs, newest start first.
func (s *Store) RecentActivities(ctx context.Context, ownerID string, filter storage.ActivityFilter, limit, offset int) ([]*types.ActivityLog, error) {
	query := `
		SELECT id, owner_id, tag, start_at, end_at, duration_minutes, location, intensity, note, created_at
		FROM activity_logs
		WHERE owner_id = $1 AND ($2 = '' OR tag = $2)
		ORDER BY start_at DESC, id
		LIMIT $3 OFFSET $4`

	var logs []*types.ActivityLog
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, ownerID, filter.Tag, storage.NormalizeLimit(limit), max(offset, 0))
		if err != nil {
			return fmt.Errorf("postgres: failed to query activity logs: %w", err)
		}
		defer rows.Close()

		logs = make([]*types.ActivityLog, 0)
		for rows.Next() {
			var (
				l                         types.ActivityLog
				endAt                     sql.NullTime
				duration                  sql.NullInt64
				location, intensity, note sql.NullString
			)
			if err := rows.Scan(&l.ID, &l.OwnerID, &l.Tag, &l.StartAt, &endAt, &duration, &location, &intensity, &note, &l.CreatedAt); err != nil {
				return fmt.Errorf("postgres: failed to scan activity log: %w", err)
			}
			l.StartAt = l.StartAt.UTC()
			l.CreatedAt = l.CreatedAt.UTC()
			l.EndAt = timeFromNull(endAt)
			if duration.Valid {
				d := int(duration.Int64)
				l.DurationMinutes = &d
			}
			l.Location = location.String
			l.Intensity = types.Intensity(intensity.String)
			l.Note = note.String
			logs = append(logs, &l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
