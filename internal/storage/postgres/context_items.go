package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

const contextColumns = `id, owner_id, category, relevance_score, relevance_level, time_window, timestamp,
	expires_at, origin, metadata, source_key, created_at, updated_at`

// InsertContextItem stores a new item, or overwrites the owner's item with
// the same source key.
func (s *Store) InsertContextItem(ctx context.Context, item *types.ContextItem) error {
	if item == nil || item.OwnerID == "" || item.Category == "" {
		return fmt.Errorf("%w: context item owner and category are required", storage.ErrInvalidInput)
	}
	meta, err := types.EncodeContextPayload(item.Payload)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal context payload: %w", err)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO context_items (`+contextColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (owner_id, source_key) WHERE source_key <> ''
			DO UPDATE SET
				category = EXCLUDED.category,
				relevance_score = EXCLUDED.relevance_score,
				relevance_level = EXCLUDED.relevance_level,
				time_window = EXCLUDED.time_window,
				timestamp = EXCLUDED.timestamp,
				expires_at = EXCLUDED.expires_at,
				origin = EXCLUDED.origin,
				metadata = EXCLUDED.metadata,
				updated_at = EXCLUDED.updated_at
			RETURNING id, created_at`,
			item.ID, item.OwnerID, string(item.Category), item.Score, item.Level.String(), string(item.TimeWindow),
			item.Timestamp, nullableTime(item.ExpiresAt), nullableString(string(item.Origin())), nullableBytes(meta),
			item.SourceKey, item.CreatedAt, item.UpdatedAt,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert context item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		return nil
	})
}

// UpdateContextItem overwrites a stored item.
func (s *Store) UpdateContextItem(ctx context.Context, item *types.ContextItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: context item ID is required", storage.ErrInvalidInput)
	}
	meta, err := types.EncodeContextPayload(item.Payload)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal context payload: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE context_items
			SET category = $1, relevance_score = $2, relevance_level = $3, time_window = $4, timestamp = $5,
				expires_at = $6, origin = $7, metadata = $8, updated_at = $9
			WHERE id = $10`,
			string(item.Category), item.Score, item.Level.String(), string(item.TimeWindow), item.Timestamp,
			nullableTime(item.ExpiresAt), nullableString(string(item.Origin())), nullableBytes(meta),
			item.UpdatedAt, item.ID,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to update context item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// GetContextItem retrieves an item by ID.
func (s *Store) GetContextItem(ctx context.Context, id string) (*types.ContextItem, error) {
	return s.queryContextItem(ctx, "SELECT "+contextColumns+" FROM context_items WHERE id = $1", id)
}

// FindCurrentState returns the owner's current-state item.
func (s *Store) FindCurrentState(ctx context.Context, ownerID string) (*types.ContextItem, error) {
	return s.queryContextItem(ctx, `
		SELECT `+contextColumns+`
		FROM context_items
		WHERE owner_id = $1 AND category = $2
		ORDER BY updated_at DESC
		LIMIT 1`,
		ownerID, string(types.CategoryCurrentState),
	)
}

func (s *Store) queryContextItem(ctx context.Context, query string, args ...any) (*types.ContextItem, error) {
	var item *types.ContextItem
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		item, err = scanContextItem(s.db.QueryRowContext(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListContextItems returns an owner's items, newest first.
func (s *Store) ListContextItems(ctx context.Context, ownerID string, filter storage.ContextFilter) ([]*types.ContextItem, error) {
	filter.Normalize()

	categories := make([]string, len(filter.Categories))
	for i, c := range filter.Categories {
		categories[i] = string(c)
	}
	var notExpiredAt sql.NullTime
	if !filter.NotExpiredAt.IsZero() {
		notExpiredAt = sql.NullTime{Time: filter.NotExpiredAt, Valid: true}
	}

	var items []*types.ContextItem
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+contextColumns+`
			FROM context_items
			WHERE owner_id = $1
			  AND (cardinality($2::text[]) = 0 OR category = ANY($2))
			  AND ($3::timestamptz IS NULL OR expires_at IS NULL OR expires_at >= $3)
			ORDER BY timestamp DESC, id
			LIMIT $4`,
			ownerID, pq.Array(categories), notExpiredAt, filter.Limit,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to query context items: %w", err)
		}
		defer rows.Close()

		items = make([]*types.ContextItem, 0)
		for rows.Next() {
			item, err := scanContextItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteExpired removes the owner's items that expired before now.
func (s *Store) DeleteExpired(ctx context.Context, ownerID string, now time.Time) (int, error) {
	return s.deleteExpired(ctx,
		"DELETE FROM context_items WHERE owner_id = $1 AND expires_at IS NOT NULL AND expires_at < $2",
		ownerID, now)
}

// PurgeExpired removes expired items of every owner.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deleteExpired(ctx,
		"DELETE FROM context_items WHERE expires_at IS NOT NULL AND expires_at < $1",
		now)
}

func (s *Store) deleteExpired(ctx context.Context, query string, args ...any) (int, error) {
	var n int64
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("postgres: failed to delete expired context items: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func scanContextItem(row scanner) (*types.ContextItem, error) {
	var (
		item                  types.ContextItem
		category              string
		level, window, origin sql.NullString
		meta                  sql.NullString
		expires               sql.NullTime
	)
	err := row.Scan(&item.ID, &item.OwnerID, &category, &item.Score, &level, &window, &item.Timestamp,
		&expires, &origin, &meta, &item.SourceKey, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan context item: %w", err)
	}

	item.Category = types.Category(category)
	if l, err := types.ParseRelevanceLevel(level.String); err == nil {
		item.Level = l
	}
	item.TimeWindow = types.TimeWindow(window.String)
	item.Timestamp = item.Timestamp.UTC()
	item.ExpiresAt = timeFromNull(expires)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()

	if meta.Valid {
		item.Payload, err = types.DecodeContextPayload(types.Origin(origin.String), []byte(meta.String))
		if err != nil {
			return nil, err
		}
	}
	return &item, nil
}
