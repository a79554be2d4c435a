package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

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
		return fmt.Errorf("failed to marshal context payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	item.UpdatedAt = now

	if item.SourceKey != "" {
		var (
			id      string
			created int64
		)
		err := tx.QueryRowContext(ctx,
			"SELECT id, created_at FROM context_items WHERE owner_id = ? AND source_key = ?",
			item.OwnerID, item.SourceKey,
		).Scan(&id, &created)
		switch {
		case err == nil:
			item.ID = id
			item.CreatedAt = fromMillis(created)
			if err := updateContextItem(ctx, tx, item, meta); err != nil {
				return err
			}
			return tx.Commit()
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up context source: %w", err)
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO context_items (`+contextColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OwnerID, string(item.Category), item.Score, item.Level.String(), string(item.TimeWindow),
		toMillis(item.Timestamp), nullableMillis(item.ExpiresAt), nullableString(string(item.Origin())),
		nullableBytes(meta), item.SourceKey, toMillis(item.CreatedAt), toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert context item: %w", err)
	}
	return tx.Commit()
}

// UpdateContextItem overwrites a stored item.
func (s *Store) UpdateContextItem(ctx context.Context, item *types.ContextItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: context item ID is required", storage.ErrInvalidInput)
	}
	meta, err := types.EncodeContextPayload(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal context payload: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()
	return updateContextItem(ctx, s.db, item, meta)
}

func updateContextItem(ctx context.Context, q queryer, item *types.ContextItem, meta []byte) error {
	res, err := q.ExecContext(ctx, `
		UPDATE context_items
		SET category = ?, relevance_score = ?, relevance_level = ?, time_window = ?, timestamp = ?,
			expires_at = ?, origin = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		string(item.Category), item.Score, item.Level.String(), string(item.TimeWindow), toMillis(item.Timestamp),
		nullableMillis(item.ExpiresAt), nullableString(string(item.Origin())), nullableBytes(meta),
		toMillis(item.UpdatedAt), item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update context item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetContextItem retrieves an item by ID.
func (s *Store) GetContextItem(ctx context.Context, id string) (*types.ContextItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+contextColumns+" FROM context_items WHERE id = ?", id)
	item, err := scanContextItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return item, err
}

// FindCurrentState returns the owner's current-state item.
func (s *Store) FindCurrentState(ctx context.Context, ownerID string) (*types.ContextItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contextColumns+`
		FROM context_items
		WHERE owner_id = ? AND category = ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		ownerID, string(types.CategoryCurrentState),
	)
	item, err := scanContextItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return item, err
}

// ListContextItems returns an owner's items, newest first.
func (s *Store) ListContextItems(ctx context.Context, ownerID string, filter storage.ContextFilter) ([]*types.ContextItem, error) {
	filter.Normalize()

	where := []string{"owner_id = ?"}
	args := []any{ownerID}
	if len(filter.Categories) > 0 {
		where = append(where, "category IN ("+placeholders(len(filter.Categories))+")")
		for _, c := range filter.Categories {
			args = append(args, string(c))
		}
	}
	if !filter.NotExpiredAt.IsZero() {
		where = append(where, "(expires_at IS NULL OR expires_at >= ?)")
		args = append(args, toMillis(filter.NotExpiredAt))
	}
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contextColumns+`
		FROM context_items
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY timestamp DESC, id
		LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query context items: %w", err)
	}
	defer rows.Close()

	items := make([]*types.ContextItem, 0)
	for rows.Next() {
		item, err := scanContextItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteExpired removes the owner's items that expired before now.
func (s *Store) DeleteExpired(ctx context.Context, ownerID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM context_items WHERE owner_id = ? AND expires_at IS NOT NULL AND expires_at < ?",
		ownerID, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired context items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeExpired removes expired items of every owner.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM context_items WHERE expires_at IS NOT NULL AND expires_at < ?",
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired context items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanContextItem(row scanner) (*types.ContextItem, error) {
	var (
		item                  types.ContextItem
		category              string
		level, window, origin sql.NullString
		meta                  sql.NullString
		timestamp             int64
		expires               sql.NullInt64
		created, updated      int64
	)
	err := row.Scan(&item.ID, &item.OwnerID, &category, &item.Score, &level, &window, &timestamp,
		&expires, &origin, &meta, &item.SourceKey, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan context item: %w", err)
	}

	item.Category = types.Category(category)
	if l, err := types.ParseRelevanceLevel(level.String); err == nil {
		item.Level = l
	}
	item.TimeWindow = types.TimeWindow(window.String)
	item.Timestamp = fromMillis(timestamp)
	item.ExpiresAt = timeFromNull(expires)
	item.CreatedAt = fromMillis(created)
	item.UpdatedAt = fromMillis(updated)

	if meta.Valid {
		item.Payload, err = types.DecodeContextPayload(types.Origin(origin.String), []byte(meta.String))
		if err != nil {
			return nil, err
		}
	}
	return &item, nil
}
