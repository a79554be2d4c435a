package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// PutMemory stores a memory.
func (s *Store) PutMemory(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.OwnerID == "" {
		return fmt.Errorf("%w: memory owner is required", storage.ErrInvalidInput)
	}
	if memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}

	var tagsJSON []byte
	if len(memory.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(memory.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, content, summary, tags, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.OwnerID, memory.Content, nullableString(memory.Summary),
		nullableBytes(tagsJSON), memory.Importance, toMillis(memory.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// SearchMemories returns an owner's memories, most important and most recent
// first.
func (s *Store) SearchMemories(ctx context.Context, ownerID string, filter storage.MemoryFilter) (*storage.PaginatedResult[*types.Memory], error) {
	filter.Normalize()

	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if q := strings.TrimSpace(filter.Query); q != "" {
		like := likePattern(q)
		where = append(where, `(LOWER(content) LIKE ? ESCAPE '\' OR LOWER(COALESCE(summary, '')) LIKE ? ESCAPE '\' OR LOWER(COALESCE(tags, '')) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	if filter.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, filter.MinImportance)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE "+whereSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, content, summary, tags, importance, created_at
		FROM memories
		WHERE `+whereSQL+`
		ORDER BY importance DESC, created_at DESC, id
		LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	items := make([]*types.Memory, 0)
	for rows.Next() {
		var (
			m             types.Memory
			summary, tags sql.NullString
			created       int64
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Content, &summary, &tags, &m.Importance, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.Summary = summary.String
		m.CreatedAt = fromMillis(created)
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
			}
		}
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[*types.Memory]{
		Items:   items,
		Total:   total,
		HasMore: filter.Offset+len(items) < total,
	}, nil
}
