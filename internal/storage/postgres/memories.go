package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

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
	tags := memory.Tags
	if tags == nil {
		tags = []string{}
	}

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (id, owner_id, content, summary, tags, importance, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			memory.ID, memory.OwnerID, memory.Content, nullableString(memory.Summary),
			pq.Array(tags), memory.Importance, memory.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert memory: %w", err)
		}
		return nil
	})
}

// SearchMemories returns an owner's memories, most important and most recent
// first.
func (s *Store) SearchMemories(ctx context.Context, ownerID string, filter storage.MemoryFilter) (*storage.PaginatedResult[*types.Memory], error) {
	filter.Normalize()

	var like string
	if q := strings.TrimSpace(filter.Query); q != "" {
		r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
		like = "%" + r.Replace(q) + "%"
	}
	var since sql.NullTime
	if !filter.Since.IsZero() {
		since = sql.NullTime{Time: filter.Since, Valid: true}
	}

	const where = `
		WHERE owner_id = $1
		  AND ($2 = '' OR content ILIKE $2 OR COALESCE(summary, '') ILIKE $2 OR array_to_string(tags, ' ') ILIKE $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND importance >= $4`
	args := []any{ownerID, like, since, filter.MinImportance}

	result := &storage.PaginatedResult[*types.Memory]{Items: make([]*types.Memory, 0)}
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories"+where, args...).Scan(&result.Total); err != nil {
			return fmt.Errorf("postgres: failed to count memories: %w", err)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, content, summary, tags, importance, created_at
			FROM memories`+where+`
			ORDER BY importance DESC, created_at DESC, id
			LIMIT $5 OFFSET $6`,
			append(args, filter.Limit, filter.Offset)...,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to query memories: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				m       types.Memory
				summary sql.NullString
				tags    []string
			)
			if err := rows.Scan(&m.ID, &m.OwnerID, &m.Content, &summary, pq.Array(&tags), &m.Importance, &m.CreatedAt); err != nil {
				return fmt.Errorf("postgres: failed to scan memory: %w", err)
			}
			m.Summary = summary.String
			m.CreatedAt = m.CreatedAt.UTC()
			if len(tags) > 0 {
				m.Tags = tags
			}
			result.Items = append(result.Items, &m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	result.HasMore = filter.Offset+len(result.Items) < result.Total
	return result, nil
}
