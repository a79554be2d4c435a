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

const patternColumns = `id, owner_id, kind, recurrence, subtype, name, description, confidence,
	sample_count, metadata, active, created_at, updated_at, last_observed_at`

// FindActivePattern returns the active pattern for key.
func (s *Store) FindActivePattern(ctx context.Context, key types.PatternKey) (*types.Pattern, error) {
	return findActivePattern(ctx, s.db, key)
}

func findActivePattern(ctx context.Context, q queryer, key types.PatternKey) (*types.Pattern, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE owner_id = ? AND kind = ? AND recurrence = ? AND subtype = ? AND active = 1`,
		key.OwnerID, string(key.Kind), string(key.Recurrence), key.Subtype,
	)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

// InsertPattern creates a new pattern.
func (s *Store) InsertPattern(ctx context.Context, pattern *types.Pattern) error {
	return insertPattern(ctx, s.db, pattern)
}

func insertPattern(ctx context.Context, q queryer, p *types.Pattern) error {
	if p == nil || p.OwnerID == "" || !p.Kind.IsValid() || !p.Recurrence.IsValid() {
		return fmt.Errorf("%w: pattern owner, kind and recurrence are required", storage.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	meta, err := types.EncodePatternMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, string(p.Kind), string(p.Recurrence), p.Subtype, p.Name, nullableString(p.Description),
		p.Confidence, p.SampleCount, nullableBytes(meta), boolToInt(p.Active),
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt), nullableMillis(&p.LastObservedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pattern: %w", err)
	}
	return nil
}

// UpdatePattern applies patch to the owner's active pattern id.
func (s *Store) UpdatePattern(ctx context.Context, id, ownerID string, patch types.PatternPatch) (*types.Pattern, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(time.Now().UTC())}

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", nullableString(*patch.Description))
	}
	if patch.Recurrence != nil {
		add("recurrence", string(*patch.Recurrence))
	}
	if patch.Confidence != nil {
		add("confidence", *patch.Confidence)
	}
	if patch.SampleCount != nil {
		add("sample_count", *patch.SampleCount)
	}
	if patch.Metadata != nil {
		meta, err := types.EncodePatternMetadata(patch.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pattern metadata: %w", err)
		}
		add("metadata", nullableBytes(meta))
	}
	if patch.Active != nil {
		add("active", boolToInt(*patch.Active))
	}
	if patch.LastObservedAt != nil {
		add("last_observed_at", nullableMillis(patch.LastObservedAt))
	}

	args = append(args, id, ownerID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE patterns SET "+strings.Join(sets, ", ")+" WHERE id = ? AND owner_id = ? AND active = 1",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrNotFound
	}

	return s.getPattern(ctx, id)
}

// UpsertPattern writes pattern as the active pattern for its key inside one
// transaction. The single SQLite connection serialises concurrent upserts.
func (s *Store) UpsertPattern(ctx context.Context, pattern *types.Pattern) (*storage.UpsertResult, error) {
	if pattern == nil {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pattern.Active = true
	result := &storage.UpsertResult{Pattern: pattern}

	existing, err := findActivePattern(ctx, tx, pattern.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pattern.ID = ""
		pattern.CreatedAt = time.Time{}
		pattern.UpdatedAt = time.Time{}
		if err := insertPattern(ctx, tx, pattern); err != nil {
			return nil, err
		}
		result.Created = true

	case err != nil:
		return nil, err

	default:
		meta, err := types.EncodePatternMetadata(pattern.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pattern metadata: %w", err)
		}
		pattern.ID = existing.ID
		pattern.CreatedAt = existing.CreatedAt
		pattern.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE patterns
			SET name = ?, description = ?, confidence = ?, sample_count = ?, metadata = ?,
				updated_at = ?, last_observed_at = ?
			WHERE id = ?`,
			pattern.Name, nullableString(pattern.Description), pattern.Confidence, pattern.SampleCount,
			nullableBytes(meta), toMillis(pattern.UpdatedAt), nullableMillis(&pattern.LastObservedAt), pattern.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update pattern: %w", err)
		}
		result.PreviousConfidence = existing.Confidence
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pattern upsert: %w", err)
	}
	return result, nil
}

// DeactivatePattern soft-deletes the owner's active pattern id.
func (s *Store) DeactivatePattern(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE patterns SET active = 0, updated_at = ? WHERE id = ? AND owner_id = ? AND active = 1",
		toMillis(time.Now().UTC()), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPatterns returns patterns matching query, highest confidence first.
func (s *Store) ListPatterns(ctx context.Context, query storage.PatternQuery) ([]*types.Pattern, error) {
	query.Normalize()

	where := []string{"owner_id = ?"}
	args := []any{query.OwnerID}

	if len(query.Kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(query.Kinds))+")")
		for _, k := range query.Kinds {
			args = append(args, string(k))
		}
	}
	if len(query.RecurrenceClasses) > 0 {
		where = append(where, "recurrence IN ("+placeholders(len(query.RecurrenceClasses))+")")
		for _, r := range query.RecurrenceClasses {
			args = append(args, string(r))
		}
	}
	if query.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, query.MinConfidence)
	}
	if query.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolToInt(*query.Active))
	}
	args = append(args, query.Limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY confidence DESC, updated_at DESC, id
		LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]*types.Pattern, 0)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// PatternStats summarizes the owner's active patterns.
func (s *Store) PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE owner_id = ? AND active = 1`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.ComputePatternStats(patterns), nil
}

func (s *Store) getPattern(ctx context.Context, id string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+patternColumns+" FROM patterns WHERE id = ?", id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func scanPattern(row scanner) (*types.Pattern, error) {
	var (
		p                 types.Pattern
		kind, recurrence  string
		description, meta sql.NullString
		active            int
		created, updated  int64
		lastObserved      sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.OwnerID, &kind, &recurrence, &p.Subtype, &p.Name, &description,
		&p.Confidence, &p.SampleCount, &meta, &active, &created, &updated, &lastObserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	p.Kind = types.PatternKind(kind)
	p.Recurrence = types.RecurrenceClass(recurrence)
	p.Description = description.String
	p.Active = active == 1
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	if t := timeFromNull(lastObserved); t != nil {
		p.LastObservedAt = *t
	}

	if meta.Valid {
		p.Metadata, err = types.DecodePatternMetadata(p.Kind, []byte(meta.String))
		if err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
