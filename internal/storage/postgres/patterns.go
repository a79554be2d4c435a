package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

const patternColumns = `id, owner_id, kind, recurrence, subtype, name, description, confidence,
	sample_count, metadata, active, created_at, updated_at, last_observed_at`

// FindActivePattern returns the active pattern for key.
func (s *Store) FindActivePattern(ctx context.Context, key types.PatternKey) (*types.Pattern, error) {
	var p *types.Pattern
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+patternColumns+`
			FROM patterns
			WHERE owner_id = $1 AND kind = $2 AND recurrence = $3 AND subtype = $4 AND active`,
			key.OwnerID, string(key.Kind), string(key.Recurrence), key.Subtype,
		)
		var err error
		p, err = scanPattern(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertPattern creates a new pattern.
func (s *Store) InsertPattern(ctx context.Context, p *types.Pattern) error {
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
		return fmt.Errorf("postgres: failed to marshal pattern metadata: %w", err)
	}

	return s.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO patterns (`+patternColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			p.ID, p.OwnerID, string(p.Kind), string(p.Recurrence), p.Subtype, p.Name, nullableString(p.Description),
			p.Confidence, p.SampleCount, nullableBytes(meta), p.Active, p.CreatedAt, p.UpdatedAt,
			nullableTime(&p.LastObservedAt),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert pattern: %w", err)
		}
		return nil
	})
}

// UpdatePattern applies patch to the owner's active pattern id.
func (s *Store) UpdatePattern(ctx context.Context, id, ownerID string, patch types.PatternPatch) (*types.Pattern, error) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
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
			return nil, fmt.Errorf("postgres: failed to marshal pattern metadata: %w", err)
		}
		add("metadata", nullableBytes(meta))
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.LastObservedAt != nil {
		add("last_observed_at", nullableTime(patch.LastObservedAt))
	}

	args = append(args, id, ownerID)
	query := fmt.Sprintf(`
		UPDATE patterns SET %s
		WHERE id = $%d AND owner_id = $%d AND active
		RETURNING `+patternColumns,
		strings.Join(sets, ", "), len(args)-1, len(args))

	var p *types.Pattern
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = scanPattern(s.db.QueryRowContext(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPattern writes pattern as the active pattern for its key in one
// INSERT ... ON CONFLICT statement against the partial unique index.
func (s *Store) UpsertPattern(ctx context.Context, pattern *types.Pattern) (*storage.UpsertResult, error) {
	if pattern == nil || pattern.OwnerID == "" || !pattern.Kind.IsValid() || !pattern.Recurrence.IsValid() {
		return nil, fmt.Errorf("%w: pattern owner, kind and recurrence are required", storage.ErrInvalidInput)
	}
	meta, err := types.EncodePatternMetadata(pattern.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal pattern metadata: %w", err)
	}

	now := time.Now().UTC()
	pattern.Active = true
	newID := uuid.NewString()

	result := &storage.UpsertResult{Pattern: pattern}
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		var previous sql.NullFloat64
		err := s.db.QueryRowContext(ctx, `
			WITH prev AS (
				SELECT confidence FROM patterns
				WHERE owner_id = $2 AND kind = $3 AND recurrence = $4 AND subtype = $5 AND active
			)
			INSERT INTO patterns (`+patternColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $11, $12)
			ON CONFLICT (owner_id, kind, recurrence, subtype) WHERE active
			DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				confidence = EXCLUDED.confidence,
				sample_count = EXCLUDED.sample_count,
				metadata = EXCLUDED.metadata,
				updated_at = EXCLUDED.updated_at,
				last_observed_at = EXCLUDED.last_observed_at
			RETURNING id, created_at, updated_at, (xmax = 0), (SELECT confidence FROM prev)`,
			newID, pattern.OwnerID, string(pattern.Kind), string(pattern.Recurrence), pattern.Subtype,
			pattern.Name, nullableString(pattern.Description), pattern.Confidence, pattern.SampleCount,
			nullableBytes(meta), now, nullableTime(&pattern.LastObservedAt),
		).Scan(&pattern.ID, &pattern.CreatedAt, &pattern.UpdatedAt, &result.Created, &previous)
		if err != nil {
			return fmt.Errorf("postgres: failed to upsert pattern: %w", err)
		}
		if !result.Created {
			result.PreviousConfidence = previous.Float64
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pattern.CreatedAt = pattern.CreatedAt.UTC()
	pattern.UpdatedAt = pattern.UpdatedAt.UTC()
	return result, nil
}

// DeactivatePattern soft-deletes the owner's active pattern id.
func (s *Store) DeactivatePattern(ctx context.Context, id, ownerID string) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE patterns SET active = FALSE, updated_at = NOW() WHERE id = $1 AND owner_id = $2 AND active",
			id, ownerID,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to deactivate pattern: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// ListPatterns returns patterns matching query, highest confidence first.
func (s *Store) ListPatterns(ctx context.Context, query storage.PatternQuery) ([]*types.Pattern, error) {
	query.Normalize()

	kinds := make([]string, len(query.Kinds))
	for i, k := range query.Kinds {
		kinds[i] = string(k)
	}
	recurrences := make([]string, len(query.RecurrenceClasses))
	for i, r := range query.RecurrenceClasses {
		recurrences[i] = string(r)
	}
	var active sql.NullBool
	if query.Active != nil {
		active = sql.NullBool{Bool: *query.Active, Valid: true}
	}

	var patterns []*types.Pattern
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+patternColumns+`
			FROM patterns
			WHERE owner_id = $1
			  AND (cardinality($2::text[]) = 0 OR kind = ANY($2))
			  AND (cardinality($3::text[]) = 0 OR recurrence = ANY($3))
			  AND confidence >= $4
			  AND ($5::boolean IS NULL OR active = $5)
			ORDER BY confidence DESC, updated_at DESC, id
			LIMIT $6 OFFSET $7`,
			query.OwnerID, pq.Array(kinds), pq.Array(recurrences), query.MinConfidence, active,
			query.Limit, query.Offset,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to query patterns: %w", err)
		}
		defer rows.Close()

		patterns = make([]*types.Pattern, 0)
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return err
			}
			patterns = append(patterns, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// PatternStats summarizes the owner's active patterns.
func (s *Store) PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error) {
	var patterns []*types.Pattern
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+patternColumns+" FROM patterns WHERE owner_id = $1 AND active", ownerID)
		if err != nil {
			return fmt.Errorf("postgres: failed to query patterns: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return err
			}
			patterns = append(patterns, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return storage.ComputePatternStats(patterns), nil
}

func scanPattern(row scanner) (*types.Pattern, error) {
	var (
		p                 types.Pattern
		kind, recurrence  string
		description, meta sql.NullString
		lastObserved      sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OwnerID, &kind, &recurrence, &p.Subtype, &p.Name, &description,
		&p.Confidence, &p.SampleCount, &meta, &p.Active, &p.CreatedAt, &p.UpdatedAt, &lastObserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan pattern: %w", err)
	}

	p.Kind = types.PatternKind(kind)
	p.Recurrence = types.RecurrenceClass(recurrence)
	p.Description = description.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
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
