package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// Source keys identify the signal a context item was built from, so that a
// signal has at most one stored item per owner.
const (
	stateSourceKey      = "state"
	memorySourcePrefix  = "memory:"
	patternSourcePrefix = "pattern:"
)

// primaryActivityMaxLen bounds the summary's primary activity text.
const primaryActivityMaxLen = 120

// AggregateOptions selects the sources pulled into an aggregation. An
// excluded source is neither wrapped afresh nor re-read from stored items.
type AggregateOptions struct {
	IncludeMemories bool
	IncludePatterns bool

	// MinRelevance drops items below this level when set.
	MinRelevance *types.RelevanceLevel
}

// ContextItemInput describes a context item created directly by a caller.
type ContextItemInput struct {
	OwnerID  string               `json:"owner_id"`
	Category types.Category       `json:"category"`
	Payload  types.ContextPayload `json:"-"`

	// Timestamp anchors the item; zero means now.
	Timestamp time.Time `json:"timestamp"`

	// Score overrides the recency score of Timestamp.
	Score *float64 `json:"relevance_score,omitempty"`

	// ExpiresAt overrides the category's default expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	SourceKey string `json:"source_key,omitempty"`
}

// ContextAggregator builds an owner's context view from memories, patterns
// and stored context items.
type ContextAggregator struct {
	memories storage.MemoryStore
	patterns storage.PatternStore
	items    storage.ContextStore
	model    *RelevanceModel
	insights InsightConfig
	cfg      AggregationConfig
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewContextAggregator creates an aggregator.
func NewContextAggregator(memories storage.MemoryStore, patterns storage.PatternStore, items storage.ContextStore, cfg Config, logger logrus.FieldLogger) *ContextAggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ContextAggregator{
		memories: memories,
		patterns: patterns,
		items:    items,
		model:    NewRelevanceModel(cfg.Relevance),
		insights: cfg.Detection.Insights,
		cfg:      cfg.Aggregation,
		logger:   logger.WithField("component", "context_aggregator"),
		now:      time.Now,
	}
}

// Model returns the relevance model used for scoring.
func (a *ContextAggregator) Model() *RelevanceModel {
	return a.model
}

// AggregateContext sweeps expired items, wraps fresh memory and pattern
// signals as context items, merges them with the owner's other live items
// and summarizes the result. Items are ordered by score, highest first.
// Stored pattern items whose pattern is no longer active are left out.
func (a *ContextAggregator) AggregateContext(ctx context.Context, ownerID string, opts AggregateOptions) (*types.AggregatedContext, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	now := a.now()

	expired, err := a.items.DeleteExpired(ctx, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired context: %w", err)
	}

	fresh := make([]*types.ContextItem, 0)
	activePatterns := make(map[string]bool)
	if opts.IncludeMemories && a.cfg.MemoryLimit > 0 {
		items, err := a.memoryItems(ctx, ownerID, now)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, items...)
	}
	if opts.IncludePatterns && a.cfg.PatternLimit > 0 {
		items, err := a.patternItems(ctx, ownerID, now)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			activePatterns[patternID(item)] = true
		}
		fresh = append(fresh, items...)
	}

	seen := make(map[string]bool, len(fresh))
	for _, item := range fresh {
		seen[item.ID] = true
	}

	stored, err := a.items.ListContextItems(ctx, ownerID, storage.ContextFilter{NotExpiredAt: now, Limit: a.cfg.ItemLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list context items: %w", err)
	}

	merged := fresh
	for _, item := range stored {
		if seen[item.ID] || item.IsExpired(now) {
			continue
		}
		switch item.Origin() {
		case types.OriginMemory:
			if !opts.IncludeMemories {
				continue
			}
		case types.OriginPattern:
			// Every active pattern was wrapped fresh above, so an unseen
			// pattern item belongs to a deactivated or superseded pattern.
			if !opts.IncludePatterns || !activePatterns[patternID(item)] {
				continue
			}
		}
		a.refresh(item, now)
		merged = append(merged, item)
	}

	if opts.MinRelevance != nil {
		kept := merged[:0]
		for _, item := range merged {
			if item.Level >= *opts.MinRelevance {
				kept = append(kept, item)
			}
		}
		merged = kept
	}

	sortItems(merged)

	a.logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"expired":  expired,
		"fresh":    len(fresh),
		"items":    len(merged),
	}).Debug("context aggregated")

	return &types.AggregatedContext{
		OwnerID:     ownerID,
		GeneratedAt: now,
		Items:       merged,
		Summary:     a.summarize(merged),
	}, nil
}

func (a *ContextAggregator) memoryItems(ctx context.Context, ownerID string, now time.Time) ([]*types.ContextItem, error) {
	res, err := a.memories.SearchMemories(ctx, ownerID, storage.MemoryFilter{Limit: a.cfg.MemoryLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	out := make([]*types.ContextItem, 0, len(res.Items))
	for _, m := range res.Items {
		item := a.newItem(ownerID, types.CategoryRecentActivity, m.CreatedAt, now,
			Factors{FactorRecency: a.model.RecencyScore(m.CreatedAt, now)})
		item.SourceKey = memorySourcePrefix + m.ID
		item.Payload = types.MemoryPayload{
			MemoryID:   m.ID,
			Content:    m.Content,
			Summary:    m.Summary,
			Tags:       m.Tags,
			Importance: m.Importance,
			CreatedAt:  m.CreatedAt,
		}
		if err := a.items.InsertContextItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to store memory context: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (a *ContextAggregator) patternItems(ctx context.Context, ownerID string, now time.Time) ([]*types.ContextItem, error) {
	active := true
	patterns, err := a.patterns.ListPatterns(ctx, storage.PatternQuery{OwnerID: ownerID, Active: &active, Limit: a.cfg.PatternLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	out := make([]*types.ContextItem, 0, len(patterns))
	for _, p := range patterns {
		anchor := p.LastObservedAt
		if anchor.IsZero() {
			anchor = p.UpdatedAt
		}
		item := a.newItem(ownerID, types.CategoryPatterns, anchor, now, Factors{
			FactorConfidence: p.Confidence,
			FactorRecency:    a.model.RecencyScore(anchor, now),
		})
		item.SourceKey = patternSourcePrefix + p.ID
		item.Payload = types.PatternPayload{
			PatternID:   p.ID,
			Kind:        p.Kind,
			Recurrence:  p.Recurrence,
			Subtype:     p.Subtype,
			Name:        p.Name,
			Description: p.Description,
			Confidence:  p.Confidence,
			Insights:    a.insights.PatternInsights(p, nil),
		}
		if err := a.items.InsertContextItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to store pattern context: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func patternID(item *types.ContextItem) string {
	if p, ok := item.Payload.(types.PatternPayload); ok {
		return p.PatternID
	}
	return ""
}

func (a *ContextAggregator) newItem(ownerID string, category types.Category, anchor, now time.Time, factors Factors) *types.ContextItem {
	score := a.model.Score(factors)
	expires := a.model.Expiry(category, now)
	return &types.ContextItem{
		OwnerID:    ownerID,
		Category:   category,
		Score:      score,
		Level:      a.model.Level(score),
		TimeWindow: a.model.Window(anchor, now),
		Timestamp:  anchor,
		ExpiresAt:  &expires,
	}
}

// refresh rederives the level and time window of a stored item.
func (a *ContextAggregator) refresh(item *types.ContextItem, now time.Time) {
	item.Level = a.model.Level(item.Score)
	item.TimeWindow = a.model.Window(item.Timestamp, now)
}

func (a *ContextAggregator) summarize(items []*types.ContextItem) types.ContextSummary {
	summary := types.ContextSummary{KeyInsights: []string{}}
	seen := make(map[string]bool)

	for _, item := range items {
		if item.Payload == nil {
			continue
		}
		if summary.PrimaryActivity == "" &&
			(item.Category == types.CategoryCurrentState || item.Category == types.CategoryRecentActivity) {
			summary.PrimaryActivity = truncate(item.Payload.Describe(), primaryActivityMaxLen)
		}
		if item.Origin() == types.OriginPattern {
			summary.ActiveGoalCount++
		}
		for _, text := range item.Payload.InsightTexts() {
			if text == "" || seen[text] || len(summary.KeyInsights) >= a.cfg.MaxInsights {
				continue
			}
			seen[text] = true
			summary.KeyInsights = append(summary.KeyInsights, text)
		}
	}

	return summary
}

// UpdateCurrentState overwrites the owner's singleton current-state item, or
// creates it. Current state always scores 1.0 and refreshes its expiry.
func (a *ContextAggregator) UpdateCurrentState(ctx context.Context, ownerID string, fields types.StateFields) (*types.ContextItem, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	if fields.IsEmpty() {
		return nil, invalid("state", "at least one field is required")
	}
	now := a.now()
	expires := a.model.Expiry(types.CategoryCurrentState, now)

	item, err := a.items.FindCurrentState(ctx, ownerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		item = &types.ContextItem{
			OwnerID:   ownerID,
			Category:  types.CategoryCurrentState,
			SourceKey: stateSourceKey,
		}
		a.applyState(item, fields, now, expires)
		if err := a.items.InsertContextItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to store current state: %w", err)
		}
		return item, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find current state: %w", err)
	}

	a.applyState(item, fields, now, expires)
	if err := a.items.UpdateContextItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update current state: %w", err)
	}
	return item, nil
}

func (a *ContextAggregator) applyState(item *types.ContextItem, fields types.StateFields, now, expires time.Time) {
	item.Payload = types.StatePayload{StateFields: fields}
	item.Score = 1.0
	item.Level = types.LevelCritical
	item.TimeWindow = types.WindowNow
	item.Timestamp = now
	item.ExpiresAt = &expires
}

// CreateContextItem scores and stores a caller-supplied item.
func (a *ContextAggregator) CreateContextItem(ctx context.Context, input ContextItemInput) (*types.ContextItem, error) {
	if err := validateOwner(input.OwnerID); err != nil {
		return nil, err
	}
	if input.Category == "" {
		return nil, invalid("category", "must not be empty")
	}
	if input.Score != nil && (*input.Score < 0 || *input.Score > 1) {
		return nil, invalid("relevance_score", "must be within [0,1]")
	}
	now := a.now()

	anchor := input.Timestamp
	if anchor.IsZero() {
		anchor = now
	}

	item := a.newItem(input.OwnerID, input.Category, anchor, now,
		Factors{FactorRecency: a.model.RecencyScore(anchor, now)})
	if input.Score != nil {
		item.Score = *input.Score
		item.Level = a.model.Level(item.Score)
	}
	if input.ExpiresAt != nil {
		expires := *input.ExpiresAt
		item.ExpiresAt = &expires
	}
	item.Payload = input.Payload
	item.SourceKey = input.SourceKey

	if err := a.items.InsertContextItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to store context item: %w", err)
	}
	return item, nil
}

// GetContextItem returns a live item owned by ownerID.
// Returns storage.ErrNotFound when the item is missing, expired or owned by
// someone else.
func (a *ContextAggregator) GetContextItem(ctx context.Context, ownerID, id string) (*types.ContextItem, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalid("id", "must not be empty")
	}

	item, err := a.items.GetContextItem(ctx, id)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if item.OwnerID != ownerID || item.IsExpired(now) {
		return nil, storage.ErrNotFound
	}
	a.refresh(item, now)
	return item, nil
}

// CleanupExpiredContext deletes the owner's expired items.
func (a *ContextAggregator) CleanupExpiredContext(ctx context.Context, ownerID string) (int, error) {
	if err := validateOwner(ownerID); err != nil {
		return 0, err
	}
	n, err := a.items.DeleteExpired(ctx, ownerID, a.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired context: %w", err)
	}
	return n, nil
}

// sortItems orders by score, then newest timestamp, then ID.
func sortItems(items []*types.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}
