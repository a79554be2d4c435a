package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/scrypster/cadence/pkg/types"
)

// DefaultQueryLimit is used when a query asks for limit 0.
const DefaultQueryLimit = 10

// QueryExplanation says why an item ranked where it did.
type QueryExplanation struct {
	MatchedKeywords []string       `json:"matched_keywords"`
	MissingKeywords []string       `json:"missing_keywords"`
	Factors         []Contribution `json:"factors"`
}

// QueryMatch is one ranked context item.
type QueryMatch struct {
	Item        *types.ContextItem `json:"item"`
	Score       float64            `json:"score"`
	Explanation QueryExplanation   `json:"explanation"`
}

// ContextQuery ranks an owner's fresh context against keywords.
type ContextQuery struct {
	aggregator *ContextAggregator
}

// NewContextQuery creates a query engine on top of aggregator.
func NewContextQuery(aggregator *ContextAggregator) *ContextQuery {
	return &ContextQuery{aggregator: aggregator}
}

// QueryContext aggregates the owner's context, then scores each item by the
// weighted mean of its keyword match fraction and its stored relevance score.
// Keywords match as case-insensitive substrings of the item's payload text.
// With no keywords, items rank by stored relevance alone.
func (q *ContextQuery) QueryContext(ctx context.Context, ownerID string, keywords []string, limit int) ([]*QueryMatch, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, invalid("limit", "must be >= 0")
	}
	if limit == 0 {
		limit = DefaultQueryLimit
	}

	view, err := q.aggregator.AggregateContext(ctx, ownerID, AggregateOptions{IncludeMemories: true, IncludePatterns: true})
	if err != nil {
		return nil, err
	}

	keywords = normalizeKeywords(keywords)
	model := q.aggregator.Model()

	matches := make([]*QueryMatch, 0, len(view.Items))
	for _, item := range view.Items {
		text := string(item.Category)
		if item.Payload != nil {
			text = item.Payload.SearchText() + " " + text
		}

		explanation := QueryExplanation{MatchedKeywords: []string{}, MissingKeywords: []string{}}
		for _, k := range keywords {
			if strings.Contains(text, k) {
				explanation.MatchedKeywords = append(explanation.MatchedKeywords, k)
			} else {
				explanation.MissingKeywords = append(explanation.MissingKeywords, k)
			}
		}

		factors := Factors{FactorStored: item.Score}
		if len(keywords) > 0 {
			factors[FactorTextMatch] = float64(len(explanation.MatchedKeywords)) / float64(len(keywords))
		}
		explanation.Factors = model.Contributions(factors)

		matches = append(matches, &QueryMatch{
			Item:        item,
			Score:       model.Score(factors),
			Explanation: explanation,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Item.Score > matches[j].Item.Score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
