package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContextItem is a scored, decaying fact about an owner, retrievable by a
// conversational agent. Level is derived from Score and is never read back
// from storage authoritatively.
type ContextItem struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Category   Category       `json:"category"`
	Level      RelevanceLevel `json:"relevance_level"`
	Score      float64        `json:"relevance_score"`
	TimeWindow TimeWindow     `json:"time_window"`
	Timestamp  time.Time      `json:"timestamp"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Payload    ContextPayload `json:"-"`
	// SourceKey identifies the source signal; a live item per key per owner.
	SourceKey string    `json:"source_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Origin returns the origin tag of the payload, or "" when there is none.
func (c *ContextItem) Origin() Origin {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Origin()
}

// IsExpired reports whether the item has an expiry strictly before now.
func (c *ContextItem) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// MarshalJSON emits the payload under "metadata" with its origin tag.
func (c ContextItem) MarshalJSON() ([]byte, error) {
	type alias ContextItem
	return json.Marshal(struct {
		alias
		Origin   Origin         `json:"origin,omitempty"`
		Metadata ContextPayload `json:"metadata,omitempty"`
	}{alias: alias(c), Origin: c.Origin(), Metadata: c.Payload})
}

// ContextPayload is the origin-specific metadata of a ContextItem. It is a
// closed set: MemoryPayload, PatternPayload or StatePayload.
type ContextPayload interface {
	Origin() Origin
	// Describe returns a short human-readable description.
	Describe() string
	// SearchText flattens the payload into lowercase-matchable text.
	SearchText() string
	// InsightTexts returns insight sentences carried by the payload.
	InsightTexts() []string
}

// MemoryPayload references a memory pulled from the memory collaborator.
type MemoryPayload struct {
	MemoryID   string    `json:"memory_id"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// Origin implements ContextPayload.
func (MemoryPayload) Origin() Origin { return OriginMemory }

// Describe implements ContextPayload.
func (p MemoryPayload) Describe() string {
	if p.Summary != "" {
		return p.Summary
	}
	return p.Content
}

// SearchText implements ContextPayload.
func (p MemoryPayload) SearchText() string {
	return joinText(p.Content, p.Summary, strings.Join(p.Tags, " "))
}

// InsightTexts implements ContextPayload.
func (p MemoryPayload) InsightTexts() []string {
	if p.Summary == "" {
		return nil
	}
	return []string{p.Summary}
}

// PatternPayload references a detected pattern.
type PatternPayload struct {
	PatternID   string          `json:"pattern_id"`
	Kind        PatternKind     `json:"kind"`
	Recurrence  RecurrenceClass `json:"recurrence"`
	Subtype     string          `json:"subtype,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Insights    []string        `json:"insights,omitempty"`
}

// Origin implements ContextPayload.
func (PatternPayload) Origin() Origin { return OriginPattern }

// Describe implements ContextPayload.
func (p PatternPayload) Describe() string { return p.Name }

// SearchText implements ContextPayload.
func (p PatternPayload) SearchText() string {
	return joinText(p.Name, p.Description, string(p.Kind), string(p.Recurrence), p.Subtype, strings.Join(p.Insights, " "))
}

// InsightTexts implements ContextPayload.
func (p PatternPayload) InsightTexts() []string { return p.Insights }

// StateFields describe what the owner is doing right now.
type StateFields struct {
	Activity string            `json:"activity,omitempty"`
	Location string            `json:"location,omitempty"`
	Mood     string            `json:"mood,omitempty"`
	Energy   string            `json:"energy,omitempty"`
	Focus    string            `json:"focus,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// IsEmpty reports whether no field is set.
func (s StateFields) IsEmpty() bool {
	return s.Activity == "" && s.Location == "" && s.Mood == "" && s.Energy == "" && s.Focus == "" && len(s.Extra) == 0
}

// StatePayload is the singleton current-state payload.
type StatePayload struct {
	StateFields
}

// Origin implements ContextPayload.
func (StatePayload) Origin() Origin { return OriginState }

// Describe implements ContextPayload.
func (p StatePayload) Describe() string {
	switch {
	case p.Activity != "" && p.Location != "":
		return fmt.Sprintf("%s at %s", p.Activity, p.Location)
	case p.Activity != "":
		return p.Activity
	case p.Focus != "":
		return p.Focus
	case p.Mood != "":
		return "feeling " + p.Mood
	}
	return ""
}

// SearchText implements ContextPayload.
func (p StatePayload) SearchText() string {
	parts := []string{p.Activity, p.Location, p.Mood, p.Energy, p.Focus}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k, p.Extra[k])
	}
	return joinText(parts...)
}

// InsightTexts implements ContextPayload.
func (StatePayload) InsightTexts() []string { return nil }

// EncodeContextPayload serializes a payload for storage.
func EncodeContextPayload(p ContextPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodeContextPayload restores the payload variant selected by origin.
func DecodeContextPayload(origin Origin, data []byte) (ContextPayload, error) {
	if len(data) == 0 || origin == "" {
		return nil, nil
	}
	switch origin {
	case OriginMemory:
		var p MemoryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode memory payload: %w", err)
		}
		return p, nil
	case OriginPattern:
		var p PatternPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode pattern payload: %w", err)
		}
		return p, nil
	case OriginState:
		var p StatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode state payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown context origin %q", origin)
	}
}

// ContextSummary is derived from a list of context items.
type ContextSummary struct {
	PrimaryActivity string   `json:"primary_activity,omitempty"`
	ActiveGoalCount int      `json:"active_goal_count"`
	KeyInsights     []string `json:"key_insights"`
}

// AggregatedContext is a point-in-time, non-persistent view of an owner's
// live context items.
type AggregatedContext struct {
	OwnerID     string         `json:"owner_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Items       []*ContextItem `json:"items"`
	Summary     ContextSummary `json:"summary"`
}

func joinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return strings.ToLower(b.String())
}
