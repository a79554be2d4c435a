package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

func (s *Server) handleLogSleep(ctx context.Context, raw json.RawMessage) (any, error) {
	var args LogSleepArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	res, err := s.service.LogSleepWake(ctx, types.SleepWakeInput{
		OwnerID: owner,
		SleepAt: args.SleepAt,
		WakeAt:  args.WakeAt,
		Quality: args.Quality,
		Note:    args.Note,
	})
	if res == nil {
		return nil, err
	}
	return observationResult(res.Log, res.Patterns, err), nil
}

func (s *Server) handleLogActivity(ctx context.Context, raw json.RawMessage) (any, error) {
	var args LogActivityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	res, err := s.service.LogActivity(ctx, types.ActivityInput{
		OwnerID:   owner,
		Tag:       args.Tag,
		StartAt:   args.StartAt,
		EndAt:     args.EndAt,
		Location:  args.Location,
		Intensity: args.Intensity,
		Note:      args.Note,
	})
	if res == nil {
		return nil, err
	}
	return observationResult(res.Log, res.Patterns, err), nil
}

// observationResult reports a stored observation. A detection failure after
// the write does not fail the tool call.
func observationResult(log any, patterns []*engine.DetectionResult, detectErr error) *ObservationResult {
	if patterns == nil {
		patterns = []*engine.DetectionResult{}
	}
	out := &ObservationResult{Log: log, Patterns: patterns}
	if detectErr != nil {
		out.DetectionError = detectErr.Error()
	}
	return out
}

func (s *Server) handleRecordMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var args RecordMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	return s.service.RecordMemory(ctx, types.MemoryInput{
		OwnerID:    owner,
		Content:    args.Content,
		Summary:    args.Summary,
		Tags:       args.Tags,
		Importance: args.Importance,
	})
}

func (s *Server) handleDetectPatterns(ctx context.Context, raw json.RawMessage) (any, error) {
	var args DetectPatternsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	var results []*engine.DetectionResult
	switch args.Kind {
	case types.KindSleepWake:
		results, err = s.service.DetectSleepWakePatterns(ctx, owner)
	case types.KindActivity:
		results, err = s.service.DetectActivityPatterns(ctx, owner, args.Tag)
	default:
		return nil, fmt.Errorf("%w: kind must be %q or %q", storage.ErrInvalidInput, types.KindSleepWake, types.KindActivity)
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*engine.DetectionResult{}
	}
	return results, nil
}

func (s *Server) handleListPatterns(ctx context.Context, raw json.RawMessage) (any, error) {
	var args ListPatternsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	query := storage.PatternQuery{
		OwnerID:       owner,
		MinConfidence: args.MinConfidence,
		Limit:         args.Limit,
		Offset:        args.Offset,
	}
	for _, k := range args.Kinds {
		query.Kinds = append(query.Kinds, types.PatternKind(k))
	}
	for _, r := range args.Recurrence {
		query.RecurrenceClasses = append(query.RecurrenceClasses, types.RecurrenceClass(r))
	}
	if !args.IncludeInactive {
		active := true
		query.Active = &active
	}

	patterns, err := s.service.ListPatterns(ctx, query)
	if err != nil {
		return nil, err
	}
	if patterns == nil {
		patterns = []*types.Pattern{}
	}
	return &PatternListResult{Patterns: patterns, Count: len(patterns)}, nil
}

func (s *Server) handlePatternStats(ctx context.Context, raw json.RawMessage) (any, error) {
	var args OwnerArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args)
	if err != nil {
		return nil, err
	}
	return s.service.PatternStats(ctx, owner)
}

func (s *Server) handleDeactivatePattern(ctx context.Context, raw json.RawMessage) (any, error) {
	var args DeactivatePatternArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}
	if err := s.service.DeactivatePattern(ctx, owner, args.ID); err != nil {
		return nil, err
	}
	return map[string]any{"id": args.ID, "active": false}, nil
}

func (s *Server) handleGetContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args GetContextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}

	opts := engine.AggregateOptions{
		IncludeMemories: args.IncludeMemories == nil || *args.IncludeMemories,
		IncludePatterns: args.IncludePatterns == nil || *args.IncludePatterns,
	}
	if args.MinRelevance != "" {
		level, err := types.ParseRelevanceLevel(args.MinRelevance)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		opts.MinRelevance = &level
	}
	return s.service.AggregateContext(ctx, owner, opts)
}

func (s *Server) handleQueryContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args QueryContextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}
	return s.service.QueryContext(ctx, owner, args.Keywords, args.Limit)
}

func (s *Server) handleUpdateState(ctx context.Context, raw json.RawMessage) (any, error) {
	var args UpdateStateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args.OwnerArgs)
	if err != nil {
		return nil, err
	}
	return s.service.UpdateCurrentState(ctx, owner, args.StateFields)
}

func (s *Server) handleCleanupContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args OwnerArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	owner, err := s.owner(args)
	if err != nil {
		return nil, err
	}
	n, err := s.service.CleanupExpiredContext(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &CleanupResult{Deleted: n}, nil
}

var ownerProperty = map[string]any{
	"type":        "string",
	"description": "Whose data to use. Defaults to the server's configured owner.",
}

// schema builds a JSON Schema object with owner_id added to properties.
func schema(properties map[string]any, required ...string) map[string]any {
	props := map[string]any{"owner_id": ownerProperty}
	for k, v := range properties {
		props[k] = v
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func arrayProp(description string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": description}
}

// toolDefinitions lists every tool in a stable order.
func toolDefinitions() []MCPTool {
	return []MCPTool{
		{
			Name:        "log_sleep",
			Description: "Record one sleep/wake cycle and re-detect sleep patterns.",
			InputSchema: schema(map[string]any{
				"sleep_at": prop("string", "When sleep started (RFC 3339)"),
				"wake_at":  prop("string", "When the user woke up (RFC 3339)"),
				"quality":  prop("number", "Sleep quality from 0 to 1"),
				"note":     prop("string", "Free-form note"),
			}, "sleep_at", "wake_at"),
		},
		{
			Name:        "log_activity",
			Description: "Record an activity occurrence and re-detect patterns for its tag.",
			InputSchema: schema(map[string]any{
				"tag":       prop("string", "Activity tag such as running or coffee"),
				"start_at":  prop("string", "When the activity started (RFC 3339)"),
				"end_at":    prop("string", "When the activity ended (RFC 3339)"),
				"location":  prop("string", "Where it happened"),
				"intensity": enumProp("How demanding it was", string(types.IntensityLow), string(types.IntensityMedium), string(types.IntensityHigh)),
				"note":      prop("string", "Free-form note"),
			}, "tag", "start_at"),
		},
		{
			Name:        "record_memory",
			Description: "Store a memory that context aggregation surfaces as recent activity.",
			InputSchema: schema(map[string]any{
				"content":    prop("string", "What to remember"),
				"summary":    prop("string", "Short summary"),
				"tags":       arrayProp("Tags"),
				"importance": prop("number", "Importance from 0 to 1"),
			}, "content"),
		},
		{
			Name:        "detect_patterns",
			Description: "Re-run pattern detection without logging a new observation.",
			InputSchema: schema(map[string]any{
				"kind": enumProp("Pattern kind", string(types.KindSleepWake), string(types.KindActivity)),
				"tag":  prop("string", "Activity tag (required for activity)"),
			}, "kind"),
		},
		{
			Name:        "list_patterns",
			Description: "List detected patterns, highest confidence first.",
			InputSchema: schema(map[string]any{
				"kinds":            arrayProp("Restrict to these pattern kinds"),
				"recurrence":       arrayProp("Restrict to these recurrence classes (daily, weekday, weekend, monday...)"),
				"min_confidence":   prop("number", "Minimum confidence from 0 to 1"),
				"include_inactive": prop("boolean", "Include deactivated patterns"),
				"limit":            prop("integer", "Maximum number of patterns"),
				"offset":           prop("integer", "Number of patterns to skip"),
			}),
		},
		{
			Name:        "pattern_stats",
			Description: "Summarize active patterns by kind and recurrence.",
			InputSchema: schema(nil),
		},
		{
			Name:        "deactivate_pattern",
			Description: "Deactivate a pattern so it no longer appears in context.",
			InputSchema: schema(map[string]any{
				"id": prop("string", "Pattern ID"),
			}, "id"),
		},
		{
			Name:        "get_context",
			Description: "Aggregate current state, recent memories and patterns into a ranked context view with a summary.",
			InputSchema: schema(map[string]any{
				"include_memories": prop("boolean", "Include recent memories (default true)"),
				"include_patterns": prop("boolean", "Include active patterns (default true)"),
				"min_relevance":    enumProp("Drop items below this level", "critical", "high", "medium", "low", "minimal"),
			}),
		},
		{
			Name:        "query_context",
			Description: "Rank context items against keywords and explain each score.",
			InputSchema: schema(map[string]any{
				"keywords": arrayProp("Keywords to match"),
				"limit":    prop("integer", "Maximum number of results (default 10)"),
			}),
		},
		{
			Name:        "update_state",
			Description: "Replace the user's current state. It expires after an hour.",
			InputSchema: schema(map[string]any{
				"activity": prop("string", "Current activity"),
				"location": prop("string", "Current location"),
				"mood":     prop("string", "Current mood"),
				"energy":   prop("string", "Current energy level"),
				"focus":    prop("string", "Current focus"),
				"extra": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
					"description":          "Additional key/value state",
				},
			}),
		},
		{
			Name:        "cleanup_context",
			Description: "Delete expired context items.",
			InputSchema: schema(nil),
		},
	}
}
