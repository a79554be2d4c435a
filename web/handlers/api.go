package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Engine is the part of engine.Service the API exposes.
type Engine interface {
	LogSleepWake(ctx context.Context, input types.SleepWakeInput) (*engine.SleepWakeLogResult, error)
	LogActivity(ctx context.Context, input types.ActivityInput) (*engine.ActivityLogResult, error)
	RecordMemory(ctx context.Context, input types.MemoryInput) (*types.Memory, error)
	DetectSleepWakePatterns(ctx context.Context, ownerID string) ([]*engine.DetectionResult, error)
	DetectActivityPatterns(ctx context.Context, ownerID, tag string) ([]*engine.DetectionResult, error)
	ListPatterns(ctx context.Context, query storage.PatternQuery) ([]*types.Pattern, error)
	PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error)
	DeactivatePattern(ctx context.Context, ownerID, id string) error
	AggregateContext(ctx context.Context, ownerID string, opts engine.AggregateOptions) (*types.AggregatedContext, error)
	QueryContext(ctx context.Context, ownerID string, keywords []string, limit int) ([]*engine.QueryMatch, error)
	UpdateCurrentState(ctx context.Context, ownerID string, fields types.StateFields) (*types.ContextItem, error)
	CreateContextItem(ctx context.Context, input engine.ContextItemInput) (*types.ContextItem, error)
	GetContextItem(ctx context.Context, ownerID, id string) (*types.ContextItem, error)
	CleanupExpiredContext(ctx context.Context, ownerID string) (int, error)
	Ping(ctx context.Context) error
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	engine Engine
	logger logrus.FieldLogger
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(e Engine, logger logrus.FieldLogger) *APIHandlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &APIHandlers{engine: e, logger: logger.WithField("component", "api")}
}

// Register mounts the API routes on mux.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/owners/{owner}/sleep", h.LogSleep)
	mux.HandleFunc("POST /api/owners/{owner}/activities", h.LogActivity)
	mux.HandleFunc("POST /api/owners/{owner}/memories", h.RecordMemory)
	mux.HandleFunc("POST /api/owners/{owner}/detect/sleep", h.DetectSleep)
	mux.HandleFunc("POST /api/owners/{owner}/detect/activities/{tag}", h.DetectActivity)
	mux.HandleFunc("GET /api/owners/{owner}/patterns", h.ListPatterns)
	mux.HandleFunc("GET /api/owners/{owner}/patterns/stats", h.PatternStats)
	mux.HandleFunc("DELETE /api/owners/{owner}/patterns/{id}", h.DeactivatePattern)
	mux.HandleFunc("GET /api/owners/{owner}/context", h.AggregateContext)
	mux.HandleFunc("GET /api/owners/{owner}/context/query", h.QueryContext)
	mux.HandleFunc("PUT /api/owners/{owner}/context/state", h.UpdateState)
	mux.HandleFunc("POST /api/owners/{owner}/context/items", h.CreateContextItem)
	mux.HandleFunc("GET /api/owners/{owner}/context/items/{id}", h.GetContextItem)
	mux.HandleFunc("DELETE /api/owners/{owner}/context/expired", h.CleanupExpired)
}

// LogSleep handles POST /api/owners/{owner}/sleep.
func (h *APIHandlers) LogSleep(w http.ResponseWriter, r *http.Request) {
	var req SleepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.engine.LogSleepWake(r.Context(), types.SleepWakeInput{
		OwnerID: r.PathValue("owner"),
		SleepAt: req.SleepAt,
		WakeAt:  req.WakeAt,
		Quality: req.Quality,
		Note:    req.Note,
	})
	if res == nil {
		h.respondEngineError(w, r, "failed to log sleep", err)
		return
	}
	h.respondObservation(w, r, res.Log, res.Patterns, err)
}

// LogActivity handles POST /api/owners/{owner}/activities.
func (h *APIHandlers) LogActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.engine.LogActivity(r.Context(), types.ActivityInput{
		OwnerID:   r.PathValue("owner"),
		Tag:       req.Tag,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Location:  req.Location,
		Intensity: req.Intensity,
		Note:      req.Note,
	})
	if res == nil {
		h.respondEngineError(w, r, "failed to log activity", err)
		return
	}
	h.respondObservation(w, r, res.Log, res.Patterns, err)
}

func (h *APIHandlers) respondObservation(w http.ResponseWriter, r *http.Request, log any, patterns []*engine.DetectionResult, err error) {
	resp := ObservationResponse{Log: log, Patterns: patterns}
	if resp.Patterns == nil {
		resp.Patterns = []*engine.DetectionResult{}
	}
	if err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("observation stored but detection failed")
		resp.DetectionError = err.Error()
	}
	respondJSON(w, http.StatusCreated, resp)
}

// RecordMemory handles POST /api/owners/{owner}/memories.
func (h *APIHandlers) RecordMemory(w http.ResponseWriter, r *http.Request) {
	var req MemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	memory, err := h.engine.RecordMemory(r.Context(), types.MemoryInput{
		OwnerID:    r.PathValue("owner"),
		Content:    req.Content,
		Summary:    req.Summary,
		Tags:       req.Tags,
		Importance: req.Importance,
	})
	if err != nil {
		h.respondEngineError(w, r, "failed to record memory", err)
		return
	}
	respondJSON(w, http.StatusCreated, memory)
}

// DetectSleep handles POST /api/owners/{owner}/detect/sleep.
func (h *APIHandlers) DetectSleep(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.DetectSleepWakePatterns(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.respondEngineError(w, r, "sleep detection failed", err)
		return
	}
	respondJSON(w, http.StatusOK, DetectionResponse{Patterns: results})
}

// DetectActivity handles POST /api/owners/{owner}/detect/activities/{tag}.
func (h *APIHandlers) DetectActivity(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.DetectActivityPatterns(r.Context(), r.PathValue("owner"), r.PathValue("tag"))
	if err != nil {
		h.respondEngineError(w, r, "activity detection failed", err)
		return
	}
	respondJSON(w, http.StatusOK, DetectionResponse{Patterns: results})
}

// ListPatterns handles GET /api/owners/{owner}/patterns.
//
// Query parameters: kind and recurrence (repeatable), min_confidence,
// active (true/false), limit, offset.
func (h *APIHandlers) ListPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := storage.PatternQuery{
		OwnerID: r.PathValue("owner"),
		Limit:   parseInt(q.Get("limit"), 0),
		Offset:  parseInt(q.Get("offset"), 0),
	}
	for _, k := range q["kind"] {
		query.Kinds = append(query.Kinds, types.PatternKind(k))
	}
	for _, rc := range q["recurrence"] {
		query.RecurrenceClasses = append(query.RecurrenceClasses, types.RecurrenceClass(rc))
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid min_confidence", err)
			return
		}
		query.MinConfidence = f
	}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid active flag", err)
			return
		}
		query.Active = &b
	}

	patterns, err := h.engine.ListPatterns(r.Context(), query)
	if err != nil {
		h.respondEngineError(w, r, "failed to list patterns", err)
		return
	}
	respondJSON(w, http.StatusOK, PatternListResponse{Patterns: patterns, Count: len(patterns)})
}

// PatternStats handles GET /api/owners/{owner}/patterns/stats.
func (h *APIHandlers) PatternStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.PatternStats(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.respondEngineError(w, r, "failed to compute pattern stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// DeactivatePattern handles DELETE /api/owners/{owner}/patterns/{id}.
func (h *APIHandlers) DeactivatePattern(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeactivatePattern(r.Context(), r.PathValue("owner"), r.PathValue("id")); err != nil {
		h.respondEngineError(w, r, "failed to deactivate pattern", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AggregateContext handles GET /api/owners/{owner}/context.
//
// Query parameters: include_memories and include_patterns (default true),
// min_relevance (minimal, low, medium, high, critical).
func (h *APIHandlers) AggregateContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := engine.AggregateOptions{
		IncludeMemories: parseBool(q.Get("include_memories"), true),
		IncludePatterns: parseBool(q.Get("include_patterns"), true),
	}
	if v := q.Get("min_relevance"); v != "" {
		level, err := types.ParseRelevanceLevel(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid min_relevance", err)
			return
		}
		opts.MinRelevance = &level
	}

	view, err := h.engine.AggregateContext(r.Context(), r.PathValue("owner"), opts)
	if err != nil {
		h.respondEngineError(w, r, "failed to aggregate context", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// QueryContext handles GET /api/owners/{owner}/context/query?q=...&limit=N.
// q may repeat; each value is split on whitespace.
func (h *APIHandlers) QueryContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var keywords []string
	for _, v := range q["q"] {
		keywords = append(keywords, strings.Fields(v)...)
	}
	if keywords == nil {
		keywords = []string{}
	}

	matches, err := h.engine.QueryContext(r.Context(), r.PathValue("owner"), keywords, parseInt(q.Get("limit"), 0))
	if err != nil {
		h.respondEngineError(w, r, "failed to query context", err)
		return
	}
	respondJSON(w, http.StatusOK, QueryResponse{Keywords: keywords, Matches: matches})
}

// UpdateState handles PUT /api/owners/{owner}/context/state.
func (h *APIHandlers) UpdateState(w http.ResponseWriter, r *http.Request) {
	var fields types.StateFields
	if !decodeBody(w, r, &fields) {
		return
	}

	item, err := h.engine.UpdateCurrentState(r.Context(), r.PathValue("owner"), fields)
	if err != nil {
		h.respondEngineError(w, r, "failed to update state", err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// CreateContextItem handles POST /api/owners/{owner}/context/items.
func (h *APIHandlers) CreateContextItem(w http.ResponseWriter, r *http.Request) {
	var req ContextItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	input := engine.ContextItemInput{
		OwnerID:   r.PathValue("owner"),
		Category:  req.Category,
		Timestamp: req.Timestamp,
		Score:     req.Score,
		ExpiresAt: req.ExpiresAt,
		SourceKey: req.SourceKey,
	}
	if req.State != nil {
		input.Payload = types.StatePayload{StateFields: *req.State}
	}

	item, err := h.engine.CreateContextItem(r.Context(), input)
	if err != nil {
		h.respondEngineError(w, r, "failed to create context item", err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetContextItem handles GET /api/owners/{owner}/context/items/{id}.
func (h *APIHandlers) GetContextItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.GetContextItem(r.Context(), r.PathValue("owner"), r.PathValue("id"))
	if err != nil {
		h.respondEngineError(w, r, "failed to get context item", err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// CleanupExpired handles DELETE /api/owners/{owner}/context/expired.
func (h *APIHandlers) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.CleanupExpiredContext(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.respondEngineError(w, r, "failed to clean up context", err)
		return
	}
	respondJSON(w, http.StatusOK, CleanupResponse{Deleted: n})
}

// Health handles GET /health. It reports 503 when storage is unreachable.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Storage: "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Storage: "ok"})
}

// statusFor maps engine and storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandlers) respondEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error(message)
	}
	respondError(w, status, message, err)
}

// decodeBody decodes a JSON request body into v, responding 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// parseInt parses an integer query parameter, returning defaultValue when
// absent or malformed.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseBool(s string, defaultValue bool) bool {
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return b
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		logrus.WithError(err).Error("failed to encode JSON response")
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]any{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
