package handlers

import (
	"time"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// SleepRequest is the body of POST /api/owners/{owner}/sleep.
type SleepRequest struct {
	SleepAt time.Time `json:"sleep_at"`
	WakeAt  time.Time `json:"wake_at"`
	Quality *float64  `json:"quality,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// ActivityRequest is the body of POST /api/owners/{owner}/activities.
type ActivityRequest struct {
	Tag       string          `json:"tag"`
	StartAt   time.Time       `json:"start_at"`
	EndAt     *time.Time      `json:"end_at,omitempty"`
	Location  string          `json:"location,omitempty"`
	Intensity types.Intensity `json:"intensity,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// MemoryRequest is the body of POST /api/owners/{owner}/memories.
type MemoryRequest struct {
	Content    string   `json:"content"`
	Summary    string   `json:"summary,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance float64  `json:"importance"`
}

// ContextItemRequest is the body of POST /api/owners/{owner}/context/items.
// State, when present, becomes the item's payload.
type ContextItemRequest struct {
	Category  types.Category     `json:"category"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
	Score     *float64           `json:"relevance_score,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	SourceKey string             `json:"source_key,omitempty"`
	State     *types.StateFields `json:"state,omitempty"`
}

// ObservationResponse is returned after logging an observation. The log is
// stored even when re-detection fails; DetectionError reports that failure.
type ObservationResponse struct {
	Log            any                       `json:"log"`
	Patterns       []*engine.DetectionResult `json:"patterns"`
	DetectionError string                    `json:"detection_error,omitempty"`
}

// DetectionResponse is returned by the explicit detection endpoints.
type DetectionResponse struct {
	Patterns []*engine.DetectionResult `json:"patterns"`
}

// PatternListResponse is returned by GET /api/owners/{owner}/patterns.
type PatternListResponse struct {
	Patterns []*types.Pattern `json:"patterns"`
	Count    int              `json:"count"`
}

// QueryResponse is returned by GET /api/owners/{owner}/context/query.
type QueryResponse struct {
	Keywords []string             `json:"keywords"`
	Matches  []*engine.QueryMatch `json:"matches"`
}

// CleanupResponse reports how many expired items were removed.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}
