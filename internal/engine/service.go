package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/metrics"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

// InsightNotifier receives detection results as they are produced.
// Implementations must not block.
type InsightNotifier interface {
	NotifyDetection(ownerID string, kind types.PatternKind, results []*DetectionResult)
}

// SleepWakeLogResult is the outcome of logging a sleep/wake cycle.
type SleepWakeLogResult struct {
	Log      *types.SleepWakeLog `json:"log"`
	Patterns []*DetectionResult  `json:"patterns"`
}

// ActivityLogResult is the outcome of logging an activity.
type ActivityLogResult struct {
	Log      *types.ActivityLog `json:"log"`
	Patterns []*DetectionResult `json:"patterns"`
}

// Service is the surface consumed by the HTTP and CLI layers. It validates
// input, then delegates to the detector, aggregator and query engine.
type Service struct {
	store      storage.Store
	detector   *PatternDetector
	aggregator *ContextAggregator
	query      *ContextQuery
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	notifier   InsightNotifier
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records operations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier forwards detection results to n.
func WithNotifier(n InsightNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates cfg and wires the engine components onto store.
func NewService(store storage.Store, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	s := &Service{
		store:  store,
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.detector = NewPatternDetector(store, store, cfg, s.logger)
	s.aggregator = NewContextAggregator(store, store, store, cfg, s.logger)
	s.aggregator.now = s.now
	s.query = NewContextQuery(s.aggregator)

	return s, nil
}

// LogSleepWake appends a sleep/wake cycle and re-detects sleep patterns.
// When detection fails the stored log is still returned with the error.
func (s *Service) LogSleepWake(ctx context.Context, input types.SleepWakeInput) (*SleepWakeLogResult, error) {
	if err := validateOwner(input.OwnerID); err != nil {
		return nil, err
	}
	if input.SleepAt.IsZero() || input.WakeAt.IsZero() {
		return nil, invalid("sleep_at/wake_at", "both instants are required")
	}
	if !input.WakeAt.After(input.SleepAt) {
		return nil, invalid("wake_at", "must be after sleep_at")
	}
	if input.Quality != nil && (*input.Quality < 0 || *input.Quality > 1) {
		return nil, invalid("quality", "must be within [0,1]")
	}

	log := &types.SleepWakeLog{
		OwnerID:         input.OwnerID,
		SleepAt:         input.SleepAt,
		WakeAt:          input.WakeAt,
		DurationMinutes: types.DurationBetween(input.SleepAt, input.WakeAt),
		Quality:         input.Quality,
		Note:            strings.TrimSpace(input.Note),
	}
	if err := s.store.AppendSleepWake(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to store sleep/wake log: %w", err)
	}

	result := &SleepWakeLogResult{Log: log}
	patterns, err := s.DetectSleepWakePatterns(ctx, input.OwnerID)
	result.Patterns = patterns
	return result, err
}

// LogActivity appends an activity occurrence and re-detects patterns for
// its tag.
func (s *Service) LogActivity(ctx context.Context, input types.ActivityInput) (*ActivityLogResult, error) {
	if err := validateOwner(input.OwnerID); err != nil {
		return nil, err
	}
	tag := normalizeTag(input.Tag)
	if tag == "" {
		return nil, invalid("tag", "must not be empty")
	}
	if input.StartAt.IsZero() {
		return nil, invalid("start_at", "is required")
	}
	if input.EndAt != nil && input.EndAt.Before(input.StartAt) {
		return nil, invalid("end_at", "must not be before start_at")
	}
	if input.Intensity != "" && !input.Intensity.IsValid() {
		return nil, invalid("intensity", fmt.Sprintf("unknown intensity %q", input.Intensity))
	}

	log := &types.ActivityLog{
		OwnerID:   input.OwnerID,
		Tag:       tag,
		StartAt:   input.StartAt,
		EndAt:     input.EndAt,
		Location:  strings.TrimSpace(input.Location),
		Intensity: input.Intensity,
		Note:      strings.TrimSpace(input.Note),
	}
	if input.EndAt != nil {
		d := types.DurationBetween(input.StartAt, *input.EndAt)
		log.DurationMinutes = &d
	}
	if err := s.store.AppendActivity(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to store activity log: %w", err)
	}

	result := &ActivityLogResult{Log: log}
	patterns, err := s.DetectActivityPatterns(ctx, input.OwnerID, tag)
	result.Patterns = patterns
	return result, err
}

// RecordMemory stores a memory that later aggregations surface as recent
// activity.
func (s *Service) RecordMemory(ctx context.Context, input types.MemoryInput) (*types.Memory, error) {
	if err := validateOwner(input.OwnerID); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, invalid("content", "must not be empty")
	}
	if input.Importance < 0 || input.Importance > 1 {
		return nil, invalid("importance", "must be within [0,1]")
	}

	var tags []string
	for _, t := range input.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	memory := &types.Memory{
		OwnerID:    input.OwnerID,
		Content:    content,
		Summary:    strings.TrimSpace(input.Summary),
		Tags:       tags,
		Importance: input.Importance,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.PutMemory(ctx, memory); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}
	return memory, nil
}

// DetectSleepWakePatterns runs sleep/wake detection for ownerID.
func (s *Service) DetectSleepWakePatterns(ctx context.Context, ownerID string) ([]*DetectionResult, error) {
	results, err := s.detector.DetectSleepWakePatterns(ctx, ownerID)
	s.afterDetection(ownerID, types.KindSleepWake, results, err)
	return results, err
}

// DetectActivityPatterns runs activity detection for ownerID and tag.
func (s *Service) DetectActivityPatterns(ctx context.Context, ownerID, tag string) ([]*DetectionResult, error) {
	results, err := s.detector.DetectActivityPatterns(ctx, ownerID, tag)
	s.afterDetection(ownerID, types.KindActivity, results, err)
	return results, err
}

func (s *Service) afterDetection(ownerID string, kind types.PatternKind, results []*DetectionResult, err error) {
	// A failed run counts once as an error, even when some results
	// were persisted before the failure.
	switch {
	case err != nil:
		s.metrics.RecordDetection(string(kind), metrics.OutcomeError)
	case len(results) == 0:
		s.metrics.RecordDetection(string(kind), metrics.OutcomeInsufficient)
	default:
		for _, r := range results {
			if r.IsNew {
				s.metrics.RecordDetection(string(kind), metrics.OutcomeCreated)
			} else {
				s.metrics.RecordDetection(string(kind), metrics.OutcomeUpdated)
			}
		}
	}

	if s.notifier != nil && len(results) > 0 {
		s.notifier.NotifyDetection(ownerID, kind, results)
	}
}

// ListPatterns returns patterns matching query.
func (s *Service) ListPatterns(ctx context.Context, query storage.PatternQuery) ([]*types.Pattern, error) {
	if err := validateOwner(query.OwnerID); err != nil {
		return nil, err
	}
	if query.Limit < 0 || query.Offset < 0 {
		return nil, invalid("limit/offset", "must be >= 0")
	}
	if query.MinConfidence < 0 || query.MinConfidence > 1 {
		return nil, invalid("min_confidence", "must be within [0,1]")
	}
	for _, k := range query.Kinds {
		if !k.IsValid() {
			return nil, invalid("kind", fmt.Sprintf("unknown pattern kind %q", k))
		}
	}
	for _, r := range query.RecurrenceClasses {
		if !r.IsValid() {
			return nil, invalid("recurrence", fmt.Sprintf("unknown recurrence class %q", r))
		}
	}
	query.Normalize()
	return s.store.ListPatterns(ctx, query)
}

// PatternStats summarizes the owner's active patterns.
func (s *Service) PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.PatternStats(ctx, ownerID)
}

// DeactivatePattern soft-deletes the owner's pattern id.
func (s *Service) DeactivatePattern(ctx context.Context, ownerID, id string) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	if id == "" {
		return invalid("id", "must not be empty")
	}
	return s.store.DeactivatePattern(ctx, id, ownerID)
}

// AggregateContext builds the owner's current context view.
func (s *Service) AggregateContext(ctx context.Context, ownerID string, opts AggregateOptions) (*types.AggregatedContext, error) {
	view, err := s.aggregator.AggregateContext(ctx, ownerID, opts)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAggregation()
	return view, nil
}

// QueryContext ranks the owner's context against keywords.
func (s *Service) QueryContext(ctx context.Context, ownerID string, keywords []string, limit int) ([]*QueryMatch, error) {
	start := time.Now()
	matches, err := s.query.QueryContext(ctx, ownerID, keywords, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAggregation()
	s.metrics.RecordQueryLatency(time.Since(start).Seconds())
	return matches, nil
}

// UpdateCurrentState sets the owner's current state.
func (s *Service) UpdateCurrentState(ctx context.Context, ownerID string, fields types.StateFields) (*types.ContextItem, error) {
	return s.aggregator.UpdateCurrentState(ctx, ownerID, fields)
}

// CreateContextItem stores a caller-supplied context item.
func (s *Service) CreateContextItem(ctx context.Context, input ContextItemInput) (*types.ContextItem, error) {
	return s.aggregator.CreateContextItem(ctx, input)
}

// GetContextItem returns one of the owner's live context items.
func (s *Service) GetContextItem(ctx context.Context, ownerID, id string) (*types.ContextItem, error) {
	return s.aggregator.GetContextItem(ctx, ownerID, id)
}

// CleanupExpiredContext deletes the owner's expired context items.
func (s *Service) CleanupExpiredContext(ctx context.Context, ownerID string) (int, error) {
	n, err := s.aggregator.CleanupExpiredContext(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordExpired(n)
	return n, nil
}

// PurgeExpiredContext deletes expired context items of every owner.
func (s *Service) PurgeExpiredContext(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired context: %w", err)
	}
	s.metrics.RecordExpired(n)
	return n, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
