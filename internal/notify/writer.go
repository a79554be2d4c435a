// Package notify relays detection events between processes that share a
// data directory. The CLI writes one file per detection run under
// {dataPath}/events and the server watches that directory and republishes
// each event to its insight subscribers.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/pkg/types"
)

// EventPatternDetection matches the type of events produced by the server's
// own insight hub.
const EventPatternDetection = "pattern_detection"

// Event is the payload written to an event file. Results are kept encoded
// so the watcher can forward them unchanged.
type Event struct {
	Type      string            `json:"type"`
	OwnerID   string            `json:"owner_id"`
	Kind      types.PatternKind `json:"kind"`
	Results   json.RawMessage   `json:"results"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventWriter writes event files to a shared directory. It implements
// engine.InsightNotifier.
type EventWriter struct {
	dir    string
	logger logrus.FieldLogger
}

// NewEventWriter creates a writer that emits events to {dataPath}/events.
func NewEventWriter(dataPath string, logger logrus.FieldLogger) *EventWriter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventWriter{
		dir:    filepath.Join(dataPath, "events"),
		logger: logger.WithField("component", "event_writer"),
	}
}

// Available reports whether the events directory exists, which is the case
// once a server has watched this data path.
func (w *EventWriter) Available() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}

// Write stores one detection run as an event file.
func (w *EventWriter) Write(ownerID string, kind types.PatternKind, results []*engine.DetectionResult) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode detection results: %w", err)
	}

	now := time.Now().UTC()
	data, err := json.Marshal(Event{
		Type:      EventPatternDetection,
		OwnerID:   ownerID,
		Kind:      kind,
		Results:   encoded,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// Write then rename so the watcher never reads a partial file.
	name := fmt.Sprintf("%d-%s-%s", now.UnixNano(), sanitizeID(ownerID), kind)
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write event file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+".event")); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish event file: %w", err)
	}
	return nil
}

// NotifyDetection implements engine.InsightNotifier. Failures are logged.
func (w *EventWriter) NotifyDetection(ownerID string, kind types.PatternKind, results []*engine.DetectionResult) {
	if err := w.Write(ownerID, kind, results); err != nil {
		w.logger.WithError(err).WithField("owner_id", ownerID).Warn("failed to write detection event")
	}
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := []byte(id)
	for i, c := range out {
		switch c {
		case '/', '\\', ':', '.':
			out[i] = '_'
		}
	}
	return string(out)
}
