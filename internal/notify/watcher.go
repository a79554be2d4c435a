package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler receives the owner and the raw encoded event.
type Handler func(ownerID string, data []byte)

// EventWatcher watches the events directory and dispatches each event file
// to a Handler. Consumed files are removed.
type EventWatcher struct {
	dir     string
	handler Handler
	logger  logrus.FieldLogger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/events.
func NewEventWatcher(dataPath string, handler Handler, logger logrus.FieldLogger) *EventWatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventWatcher{
		dir:     filepath.Join(dataPath, "events"),
		handler: handler,
		logger:  logger.WithField("component", "event_watcher"),
		done:    make(chan struct{}),
	}
}

// Start creates the events directory, drains files written while no watcher
// was running, then watches for new ones. Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create events directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", ew.dir, err)
	}
	ew.watcher = w

	ew.drainExisting()

	go ew.loop()
	ew.logger.WithField("dir", ew.dir).Info("watching for detection events")
	return nil
}

// Stop shuts down the watcher. It is safe to call when Start failed.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			// Writers rename into place, which shows up as Create.
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".event") {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.WithError(err).Warn("watcher error")
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		ew.logger.WithError(err).WithField("file", filepath.Base(path)).Warn("failed to remove event file")
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		ew.logger.WithError(err).WithField("file", filepath.Base(path)).Warn("invalid event file")
		return
	}
	if event.OwnerID == "" {
		ew.logger.WithField("file", filepath.Base(path)).Warn("event file without owner")
		return
	}

	if ew.handler != nil {
		ew.handler(event.OwnerID, data)
	}
}
