package notify

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/pkg/types"
)

type received struct {
	ownerID string
	data    []byte
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleResults() []*engine.DetectionResult {
	return []*engine.DetectionResult{{
		Pattern: &types.Pattern{
			ID:         "p1",
			OwnerID:    "alice",
			Kind:       types.KindSleepWake,
			Recurrence: types.RecurrenceDaily,
			Name:       "Daily sleep schedule",
			Confidence: 0.9,
			Metadata:   types.SleepWakeMetadata{AverageSleepTime: "23:00", AverageWakeTime: "07:00"},
			Active:     true,
		},
		IsNew:    true,
		Insights: []string{"Very consistent sleep schedule"},
	}}
}

func eventFiles(t *testing.T, dataPath string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dataPath, "events", "*.event"))
	require.NoError(t, err)
	return matches
}

func TestEventWriter(t *testing.T) {
	t.Run("unavailable without events directory", func(t *testing.T) {
		dir := t.TempDir()
		w := NewEventWriter(dir, quietLogger())
		assert.False(t, w.Available())
		assert.Error(t, w.Write("alice", types.KindSleepWake, sampleResults()))
	})

	t.Run("writes one event file per detection", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "events"), 0o700))

		w := NewEventWriter(dir, quietLogger())
		require.True(t, w.Available())
		require.NoError(t, w.Write("alice/1", types.KindSleepWake, sampleResults()))

		files := eventFiles(t, dir)
		require.Len(t, files, 1)
		assert.Contains(t, filepath.Base(files[0]), "alice_1-sleep_wake")

		data, err := os.ReadFile(files[0])
		require.NoError(t, err)
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, EventPatternDetection, event.Type)
		assert.Equal(t, "alice/1", event.OwnerID)
		assert.Equal(t, types.KindSleepWake, event.Kind)
		assert.Contains(t, string(event.Results), `"average_sleep_time":"23:00"`)

		tmp, err := filepath.Glob(filepath.Join(dir, "events", "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, tmp)
	})
}

func TestEventWatcherReceivesEvent(t *testing.T) {
	dir := t.TempDir()
	got := make(chan received, 1)

	watcher := NewEventWatcher(dir, func(ownerID string, data []byte) {
		got <- received{ownerID, data}
	}, quietLogger())
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	writer := NewEventWriter(dir, quietLogger())
	require.True(t, writer.Available())
	writer.NotifyDetection("alice", types.KindSleepWake, sampleResults())

	select {
	case msg := <-got:
		assert.Equal(t, "alice", msg.ownerID)
		assert.Contains(t, string(msg.data), `"type":"pattern_detection"`)
		assert.Contains(t, string(msg.data), `"is_new":true`)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	assert.Eventually(t, func() bool { return len(eventFiles(t, dir)) == 0 },
		time.Second, 10*time.Millisecond, "consumed event file should be removed")
}

func TestEventWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "events"), 0o700))

	writer := NewEventWriter(dir, quietLogger())
	require.NoError(t, writer.Write("alice", types.KindSleepWake, sampleResults()))
	require.NoError(t, writer.Write("bob", types.KindActivity, sampleResults()))

	got := make(chan received, 10)
	watcher := NewEventWatcher(dir, func(ownerID string, data []byte) {
		got <- received{ownerID, data}
	}, quietLogger())
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	// Draining happens synchronously inside Start.
	require.Len(t, got, 2)
	owners := []string{(<-got).ownerID, (<-got).ownerID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, owners)
	assert.Empty(t, eventFiles(t, dir))
}

func TestEventWatcherSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	events := filepath.Join(dir, "events")
	require.NoError(t, os.MkdirAll(events, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(events, "1-bad.event"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(events, "2-anon.event"), []byte(`{"type":"pattern_detection"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(events, "notes.txt"), []byte("ignored"), 0o600))

	calls := 0
	watcher := NewEventWatcher(dir, func(string, []byte) { calls++ }, quietLogger())
	require.NoError(t, watcher.Start())
	watcher.Stop()

	assert.Zero(t, calls)
	assert.Empty(t, eventFiles(t, dir))
	assert.FileExists(t, filepath.Join(events, "notes.txt"))
}

func TestEventWatcherStopWithoutStart(t *testing.T) {
	watcher := NewEventWatcher(t.TempDir(), nil, quietLogger())
	assert.NotPanics(t, watcher.Stop)
}

func TestSanitizeID(t *testing.T) {
	tests := map[string]string{
		"alice":         "alice",
		"team:alice":    "team_alice",
		"../etc/passwd": "___etc_passwd",
		`a\b`:           "a_b",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeID(in), in)
	}
}
