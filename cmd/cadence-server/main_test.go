package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/cadence/internal/config"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0, CleanupSchedule: "@every 1h"},
		Storage: config.StorageConfig{StorageEngine: config.EngineSQLite, DataPath: filepath.Join(t.TempDir(), "data")},
		Security: config.SecurityConfig{
			SecurityMode:   "development",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
	}
}

func TestRun_RejectsInvalidSchedule(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Server.CleanupSchedule = "whenever"

	err := run(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, quietLogger()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Addr() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// The insight relay announces itself to CLI writers by creating the
	// events directory.
	assert.DirExists(t, filepath.Join(cfg.Storage.DataPath, "events"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
