// Package testutil holds shared helpers for the service test suites.
package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// Logger returns a slog.Logger that routes through t.Log, so service output
// shows up only for failing (or -v) tests.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// ContextWithTimeout creates a context cancelled automatically at test end.
func ContextWithTimeout(t testing.TB, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
