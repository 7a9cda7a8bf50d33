package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a debug level logger routed to t.Log, so output only
// shows for failing or verbose tests.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(testWriter{t})
	return logger
}

// NewSilentLogger returns a logger that discards everything.
func NewSilentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
