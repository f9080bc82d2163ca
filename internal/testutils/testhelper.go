package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger writing to the test log.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewTestLogger(t),
	}
}

// NewTestLogger returns a debug-level logger routed through t.Log so output only
// appears for failing or verbose runs.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(testWriter{t: t})
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
