package common

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// This can be used as the destination for a logger and it'll
// map them into calls to testing.T.Log, so that you only see
// the logging for failed tests.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	n := len(d)
	if n > 0 && d[n-1] == '\n' {
		d = d[:n-1]
	}
	if a.prefix != "" {
		a.t.Log(a.prefix + ": " + string(d))
		return n, nil
	}
	a.t.Log(string(d))
	return n, nil
}

// NewTestLogger returns a debug-level logger writing to t.Log.
func NewTestLogger(t testing.TB) *logrus.Logger {
	return NewPrefixedTestLogger(t, "")
}

// NewPrefixedTestLogger is NewTestLogger with every line prefixed, which
// helps when several nodes log into the same test.
func NewPrefixedTestLogger(t testing.TB, prefix string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t, prefix: prefix}
	logger.Level = logrus.DebugLevel
	return logger
}

// NewTestEntry ...
func NewTestEntry(t testing.TB, prefix string) *logrus.Entry {
	return logrus.NewEntry(NewPrefixedTestLogger(t, prefix)).WithField("prefix", prefix)
}
