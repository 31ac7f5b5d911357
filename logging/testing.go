package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// tbAppender routes entries to a test's log so output stays attached to the (sub)test that
// produced it.
type tbAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender writing through tb.Log. Times are local.
func NewTestAppender(tb testing.TB) Appender {
	return tbAppender{tb: tb}
}

func (app tbAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	app.tb.Helper()
	line, err := formatEntry(entry, fields)
	if err != nil {
		return err
	}
	app.tb.Log(line)
	return nil
}

func (app tbAppender) Sync() error {
	return nil
}
