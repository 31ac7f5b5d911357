package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

// assertLogMatches fuzzy matches a log line. The time format is checked but not the exact time, and
// the filename must match while the line number may differ.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	logger := newImpl(name, level, true, NewWriterAppender(notStdout))
	return logger, notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger("calib", DEBUG)

	logger.Info("detected corners")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	calib	logging/impl_test.go:65	detected corners`)

	logger.Infof("views: %d", 15)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	calib	logging/impl_test.go:69	views: 15`)

	logger.Debugw("stereo calibration", "rms", 0.25, "views", 15)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	calib	logging/impl_test.go:73	stereo calibration	{"rms":0.25,"views":15}`)

	logger.Warnw("odd key", "alone")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	calib	logging/impl_test.go:77	odd key	{"alone":"unpaired log key"}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, notStdout := newBufferLogger("disparity", WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	ERROR	disparity	logging/impl_test.go:90	shown`)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("now shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	disparity	logging/impl_test.go:96	now shown`)
}

func TestContextDebugMode(t *testing.T) {
	logger, notStdout := newBufferLogger("capture", INFO)
	ctx := context.Background()

	logger.CDebugf(ctx, "hidden %d", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	ctx = EnableDebugMode(ctx, "")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, GetName(ctx), test.ShouldEqual, "debug")
	logger.CDebugf(ctx, "shown %d", 2)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	capture	logging/impl_test.go:111	shown 2`)
}

func TestSublogger(t *testing.T) {
	logger, notStdout := newBufferLogger("stereocam", INFO)
	sub := logger.Sublogger("rectify")
	sub.Info("hello")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	stereocam.rectify	logging/impl_test.go:119	hello`)

	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Infow("saved frame pair", "count", 3)
	logger.Debug("unrelated")

	entries := observed.FilterMessage("saved frame pair").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, entries[0].ContextMap()["count"], test.ShouldEqual, int64(3))
	test.That(t, observed.Len(), test.ShouldEqual, 2)
}

func TestLevelFromString(t *testing.T) {
	for inp, want := range map[string]Level{"debug": DEBUG, "INFO": INFO, "Warn": WARN, "error": ERROR} {
		level, err := LevelFromString(inp)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, want)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	bytes, err := WARN.MarshalJSON()
	test.That(t, err, test.ShouldBeNil)
	var level Level
	test.That(t, level.UnmarshalJSON(bytes), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}
