package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEntry embeds a zapcore Entry and slice of Fields.
type LogEntry struct {
	zapcore.Entry
	fields []zapcore.Field
}

type impl struct {
	name  string
	level AtomicLevel
	utc   bool

	appenders []Appender
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

// Sublogger shares the appenders of imp. Later appenders added to either logger are not shared.
func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(imp.level.Get()),
		utc:       imp.utc,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (imp *impl) enabled(level Level) bool {
	return GlobalLogLevel.Level() == zapcore.DebugLevel || level >= imp.level.Get()
}

// The helpers below must be called directly from the exported methods so that getCaller finds the
// caller of the logger.

func (imp *impl) log(level Level, force bool, args []interface{}) {
	if force || imp.enabled(level) {
		imp.write(imp.entry(level, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) logf(level Level, force bool, template string, args []interface{}) {
	if force || imp.enabled(level) {
		imp.write(imp.entry(level, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) logw(level Level, force bool, msg string, keysAndValues []interface{}) {
	if force || imp.enabled(level) {
		imp.write(imp.entry(level, msg, keysAndValues))
	}
}

func (imp *impl) entry(level Level, msg string, keysAndValues []interface{}) *LogEntry {
	e := &LogEntry{}
	e.Time = time.Now()
	if imp.utc {
		e.Time = e.Time.UTC()
	}
	e.LoggerName = imp.name
	e.Level = level.AsZap()
	e.Caller = getCaller()
	e.Message = msg
	if len(keysAndValues) > 0 {
		e.fields = pairFields(keysAndValues)
	}
	return e
}

// pairFields turns alternating keys and values into fields. A trailing key without a value is
// kept with an error value.
func pairFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) write(e *LogEntry) {
	for _, appender := range imp.appenders {
		if err := appender.Write(e.Entry, e.fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (imp *impl) Debug(args ...interface{}) { imp.log(DEBUG, false, args) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.logf(DEBUG, false, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, false, msg, keysAndValues)
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.logf(DEBUG, IsDebugMode(ctx), template, args)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, IsDebugMode(ctx), msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.log(INFO, false, args) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.logf(INFO, false, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logw(INFO, false, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.log(WARN, false, args) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.logf(WARN, false, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logw(WARN, false, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.log(ERROR, false, args) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.logf(ERROR, false, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logw(ERROR, false, msg, keysAndValues)
}

// getCaller reports the file and line of the code that called into the logger: getCaller, entry,
// the level helper and the exported method sit above it on the stack.
func getCaller() zapcore.EntryCaller {
	const skip = 4
	var caller zapcore.EntryCaller
	var ok bool
	caller.PC, caller.File, caller.Line, ok = runtime.Caller(skip)
	if !ok {
		return caller
	}
	caller.Defined = true
	if fn := runtime.FuncForPC(caller.PC); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
