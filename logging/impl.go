package logging

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip is the number of frames between the caller of a Logger method and runtime.Caller:
// callerAt, emit and the Logger method itself.
const callerSkip = 3

// tree is the state a logger shares with its subloggers.
type tree struct {
	level AtomicLevel
	inUTC bool

	mu        sync.RWMutex
	appenders []Appender
}

type impl struct {
	name string
	tree *tree
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name: name,
		tree: &tree{
			level:     NewAtomicLevelAt(level),
			inUTC:     inUTC,
			appenders: appenders,
		},
	}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.tree.mu.Lock()
	defer imp.tree.mu.Unlock()
	imp.tree.appenders = append(imp.tree.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.tree.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.tree.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{name: name, tree: imp.tree}
}

func (imp *impl) Close() error {
	imp.tree.mu.RLock()
	defer imp.tree.mu.RUnlock()
	var err error
	for _, appender := range imp.tree.appenders {
		err = multierr.Combine(err, appender.Sync())
		if closer, ok := appender.(io.Closer); ok {
			err = multierr.Combine(err, closer.Close())
		}
	}
	return err
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.tree.level.Get()
}

// emit must be called directly from a Logger method for the caller to be reported correctly.
func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     callerAt(callerSkip),
	}
	if imp.tree.inUTC {
		entry.Time = entry.Time.UTC()
	}

	imp.tree.mu.RLock()
	defer imp.tree.mu.RUnlock()
	for _, appender := range imp.tree.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(stderr, err)
		}
	}
}

// fieldsOf pairs up keysAndValues. Keys are rendered with their String method when they have one.
// A trailing key without a value is kept with an error value in its place.
func fieldsOf(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
			key = stringer.String()
		}
		if i+1 == len(keysAndValues) {
			// A plain error keeps zap from adding a verbose stack field.
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, msg, fieldsOf(keysAndValues))
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, msg, fieldsOf(keysAndValues))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, msg, fieldsOf(keysAndValues))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, msg, fieldsOf(keysAndValues))
	}
}

func callerAt(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
