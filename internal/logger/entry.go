package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry accumulates metric fields (duration, counts, outcome) for a single
// log line. It is immutable: every With* call returns a copy.
//
//	logger.With(logger.Fields{logger.FieldStage: "aggregate"}).
//		WithFrames(12, 30).Info(ctx, "Analysis finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with the given fields.
func With(fields Fields) *Entry {
	return (&Entry{}).With(fields)
}

// With returns a copy of e extended with fields. Later keys win.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// WithDuration records d in whole milliseconds.
func (e *Entry) WithDuration(d time.Duration) *Entry {
	return e.WithField(FieldDurationMs, d.Milliseconds())
}

func (e *Entry) WithCount(count int) *Entry {
	return e.WithField(FieldCount, count)
}

// WithSize records a byte count.
func (e *Entry) WithSize(size int64) *Entry {
	return e.WithField(FieldSize, size)
}

// WithFrames records the frame and crop counters of an analysis.
func (e *Entry) WithFrames(frames, crops int) *Entry {
	return e.With(Fields{FieldFrames: frames, FieldCrops: crops})
}

func (e *Entry) WithModel(name string) *Entry {
	return e.WithField(FieldModel, name)
}

func (e *Entry) WithStatus(status string) *Entry {
	return e.WithField(FieldStatus, status)
}

// log writes through the context logger, or the default one when ctx is nil.
func (e *Entry) log(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	l := GetDefault()
	if ctx != nil {
		l = FromContext(ctx)
	}
	l.WithFields(e.fields).Logf(level, format, args...)
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.DebugLevel, format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.InfoLevel, format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.WarnLevel, format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.ErrorLevel, format, args...)
}
