// Package logrus adapts a *logrus.Entry to layercache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/layercache"
)

type Logger struct{ E *logrus.Entry }

var _ layercache.Logger = Logger{}

func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "layercache")}
}

func (l Logger) Debug(msg string, f layercache.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f layercache.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f layercache.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f layercache.Fields) { l.with(f).Error(msg) }

// with maps "err" onto logrus' error key and drops nil values.
func (l Logger) with(f layercache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if v == nil {
			continue
		}
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
