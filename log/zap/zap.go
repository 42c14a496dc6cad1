// Package zap adapts a *zap.Logger to layercache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/layercache"
	"go.uber.org/zap"
)

type Logger struct{ L *zap.Logger }

var _ layercache.Logger = Logger{}

// New names the logger "layercache" so cache events can be filtered.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("layercache")} }

func (z Logger) Debug(msg string, f layercache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f layercache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f layercache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f layercache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f layercache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case nil:
			// layercache passes err: nil for optional causes
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
