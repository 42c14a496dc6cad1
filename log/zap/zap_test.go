package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/layercache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerForwardsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("i", layercache.Fields{"key": "k"})
	l.Warn("w", layercache.Fields{"err": errors.New("boom"), "cause": nil})
	l.Error("e", layercache.Fields{"n": 3})

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level=%v want %v", i, e.Level, wantLevels[i])
		}
		if e.LoggerName != "layercache" {
			t.Fatalf("entry %d logger=%q", i, e.LoggerName)
		}
	}
	if got := entries[1].ContextMap()["key"]; got != "k" {
		t.Fatalf("key field=%v", got)
	}
	warn := entries[2].ContextMap()
	if warn["err"] != "boom" {
		t.Fatalf("err field=%v", warn["err"])
	}
	if _, ok := warn["cause"]; ok {
		t.Fatalf("nil fields should be dropped")
	}
}
