package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/layercache"
)

func TestLoggerWritesGroupedAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("filtered", layercache.Fields{"key": "k"})
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered: %s", buf.String())
	}

	l.Warn("remote get failed", layercache.Fields{"key": "k", "err": errors.New("boom"), "cause": nil})
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v (%s)", err, buf.String())
	}
	if rec["level"] != "WARN" || rec["msg"] != "remote get failed" {
		t.Fatalf("record: %v", rec)
	}
	grp, ok := rec["layercache"].(map[string]any)
	if !ok {
		t.Fatalf("attrs should be grouped: %v", rec)
	}
	if grp["key"] != "k" || grp["err"] != "boom" {
		t.Fatalf("attrs: %v", grp)
	}
	if _, ok := grp["cause"]; ok {
		t.Fatalf("nil fields should be dropped")
	}
}
