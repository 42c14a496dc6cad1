// Package sloghooks implements layercache.Hooks on top of log/slog with
// optional sampling and key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	StaleEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	staleCtr    atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("layercache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) RemoteError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("layercache.remote_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SerializationSkipped(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("layercache.serialization_skipped",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) FactoryFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("layercache.factory_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StaleServed(key string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("layercache.stale_served", "key", h.redact(key))
}

func (h *Hooks) WriteDiscarded(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("layercache.write_discarded", "key", h.redact(key))
}

func (h *Hooks) InvalidateOutage(key string, genErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("layercache.invalidate_outage",
		"key", h.redact(key),
		"gen_err", genErr,
		"del_err", delErr)
}
