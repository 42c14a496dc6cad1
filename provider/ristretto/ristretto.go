package ristretto

import (
	"errors"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/layercache/provider"
)

// Provider is an L1 store backed by Ristretto. Values are held as-is.
type Provider struct {
	c       *rc.Cache
	onEvict atomic.Pointer[func(any)]
}

var (
	_ pr.Local            = (*Provider)(nil)
	_ pr.EvictionNotifier = (*Provider)(nil)
)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (layercache passes cost per Set).
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{}
	notify := func(item *rc.Item) {
		if fn := p.onEvict.Load(); fn != nil && item != nil && item.Value != nil {
			(*fn)(item.Value)
		}
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		// costs come from layercache; don't add Ristretto's per-item overhead
		IgnoreInternalCost: true,
		OnEvict:            notify,
		OnReject:           notify,
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(key string) (any, bool) {
	return p.c.Get(key)
}

// Set waits for Ristretto's write buffer to drain so the value is visible
// to the next Get.
func (p *Provider) Set(key string, value any, cost int64, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	if ok {
		p.c.Wait()
	}
	return ok
}

func (p *Provider) Del(key string) {
	p.c.Del(key)
}

func (p *Provider) OnEvict(fn func(value any)) {
	p.onEvict.Store(&fn)
}

func (p *Provider) Close() error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters (nil unless Config.Metrics is set).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
