// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    StaleEvery:    100,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := layercache.New(layercache.Options{
//	    Local:  l1,
//	    Remote: l2,
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/layercache"
)

// Hooks forwards events to inner on worker goroutines. Events that do not
// fit in the queue are dropped and counted.
type Hooks struct {
	inner   layercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards q against send-after-close
	closed  bool
	dropped atomic.Uint64
}

var _ layercache.Hooks = (*Hooks)(nil)

func New(inner layercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full
// or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) RemoteError(op, k string, err error) {
	h.try(func() { h.inner.RemoteError(op, k, err) })
}
func (h *Hooks) SerializationSkipped(k string, err error) {
	h.try(func() { h.inner.SerializationSkipped(k, err) })
}
func (h *Hooks) FactoryFailed(k string, err error) { h.try(func() { h.inner.FactoryFailed(k, err) }) }
func (h *Hooks) StaleServed(k string)              { h.try(func() { h.inner.StaleServed(k) }) }
func (h *Hooks) WriteDiscarded(k string)           { h.try(func() { h.inner.WriteDiscarded(k) }) }
func (h *Hooks) InvalidateOutage(k string, ge, de error) {
	h.try(func() { h.inner.InvalidateOutage(k, ge, de) })
}
