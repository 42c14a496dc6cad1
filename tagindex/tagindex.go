// Package tagindex tracks which cache keys carry which tags so that every key
// sharing a tag can be invalidated at once.
//
// Each association is stamped with the write sequence of the entry that
// created it. Removal can be made conditional on that sequence, which lets
// the cache drop the associations of an evicted or invalidated entry without
// clobbering those of a newer entry written under the same key.
package tagindex

import (
	"sync"
	"time"
)

// Member is a key indexed under a tag together with its write sequence.
type Member struct {
	Key string
	Seq uint64
}

type record struct {
	tags      []string
	seq       uint64
	expiresAt time.Time // zero: never
}

// Index is an in-process tag index. Safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	byTag map[string]map[string]struct{}
	byKey map[string]record

	now func() time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures an Index.
type Option func(*Index)

// WithClock sets the clock the sweep loop compares expiresAt against.
// Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(x *Index) {
		if now != nil {
			x.now = now
		}
	}
}

// New returns an Index. sweepInterval > 0 starts a loop that drops
// associations whose entries are past expiresAt.
func New(sweepInterval time.Duration, opts ...Option) *Index {
	x := &Index{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]record),
		now:   time.Now,
	}
	for _, o := range opts {
		o(x)
	}
	if sweepInterval > 0 {
		x.ticker = time.NewTicker(sweepInterval)
		x.stopCh = make(chan struct{})
		x.wg.Add(1)
		go x.sweepLoop()
	}
	return x
}

// Set replaces key's associations with tags. Writes carrying an older seq
// than the one already recorded are ignored. Empty tags clear the key.
func (x *Index) Set(key string, tags []string, seq uint64, expiresAt time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.byKey[key]; ok {
		if seq < old.seq {
			return
		}
		x.unlinkLocked(key, old.tags)
	}
	if len(tags) == 0 {
		delete(x.byKey, key)
		return
	}

	cp := make([]string, 0, len(tags))
	for _, tag := range tags {
		set, ok := x.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			x.byTag[tag] = set
		}
		if _, dup := set[key]; dup {
			continue
		}
		set[key] = struct{}{}
		cp = append(cp, tag)
	}
	x.byKey[key] = record{tags: cp, seq: seq, expiresAt: expiresAt}
}

// Members returns a snapshot of the live keys indexed under tag. Keys whose
// entries expired by now are dropped from the index instead of returned.
func (x *Index) Members(tag string, now time.Time) []Member {
	x.mu.Lock()
	defer x.mu.Unlock()

	set := x.byTag[tag]
	out := make([]Member, 0, len(set))
	var expired []string
	for k := range set {
		r := x.byKey[k]
		if r.expired(now) {
			expired = append(expired, k)
			continue
		}
		out = append(out, Member{Key: k, Seq: r.seq})
	}
	for _, k := range expired {
		x.unlinkLocked(k, x.byKey[k].tags)
		delete(x.byKey, k)
	}
	return out
}

// Tags returns the tags recorded for key.
func (x *Index) Tags(key string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.byKey[key]
	if !ok {
		return nil
	}
	return append([]string(nil), r.tags...)
}

// RemoveIf drops key's associations if they were written with seq.
// It reports whether anything was removed.
func (x *Index) RemoveIf(key string, seq uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.byKey[key]
	if !ok || r.seq != seq {
		return false
	}
	x.unlinkLocked(key, r.tags)
	delete(x.byKey, key)
	return true
}

// Remove drops key's associations unconditionally.
func (x *Index) Remove(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.byKey[key]
	if !ok {
		return false
	}
	x.unlinkLocked(key, r.tags)
	delete(x.byKey, key)
	return true
}

func (r record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

func (x *Index) unlinkLocked(key string, tags []string) {
	for _, tag := range tags {
		set := x.byTag[tag]
		delete(set, key)
		if len(set) == 0 {
			delete(x.byTag, tag)
		}
	}
}

// Sweep drops associations of entries that expired before now and returns
// how many keys were dropped.
func (x *Index) Sweep(now time.Time) int {
	var expired []string
	x.mu.RLock()
	for k, r := range x.byKey {
		if r.expired(now) {
			expired = append(expired, k)
		}
	}
	x.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	x.mu.Lock()
	for _, k := range expired {
		// re-check: the key may have been rewritten since the scan
		if r, ok := x.byKey[k]; ok && r.expired(now) {
			x.unlinkLocked(k, r.tags)
			delete(x.byKey, k)
			removed++
		}
	}
	x.mu.Unlock()
	return removed
}

func (x *Index) sweepLoop() {
	defer x.wg.Done()
	for {
		select {
		case <-x.ticker.C:
			x.Sweep(x.now())
		case <-x.stopCh:
			return
		}
	}
}

// Len returns the number of indexed keys.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byKey)
}

func (x *Index) Close() error {
	x.once.Do(func() {
		if x.stopCh != nil {
			close(x.stopCh)
			x.ticker.Stop()
			x.wg.Wait()
		}
	})
	return nil
}
