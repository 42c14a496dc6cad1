package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	g := New(0)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i], _ = g.Do(context.Background(), "k", fn)
		}(i)
	}

	// wait until the slot exists, give the rest time to attach
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != 42 {
			t.Fatalf("caller %d: v=%v err=%v", i, results[i], errs[i])
		}
	}
	if g.Len() != 0 {
		t.Fatalf("slot should be torn down after completion, Len=%d", g.Len())
	}
}

func TestDoSharesSameErrorAndRetries(t *testing.T) {
	g := New(0)
	boom := errors.New("boom")
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i], _ = g.Do(context.Background(), "x", fn)
		}(i)
	}
	for !g.InFlight("x") {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != boom {
			t.Fatalf("caller %d: err=%v want boom", i, err)
		}
	}

	// failure is not remembered; the next call runs fn again
	_, err, _ := g.Do(context.Background(), "x", fn)
	if err != boom || calls.Load() != 2 {
		t.Fatalf("retry: err=%v calls=%d", err, calls.Load())
	}
}

func TestDoWaiterCancelDoesNotCancelComputation(t *testing.T) {
	g := New(0)
	started := make(chan struct{})
	release := make(chan struct{})
	var fnCtxErr atomic.Value

	fn := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			fnCtxErr.Store(err)
		}
		return "v", nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(leaderCtx, "k", fn)
		leaderErr <- err
	}()
	<-started

	followerRes := make(chan any, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "k", fn)
		followerRes <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader should detach with context.Canceled, got %v", err)
	}

	close(release)
	if v := <-followerRes; v != "v" {
		t.Fatalf("follower got %v, want v", v)
	}
	if fnCtxErr.Load() != nil {
		t.Fatalf("computation context canceled while a waiter remained: %v", fnCtxErr.Load())
	}
}

func TestDoLastWaiterCancelCancelsComputation(t *testing.T) {
	g := New(0)
	canceled := make(chan struct{})

	fn := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _, _ = g.Do(ctx1, "k", fn) }()
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}
	go func() { defer wg.Done(); _, _, _ = g.Do(ctx2, "k", fn) }()
	time.Sleep(20 * time.Millisecond)

	cancel1()
	select {
	case <-canceled:
		t.Fatalf("computation canceled while one waiter remained")
	case <-time.After(30 * time.Millisecond):
	}

	cancel2()
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatalf("computation not canceled after all waiters left")
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for g.InFlight("k") {
		if time.Now().After(deadline) {
			t.Fatalf("abandoned slot should be removed once fn returns")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDoAbandonedComputationIsNotOverlapped(t *testing.T) {
	g := New(0)
	release := make(chan struct{})
	var running, peak, calls atomic.Int32

	// fn ignores its context, so the abandoned run keeps going
	fn := func(context.Context) (any, error) {
		n := calls.Add(1)
		if r := running.Add(1); r > peak.Load() {
			peak.Store(r)
		}
		defer running.Add(-1)
		if n == 1 {
			<-release
		}
		return n, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ctx, "k", fn)
		first <- err
	}()
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: err=%v want Canceled", err)
	}

	second := make(chan any, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "k", fn)
		second <- v
	}()

	select {
	case v := <-second:
		t.Fatalf("second caller returned %v while the abandoned run was still going", v)
	case <-time.After(30 * time.Millisecond):
	}
	if calls.Load() != 1 {
		t.Fatalf("fn started again before the abandoned run returned (calls=%d)", calls.Load())
	}

	close(release)
	if v := <-second; v != int32(2) {
		t.Fatalf("second caller got %v, want a fresh run", v)
	}
	if peak.Load() != 1 {
		t.Fatalf("fn overlapped for one key (peak=%d)", peak.Load())
	}
}

func TestDoWaitingOnAbandonedHonoursContext(t *testing.T) {
	g := New(0)
	release := make(chan struct{})
	defer close(release)
	fn := func(context.Context) (any, error) {
		<-release
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _, _ = g.Do(ctx, "k", fn) }()
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)

	tctx, tcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer tcancel()
	if _, err, _ := g.Do(tctx, "k", fn); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestDoTimeoutDetachesOnlyThatWaiter(t *testing.T) {
	g := New(0)
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		<-release
		return 1, nil
	}

	done := make(chan any, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "k", fn)
		done <- v
	}()
	for !g.InFlight("k") {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err, _ := g.Do(ctx, "k", fn); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if !g.InFlight("k") {
		t.Fatalf("timeout of one waiter must not tear down the computation")
	}
	close(release)
	if v := <-done; v != 1 {
		t.Fatalf("remaining waiter got %v", v)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	g := New(0)
	_, err, _ := g.Do(context.Background(), "p", func(context.Context) (any, error) {
		panic("kaboom")
	})
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" || pe.Key != "p" {
		t.Fatalf("expected PanicError, got %T %v", err, err)
	}
	if g.Len() != 0 {
		t.Fatalf("slot leaked after panic")
	}
}

func TestDoIndependentKeysRunInParallel(t *testing.T) {
	g := New(0)
	var running, peak atomic.Int32
	fn := func(context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, k := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _, _ = g.Do(context.Background(), k, fn)
		}(k)
	}
	wg.Wait()
	if peak.Load() < 2 {
		t.Fatalf("distinct keys were serialized (peak=%d)", peak.Load())
	}
}

func TestMaxInFlightBackpressure(t *testing.T) {
	g := New(1)
	release := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "a", func(context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()
	for !g.InFlight("a") {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	_, err, _ := g.Do(ctx, "b", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || ran.Load() {
		t.Fatalf("second key should block on capacity: err=%v ran=%v", err, ran.Load())
	}

	close(release)
	if _, err, _ := g.Do(context.Background(), "b", func(context.Context) (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("after release: %v", err)
	}
}
