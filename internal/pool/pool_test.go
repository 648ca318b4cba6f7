package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newPool(t *testing.T, n int) *Pool[int] {
	t.Helper()
	workers := make([]int, n)
	for i := range workers {
		workers[i] = i
	}
	p, err := New(workers)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRequiresWorkers(t *testing.T) {
	if _, err := New[int](nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
}

func TestConcurrencyNeverExceedsSize(t *testing.T) {
	const size = 3
	p := newPool(t, size)
	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(int) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() > size {
		t.Fatalf("peak concurrency %d > %d", peak.Load(), size)
	}
	if s := p.Stats(); s.Busy != 0 || s.Idle != size || s.Waiting != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFIFOOrderAndSingleWake(t *testing.T) {
	p := newPool(t, 1)
	w, _ := p.Acquire(context.Background())

	order := make(chan int, 3)
	var positions []int
	var mu sync.Mutex
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			got, err := p.AcquireNotify(context.Background(), func(pos int) {
				mu.Lock()
				positions = append(positions, pos)
				mu.Unlock()
			})
			if err != nil {
				t.Error(err)
				return
			}
			order <- i
			p.Release(got)
		}()
		waitFor(t, func() bool { return p.Waiting() == i })
	}
	if s := p.Stats(); s.Busy != 1 || s.Waiting != 3 {
		t.Fatalf("stats = %+v", s)
	}

	p.Release(w)
	for want := 1; want <= 3; want++ {
		if got := <-order; got != want {
			t.Fatalf("woke %d, want %d", got, want)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(positions) != 3 || positions[0] != 1 || positions[2] != 3 {
		t.Fatalf("positions = %v", positions)
	}
}

func TestReleaseWakesExactlyOne(t *testing.T) {
	p := newPool(t, 1)
	w, _ := p.Acquire(context.Background())

	var acquired atomic.Int32
	for i := 0; i < 2; i++ {
		go func() {
			if _, err := p.Acquire(context.Background()); err == nil {
				acquired.Add(1)
			}
		}()
	}
	waitFor(t, func() bool { return p.Waiting() == 2 })

	p.Release(w)
	waitFor(t, func() bool { return acquired.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if acquired.Load() != 1 || p.Waiting() != 1 {
		t.Fatalf("acquired = %d, waiting = %d", acquired.Load(), p.Waiting())
	}
}

func TestAcquireCancel(t *testing.T) {
	p := newPool(t, 1)
	w, _ := p.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errc <- err
	}()
	waitFor(t, func() bool { return p.Waiting() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if p.Waiting() != 0 {
		t.Fatal("canceled waiter still queued")
	}

	p.Release(w)
	if _, ok := p.TryAcquire(); !ok {
		t.Fatal("worker lost after cancel")
	}
	if _, ok := p.TryAcquire(); ok {
		t.Fatal("pool of one handed out two workers")
	}

	done, stop := context.WithCancel(context.Background())
	stop()
	if _, err := p.Acquire(done); !errors.Is(err, context.Canceled) {
		t.Fatalf("pre-canceled err = %v", err)
	}
}
