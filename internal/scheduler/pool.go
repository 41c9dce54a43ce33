package scheduler

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPoolShutdown is returned when a run is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("run pool is shut down")

	// ErrAlreadyRunning is returned when a run with the same key is still
	// in flight.
	ErrAlreadyRunning = errors.New("run already in flight")
)

// PoolMetrics is a snapshot of run pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// RunPool executes keyed runs on a bounded set of goroutines. Each run is
// identified by a key (the schedule ID); while a key is in flight, further
// submissions for it are rejected with ErrAlreadyRunning. This keeps
// firings of one schedule sequential while letting distinct schedules run
// concurrently up to the pool size.
type RunPool struct {
	slots chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	active    int64
	completed int64
	failed    int64
	panics    int64
}

// NewRunPool creates a pool running at most size runs concurrently.
func NewRunPool(size int) *RunPool {
	if size <= 0 {
		size = 1
	}
	return &RunPool{
		slots:    make(chan struct{}, size),
		done:     make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Submit reserves the key and enqueues the run. It blocks while the pool is
// at capacity, honoring context cancellation. The key stays reserved until
// the run finishes, so a slow run cannot pile up duplicates behind itself.
func (p *RunPool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := p.reserve(key); err != nil {
		return err
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.unreserve(key)
		return ctx.Err()
	case <-p.done:
		p.unreserve(key)
		return ErrPoolShutdown
	}

	// Shutdown may have raced the slot acquisition. wg.Add must happen
	// under the lock so Shutdown's wg.Wait cannot miss this run.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		p.unreserve(key)
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active++
	p.mu.Unlock()

	go p.run(ctx, key, fn)
	return nil
}

func (p *RunPool) run(ctx context.Context, key string, fn func(ctx context.Context) error) {
	var failed, panicked bool
	defer func() {
		if r := recover(); r != nil {
			failed, panicked = true, true
		}
		p.mu.Lock()
		p.active--
		delete(p.inflight, key)
		if panicked {
			p.panics++
		}
		if failed {
			p.failed++
		} else {
			p.completed++
		}
		p.mu.Unlock()
		<-p.slots
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		failed = true
	}
}

func (p *RunPool) reserve(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	if _, ok := p.inflight[key]; ok {
		return ErrAlreadyRunning
	}
	p.inflight[key] = struct{}{}
	return nil
}

func (p *RunPool) unreserve(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// Wait blocks until every submitted run has finished.
func (p *RunPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and drains in-flight runs.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *RunPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolMetrics{
		Active:    p.active,
		Completed: p.completed,
		Failed:    p.failed,
		Panics:    p.panics,
	}
}
