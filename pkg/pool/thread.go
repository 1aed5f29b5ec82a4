package pool

import (
	"sync"

	"github.com/amorsize/amorsize/pkg/ambient"
)

// job is one unit of work submitted to a ThreadPool.
type job struct {
	fn func()
}

// ThreadPool is a fixed-size set of goroutine workers draining a shared job
// channel — the long-lived, reusable analogue of the semaphore-bounded
// pattern in the pack's pipz WorkerPool, adapted to a job-channel pool
// since the Pool Manager (spec.md §4.F) must be a reusable object across
// many dispatch calls, not a per-call construct.
type ThreadPool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewThreadPool starts n worker goroutines draining a shared job channel.
func NewThreadPool(n int) *ThreadPool {
	if n < 1 {
		n = 1
	}
	p := &ThreadPool{jobs: make(chan job, n*4)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *ThreadPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		// Marked only while a job is actively running, not for the
		// worker's whole idle lifetime: the marker is process-wide
		// (goroutines share no per-call context here), so keeping the
		// true window as narrow as possible limits false positives
		// from unrelated planning calls on other goroutines.
		restore := ambient.MarkThreadWorker()
		j.fn()
		restore()
	}
}

// Submit enqueues fn to run on the next free worker. It blocks if every
// worker is busy and the internal queue is full.
func (p *ThreadPool) Submit(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	p.jobs <- job{fn: fn}
	return nil
}

// Close stops accepting new work and waits for in-flight jobs to finish.
func (p *ThreadPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Size returns the number of worker goroutines.
func (p *ThreadPool) Size() int {
	return cap(p.jobs) / 4
}
