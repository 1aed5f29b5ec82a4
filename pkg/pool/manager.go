// Package pool implements the Pool Manager of spec.md §4.F: keyed,
// reusable thread and process worker pools with idle eviction, plus the
// process-pool IPC machinery (registry, framing, subprocess worker loop)
// that backs it.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/amorsize/amorsize/pkg/costmodel"
)

// Key identifies a reusable pool by executor kind and worker count.
type Key struct {
	Kind     costmodel.ExecutorKind
	NWorkers int
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Kind, k.NWorkers) }

// dispatcher is the minimal surface the manager needs from both pool
// kinds; callers reach the concrete pool through Handle.Thread/Process.
type dispatcher interface {
	Close() error
}

type managedPool struct {
	pool       dispatcher
	lastUsedAt time.Time
	refCount   int
}

// Manager maintains the PoolKey -> pool map of spec.md §4.F. It is
// thread-safe: the manager's own state is guarded by a mutex. Concurrent
// acquirers of the same key share one pool; the manager counts borrowers
// rather than handing out a pool exclusively.
type Manager struct {
	mu          sync.Mutex
	pools       map[Key]*managedPool
	idleTimeout time.Duration
	workerArgs  []string
}

// NewManager creates a Manager. workerArgs are the hidden CLI args a
// process-pool worker re-exec uses to select RunWorker instead of the
// normal main() path.
func NewManager(idleTimeout time.Duration, workerArgs ...string) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Manager{
		pools:       make(map[Key]*managedPool),
		idleTimeout: idleTimeout,
		workerArgs:  workerArgs,
	}
}

// Handle is a borrowed reference to a pool; callers must call Release when
// done so the manager can evict it once idle.
type Handle struct {
	key     Key
	mgr     *Manager
	Thread  *ThreadPool
	Process *ProcessPool
}

// Acquire returns a handle to the pool for key, creating it if absent.
func (m *Manager) Acquire(key Key) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.pools[key]
	if !ok {
		p, err := m.create(key)
		if err != nil {
			return nil, err
		}
		mp = &managedPool{pool: p}
		m.pools[key] = mp
	}
	mp.refCount++
	mp.lastUsedAt = time.Now()

	h := &Handle{key: key, mgr: m}
	switch v := mp.pool.(type) {
	case *ThreadPool:
		h.Thread = v
	case *ProcessPool:
		h.Process = v
	}
	return h, nil
}

func (m *Manager) create(key Key) (dispatcher, error) {
	switch key.Kind {
	case costmodel.ExecutorThread:
		return NewThreadPool(key.NWorkers), nil
	case costmodel.ExecutorProcess:
		return NewProcessPool(key.NWorkers, m.workerArgs...)
	default:
		return nil, fmt.Errorf("pool: unsupported executor kind %q", key.Kind)
	}
}

// Release decrements the handle's pool's refcount; the pool becomes
// eligible for idle eviction once refCount reaches 0.
func (m *Manager) Release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.pools[h.key]
	if !ok {
		return
	}
	if mp.refCount > 0 {
		mp.refCount--
	}
	mp.lastUsedAt = time.Now()
}

// CloseIdle evicts pools with refCount==0 whose last use is older than the
// idle timeout, as of now.
func (m *Manager) CloseIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed int
	for key, mp := range m.pools {
		if mp.refCount == 0 && now.Sub(mp.lastUsedAt) > m.idleTimeout {
			_ = mp.pool.Close()
			delete(m.pools, key)
			closed++
		}
	}
	return closed
}

// Shutdown closes every pool unconditionally, regardless of refcount.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, mp := range m.pools {
		if err := mp.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, key)
	}
	return firstErr
}

// Len reports the number of distinct pools currently held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}
