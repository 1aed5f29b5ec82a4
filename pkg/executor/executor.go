// Package executor implements the Plan Executor adapter of spec.md §4.H: it
// consumes an OptimizationPlan and the original data handle, dispatches
// serial/thread/process work via pkg/pool, and notifies pkg/hooks at chunk
// and progress boundaries.
package executor

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/hooks"
	"github.com/amorsize/amorsize/pkg/plan"
	"github.com/amorsize/amorsize/pkg/pool"
)

// Job names the work a plan execution applies to each item. TaskName is
// only consulted for ExecutorProcess: it must match a name registered with
// pool.Register in both this process and the re-exec'd worker, since a
// subprocess cannot receive Func directly.
type Job[T, R any] struct {
	Func     func(T) (R, error)
	TaskName string
}

// Options controls cancellation behaviour. GracePeriod is how long Run
// waits for in-flight chunks after ctx is cancelled before force-closing
// the pool manager (spec.md §5's default 5s).
type Options struct {
	GracePeriod time.Duration
}

func DefaultOptions() Options {
	return Options{GracePeriod: 5 * time.Second}
}

type runResult[R any] struct {
	results []R
	err     error
}

// Run applies job to every item described by p, per spec.md §4.H:
//   - serial executes on the caller's goroutine.
//   - thread dispatches chunks to a pooled ThreadPool acquired from mgr.
//   - process dispatches chunks to a pooled ProcessPool acquired from mgr,
//     gob-encoding each item across the subprocess boundary.
//
// Results are returned in input order. reg may be nil; if so, no hook is
// ever invoked and the per-item tick bookkeeping is skipped entirely.
func Run[T, R any](ctx context.Context, job Job[T, R], p plan.OptimizationPlan[T], mgr *pool.Manager, opts Options, reg *hooks.Registry) ([]R, error) {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultOptions().GracePeriod
	}

	// Run collects the whole input into memory before dispatching, which
	// is only safe for a collection the Planner never intended to stream
	// unboundedly. An UnboundedStream handle must go through RunStream
	// instead, which pulls items lazily and bounds how far ahead of the
	// consumer it runs.
	if p.DataHandle.Kind() == data.UnboundedStream {
		return nil, fmt.Errorf("executor: Run cannot materialise an UnboundedStream collection; use RunStream instead")
	}

	items := slices.Collect(p.DataHandle.All())

	if reg != nil {
		reg.Invoke(hooks.OnPlan, hooks.PlanEvent{
			ExecutorKind: string(p.ExecutorKind),
			NWorkers:     p.NWorkers,
			Chunksize:    p.Chunksize,
			Rejected:     p.RejectionReason != plan.NoRejection,
			Explanation:  p.Explanation,
		})
	}

	if p.ExecutorKind == costmodel.ExecutorSerial || len(items) == 0 {
		return runSerial(ctx, job, items, reg)
	}

	key := pool.Key{Kind: p.ExecutorKind, NWorkers: p.NWorkers}
	h, err := mgr.Acquire(key)
	if err != nil {
		return nil, fmt.Errorf("executor: acquire pool: %w", err)
	}
	defer mgr.Release(h)

	resultCh := make(chan runResult[R], 1)
	go func() {
		var r []R
		var err error
		switch p.ExecutorKind {
		case costmodel.ExecutorThread:
			r, err = runThread(ctx, job, items, p.Chunksize, h.Thread, reg)
		case costmodel.ExecutorProcess:
			r, err = runProcess(ctx, job, items, p.Chunksize, h.Process, reg)
		default:
			err = fmt.Errorf("executor: unsupported executor kind %q", p.ExecutorKind)
		}
		resultCh <- runResult[R]{results: r, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.results, res.err
	case <-ctx.Done():
		select {
		case res := <-resultCh:
			return res.results, res.err
		case <-time.After(opts.GracePeriod):
			_ = mgr.Shutdown()
			return nil, fmt.Errorf("executor: grace period exceeded waiting for in-flight chunks: %w", ctx.Err())
		}
	}
}

func runSerial[T, R any](ctx context.Context, job Job[T, R], items []T, reg *hooks.Registry) ([]R, error) {
	results := make([]R, 0, len(items))
	for i, it := range items {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		r, err := job.Func(it)
		if err != nil {
			if reg != nil {
				reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: err, Context: "serial"})
			}
			return results, err
		}
		results = append(results, r)
		if reg != nil && reg.Active(hooks.OnProgress) {
			reg.Invoke(hooks.OnProgress, hooks.ProgressEvent{ItemsDone: i + 1, ItemsTotal: len(items)})
		}
	}
	if reg != nil {
		reg.Invoke(hooks.OnChunkDone, hooks.ChunkDoneEvent{ChunkIndex: 0, ItemCount: len(items)})
	}
	return results, nil
}

func runThread[T, R any](ctx context.Context, job Job[T, R], items []T, chunksize int, tp *pool.ThreadPool, reg *hooks.Registry) ([]R, error) {
	chunks := chunkSlice(items, chunksize)
	results := make([]R, len(items))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var done atomic.Int64
	total := len(items)

	for ci, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		ci, chunk, offset := ci, chunk, ci*chunksize
		wg.Add(1)
		submitErr := tp.Submit(func() {
			defer wg.Done()
			start := time.Now()
			for i, it := range chunk {
				if ctx.Err() != nil {
					return
				}
				r, err := job.Func(it)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					if reg != nil {
						reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: err, Context: "thread"})
					}
					continue
				}
				results[offset+i] = r
				n := done.Add(1)
				if reg != nil && reg.Active(hooks.OnProgress) {
					reg.Invoke(hooks.OnProgress, hooks.ProgressEvent{ItemsDone: int(n), ItemsTotal: total})
				}
			}
			if reg != nil {
				reg.Invoke(hooks.OnChunkDone, hooks.ChunkDoneEvent{ChunkIndex: ci, ItemCount: len(chunk), ElapsedSeconds: time.Since(start).Seconds()})
			}
		})
		if submitErr != nil {
			wg.Done()
			return results, submitErr
		}
	}
	wg.Wait()
	return results, firstErr
}

func runProcess[T, R any](ctx context.Context, job Job[T, R], items []T, chunksize int, pp *pool.ProcessPool, reg *hooks.Registry) ([]R, error) {
	chunks := chunkSlice(items, chunksize)
	results := make([]R, len(items))
	var done atomic.Int64
	total := len(items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(pp.Size(), 1))

	for ci, chunk := range chunks {
		ci, chunk, offset := ci, chunk, ci*chunksize
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			start := time.Now()
			for i, it := range chunk {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				var buf bytes.Buffer
				if err := gob.NewEncoder(&buf).Encode(it); err != nil {
					return fmt.Errorf("executor: encode item: %w", err)
				}
				out, err := pp.Dispatch(job.TaskName, buf.Bytes())
				if err != nil {
					if reg != nil {
						reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: err, Context: "process"})
					}
					return err
				}
				var r R
				if err := gob.NewDecoder(bytes.NewReader(out)).Decode(&r); err != nil {
					return fmt.Errorf("executor: decode result: %w", err)
				}
				results[offset+i] = r
				n := done.Add(1)
				if reg != nil && reg.Active(hooks.OnProgress) {
					reg.Invoke(hooks.OnProgress, hooks.ProgressEvent{ItemsDone: int(n), ItemsTotal: total})
				}
			}
			if reg != nil {
				reg.Invoke(hooks.OnChunkDone, hooks.ChunkDoneEvent{ChunkIndex: ci, ItemCount: len(chunk), ElapsedSeconds: time.Since(start).Seconds()})
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func chunkSlice[T any](items []T, chunksize int) [][]T {
	if chunksize < 1 {
		chunksize = 1
	}
	var chunks [][]T
	for i := 0; i < len(items); i += chunksize {
		end := i + chunksize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
