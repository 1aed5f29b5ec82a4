package executor

import (
	"bytes"
	"context"
	"encoding/gob"
	"iter"
	"sync"

	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/hooks"
	"github.com/amorsize/amorsize/pkg/plan"
	"github.com/amorsize/amorsize/pkg/pool"
	"github.com/amorsize/amorsize/pkg/stream"
)

// RunStream executes sp lazily, yielding results through an iter.Seq[R]
// instead of collecting a slice. It never materialises more than
// sp.BufferSize items ahead of the consumer, so an UnboundedStream data
// handle (spec.md §3.1) can be driven safely. If sp.Ordered, results are
// yielded in input order (buffering out-of-order completions until their
// turn); otherwise they are yielded as each item completes.
func RunStream[T, R any](ctx context.Context, job Job[T, R], sp stream.StreamPlan[T], mgr *pool.Manager, reg *hooks.Registry) iter.Seq[R] {
	return func(yield func(R) bool) {
		if reg != nil {
			reg.Invoke(hooks.OnPlan, hooks.PlanEvent{
				ExecutorKind: string(sp.ExecutorKind),
				NWorkers:     sp.NWorkers,
				Chunksize:    sp.Chunksize,
				Rejected:     sp.OptimizationPlan.RejectionReason != plan.NoRejection,
				Explanation:  sp.Explanation,
			})
		}

		if sp.ExecutorKind == costmodel.ExecutorSerial {
			runStreamSerial(ctx, job, sp, reg, yield)
			return
		}

		key := pool.Key{Kind: sp.ExecutorKind, NWorkers: sp.NWorkers}
		h, err := mgr.Acquire(key)
		if err != nil {
			if reg != nil {
				reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: err, Context: "stream acquire"})
			}
			return
		}
		defer mgr.Release(h)

		runStreamPooled(ctx, job, sp, h, reg, yield)
	}
}

func runStreamSerial[T, R any](ctx context.Context, job Job[T, R], sp stream.StreamPlan[T], reg *hooks.Registry, yield func(R) bool) {
	for it := range sp.DataHandle.All() {
		if ctx.Err() != nil {
			return
		}
		r, err := job.Func(it)
		if err != nil {
			if reg != nil {
				reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: err, Context: "stream serial"})
			}
			continue
		}
		if !yield(r) {
			return
		}
	}
}

type streamSlot[R any] struct {
	idx int
	r   R
	err error
}

func runStreamPooled[T, R any](ctx context.Context, job Job[T, R], sp stream.StreamPlan[T], h *pool.Handle, reg *hooks.Registry, yield func(R) bool) {
	next, stop := iter.Pull(sp.DataHandle.All())
	defer stop()

	// quit unblocks every outstanding feeder/worker goroutine as soon as
	// this function returns, including an early break by the consumer
	// (yield returning false) — without it those goroutines would leak,
	// stuck sending into a channel nobody reads anymore.
	quit := make(chan struct{})
	defer close(quit)

	bufSize := sp.BufferSize
	if bufSize < 1 {
		bufSize = 1
	}
	sem := make(chan struct{}, bufSize)
	outCh := make(chan streamSlot[R], bufSize)

	var wg sync.WaitGroup
	go func() {
		idx := 0
	feed:
		for {
			if ctx.Err() != nil {
				break
			}
			it, ok := next()
			if !ok {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-quit:
				break feed
			}
			wg.Add(1)
			go func(i int, item T) {
				defer wg.Done()
				r, err := dispatchOne(job, item, h, sp.ExecutorKind)
				select {
				case outCh <- streamSlot[R]{idx: i, r: r, err: err}:
				case <-quit:
				}
			}(idx, it)
			idx++
		}
		wg.Wait()
		close(outCh)
	}()

	// A sem slot is held from dispatch until the result is handed to the
	// consumer, so dispatched-but-undelivered items never exceed bufSize.
	if !sp.Ordered {
		for s := range outCh {
			<-sem
			if !deliver(s, reg, yield) {
				return
			}
		}
		return
	}

	pending := make(map[int]streamSlot[R])
	want := 0
	for s := range outCh {
		pending[s.idx] = s
		for {
			nextSlot, ok := pending[want]
			if !ok {
				break
			}
			delete(pending, want)
			want++
			<-sem
			if !deliver(nextSlot, reg, yield) {
				return
			}
		}
	}
}

func deliver[R any](s streamSlot[R], reg *hooks.Registry, yield func(R) bool) bool {
	if s.err != nil {
		if reg != nil {
			reg.Invoke(hooks.OnError, hooks.ErrorEvent{Err: s.err, Context: "stream"})
		}
		return true
	}
	if reg != nil && reg.Active(hooks.OnProgress) {
		reg.Invoke(hooks.OnProgress, hooks.ProgressEvent{})
	}
	return yield(s.r)
}

func dispatchOne[T, R any](job Job[T, R], item T, h *pool.Handle, kind costmodel.ExecutorKind) (R, error) {
	var zero R
	switch kind {
	case costmodel.ExecutorThread:
		var r R
		var err error
		done := make(chan struct{})
		submitErr := h.Thread.Submit(func() {
			defer close(done)
			r, err = job.Func(item)
		})
		if submitErr != nil {
			return zero, submitErr
		}
		<-done
		return r, err
	case costmodel.ExecutorProcess:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(item); err != nil {
			return zero, err
		}
		out, err := h.Process.Dispatch(job.TaskName, buf.Bytes())
		if err != nil {
			return zero, err
		}
		var r R
		if err := gob.NewDecoder(bytes.NewReader(out)).Decode(&r); err != nil {
			return zero, err
		}
		return r, nil
	default:
		return job.Func(item)
	}
}
