package plan

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/probe"
	"github.com/amorsize/amorsize/pkg/sample"
)

func ints(n int) data.Collection[int] {
	xs := make([]int, n)
	for i := range xs {
		xs[i] = i
	}
	return data.FromSlice(xs)
}

func intSeq(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; i < n; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

func TestPlan_EmptyInput(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: true}
	p, _ := Plan(task, ints(0), DefaultOptions())

	assert.Equal(t, EmptyInput, p.RejectionReason)
	assert.Equal(t, costmodel.ExecutorSerial, p.ExecutorKind)
	assert.Equal(t, 1, p.NWorkers)
}

func TestPlan_TrivialInput(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: true}
	p, _ := Plan(task, ints(1), DefaultOptions())

	assert.Equal(t, TrivialInput, p.RejectionReason)
}

func TestPlan_UnpicklableFunctionForcesProcessRejection(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: false}
	p, s := Plan(task, ints(100), DefaultOptions())

	assert.Equal(t, UnpicklableFunction, p.RejectionReason)
	assert.False(t, s.FuncPicklable)
	assert.NotEmpty(t, p.Explanation)
}

func TestPlan_SamplingErrorRejectsParallel(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	boom := errors.New("boom")
	task := sample.Task[int, int]{
		Func: func(x int) (int, error) {
			if x == 1 {
				return 0, boom
			}
			return x, nil
		},
		ProcessSafe: true,
	}
	p, s := Plan(task, ints(100), DefaultOptions())

	assert.Equal(t, SamplingError, p.RejectionReason)
	assert.True(t, s.Errored)
}

func TestPlan_WorkloadTooShortRejectsTrivialCompute(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x + 1, nil }, ProcessSafe: true}
	p, _ := Plan(task, ints(10000), DefaultOptions())

	// A trivial add is far cheaper than spawn cost; the plan must reject to
	// serial with either WorkloadTooShort or InsufficientSpeedup depending
	// on measured timing noise, but it must never recommend parallelism.
	assert.NotEqual(t, NoRejection, p.RejectionReason)
	assert.Equal(t, 1, p.NWorkers)
}

func TestPlan_HeavyHomogeneousRecommendsParallel(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{
		Func: func(x int) (int, error) {
			time.Sleep(2 * time.Millisecond)
			return x, nil
		},
		ProcessSafe: true,
	}
	opts := DefaultOptions()
	opts.PoolWarm = true
	p, _ := Plan(task, ints(500), opts)

	require.Equal(t, NoRejection, p.RejectionReason)
	assert.Greater(t, p.NWorkers, 1)
	assert.GreaterOrEqual(t, p.PredictedSpeedup, 1.2)
	assert.LessOrEqual(t, p.PredictedSpeedup, float64(p.NWorkers))
}

func TestPlan_IoBoundSwitchesToThreadExecutor(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	// Sleeping without CPU work drives cpu_time_ratio near zero.
	task := sample.Task[int, int]{
		Func: func(x int) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return x, nil
		},
		ProcessSafe: true,
	}
	opts := DefaultOptions()
	opts.PoolWarm = true
	p, s := Plan(task, ints(500), opts)

	if s.WorkloadType == sample.IOBound {
		assert.Equal(t, costmodel.ExecutorThread, p.ExecutorKind)
		found := false
		for _, w := range p.Warnings {
			if w.Code == WarnIoBoundHint {
				found = true
			}
		}
		assert.True(t, found, "expected IoBoundHint warning")
	}
}

func TestPlan_DataHandleReplaysFullSequence(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: true}
	p, _ := Plan(task, ints(20), DefaultOptions())

	var out []int
	for v := range p.DataHandle.All() {
		out = append(out, v)
	}
	assert.Len(t, out, 20)
	assert.Equal(t, 0, out[0])
	assert.Equal(t, 19, out[19])
}

func TestPlan_Determinism(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: true}
	opts := DefaultOptions()
	p1, _ := Plan(task, ints(3), opts)
	p2, _ := Plan(task, ints(3), opts)

	assert.Equal(t, p1.RejectionReason, p2.RejectionReason)
	assert.Equal(t, p1.NWorkers, p2.NWorkers)
}

func TestPlan_BoundedOnePass_HonorsEstimatedCount(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{
		Func: func(x int) (int, error) {
			time.Sleep(2 * time.Millisecond)
			return x, nil
		},
		ProcessSafe: true,
	}
	opts := DefaultOptions()
	opts.PoolWarm = true
	opts.EstimatedCount = 500

	coll := data.FromBoundedSeq(intSeq(500))
	p, _ := Plan(task, coll, opts)

	require.Equal(t, NoRejection, p.RejectionReason)
	assert.Equal(t, 500, p.CountTotal)
	assert.Greater(t, p.NWorkers, 1)
}

func TestPlan_UnboundedStream_WithoutEstimateStillConsidersParallel(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{
		Func: func(x int) (int, error) {
			time.Sleep(2 * time.Millisecond)
			return x, nil
		},
		ProcessSafe: true,
	}
	opts := DefaultOptions()
	opts.PoolWarm = true

	coll := data.FromUnboundedSeq(intSeq(500))
	p, _ := Plan(task, coll, opts)

	// With no EstimatedCount and a sample that doesn't drain the stream
	// (500 items, sample size 5), the true count is unknowable — it must
	// not collapse to the 5-item sample size and get reflexively rejected
	// as WorkloadTooShort the way a prior bug did.
	require.Equal(t, NoRejection, p.RejectionReason)
	assert.Equal(t, CountUnknown, p.CountTotal)
	assert.Greater(t, p.NWorkers, 1)

	found := false
	for _, w := range p.Warnings {
		if w.Code == WarnUnknownCount {
			found = true
		}
	}
	assert.True(t, found, "expected UnknownCount warning")
}

func TestPlan_BoundedOnePass_ExhaustedSampleRevealsExactCount(t *testing.T) {
	probe.Reset()
	t.Cleanup(probe.Reset)

	task := sample.Task[int, int]{Func: func(x int) (int, error) { return x, nil }, ProcessSafe: true}
	opts := DefaultOptions()

	coll := data.FromBoundedSeq(intSeq(1))
	p, _ := Plan(task, coll, opts)

	// Sampling pulls at most opts.SampleSize (5) items; draining the
	// one-pass collection after a single item proves the true count is
	// exactly 1, the same as a RandomAccess collection of length 1.
	assert.Equal(t, TrivialInput, p.RejectionReason)
	assert.Equal(t, 1, p.CountTotal)
}

func TestCandidateWorkerCounts(t *testing.T) {
	assert.Equal(t, []int{1, 2, 4, 8}, candidateWorkerCounts(8))
	assert.Equal(t, []int{1, 2, 4, 6}, candidateWorkerCounts(6))
	assert.Equal(t, []int{1}, candidateWorkerCounts(1))
}

func TestFitMemoryBudget_StepsDownUntilFits(t *testing.T) {
	c := fitMemoryBudget(4, 100, 1000, 1024, 4*50*1024)
	assert.LessOrEqual(t, c, 50)
	assert.Greater(t, c, 0)
}

func TestFitMemoryBudget_NoneFit(t *testing.T) {
	c := fitMemoryBudget(4, 1, 1000, 1<<30, 1)
	assert.Equal(t, 0, c)
}
