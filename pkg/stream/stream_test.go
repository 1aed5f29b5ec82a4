package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/plan"
	"github.com/amorsize/amorsize/pkg/sample"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func square(x int) (int, error) { return x * x, nil }

func squareTask() sample.Task[int, int] {
	return sample.Task[int, int]{Func: square, ProcessSafe: true}
}

func TestPlan_OrderedByDefaultForHomogeneousSmallInput(t *testing.T) {
	coll := data.FromSlice(ints(200))
	sp, _ := Plan(squareTask(), coll, DefaultOptions())
	assert.True(t, sp.Ordered)
}

func TestPlan_ExplicitUnorderedPreferenceWinsEvenOnReject(t *testing.T) {
	opts := DefaultOptions()
	opts.OrderPreference = OrderUnordered
	coll := data.FromSlice(ints(1)) // trivial input -> rejected plan
	sp, _ := Plan(squareTask(), coll, opts)
	assert.False(t, sp.Ordered)
}

func TestPlan_ExplicitOrderedPreferenceWinsOverLargeCount(t *testing.T) {
	opts := DefaultOptions()
	opts.OrderPreference = OrderOrdered
	coll := data.FromSlice(ints(50000))
	sp, _ := Plan(squareTask(), coll, opts)
	assert.True(t, sp.Ordered)
}

func TestPlan_LargeCountGoesUnorderedWithoutExplicitPreference(t *testing.T) {
	coll := data.FromSlice(ints(20000))
	sp, _ := Plan(squareTask(), coll, DefaultOptions())
	assert.False(t, sp.Ordered)
}

func TestBufferSize_ClampsToWorkerBounds(t *testing.T) {
	assert.Equal(t, 3, bufferSize(1, 1e12, 1, 0.1)) // far too little budget -> floor
	assert.Equal(t, 16, bufferSize(1, 0, 1e9, 0.1)) // zero mean bytes -> ceiling
	assert.Equal(t, 32, bufferSize(2, 0, 1e9, 0.1)) // ceiling scales with n_workers
}

func TestBufferSize_FitsWithinBudgetWhenBetweenBounds(t *testing.T) {
	// n_workers=1 -> bounds [3,16]; budget/meanBytes = 10, within bounds.
	got := bufferSize(1, 100, 1000, 1.0)
	assert.Equal(t, 10, got)
}

func TestOrdered_HeterogeneousAboveThresholdGoesUnordered(t *testing.T) {
	s := sample.Sample{Heterogeneous: true, CV: 0.9}
	assert.False(t, ordered(s, plan.OptimizationPlan[int]{}, OrderAuto))
}

func TestOrdered_HomogeneousStaysOrdered(t *testing.T) {
	s := sample.Sample{Heterogeneous: false, CV: 0.1}
	assert.True(t, ordered(s, plan.OptimizationPlan[int]{}, OrderAuto))
}

func TestOrdered_LargeResolvedCountGoesUnordered(t *testing.T) {
	// CountTotal, not DataHandle.Len(), drives this rule: a
	// BoundedOnePass/UnboundedStream plan's DataHandle never reports a
	// usable Len(), but it can still carry a resolved CountTotal (from
	// plan.Options.EstimatedCount or an exhausted sample).
	s := sample.Sample{Heterogeneous: false, CV: 0.1}
	base := plan.OptimizationPlan[int]{CountTotal: 20000}
	assert.False(t, ordered(s, base, OrderAuto))
}

func TestOrdered_UnknownCountStaysOrdered(t *testing.T) {
	s := sample.Sample{Heterogeneous: false, CV: 0.1}
	base := plan.OptimizationPlan[int]{CountTotal: plan.CountUnknown}
	assert.True(t, ordered(s, base, OrderAuto))
}

func TestPlan_BoundedOnePass_HonorsEstimatedCountForOrdering(t *testing.T) {
	opts := DefaultOptions()
	opts.Plan.EstimatedCount = 20000
	coll := data.FromBoundedSeq(func(yield func(int) bool) {
		for i := 0; i < 20000; i++ {
			if !yield(i) {
				return
			}
		}
	})
	sp, _ := Plan(squareTask(), coll, opts)

	assert.Equal(t, 20000, sp.CountTotal)
	assert.False(t, sp.Ordered)
}
