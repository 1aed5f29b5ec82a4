// Package plan implements the Planner of spec.md §4.D: it searches the
// candidate (n_workers, chunksize) space with the cost model, applies the
// reject-first checks, memory guard, and minimum-speedup gate, and produces
// an OptimizationPlan.
package plan

import (
	"fmt"
	"math"

	"github.com/amorsize/amorsize/pkg/ambient"
	"github.com/amorsize/amorsize/pkg/costmodel"
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/probe"
	"github.com/amorsize/amorsize/pkg/sample"
)

// NestedParallelismPolicy controls what the Planner does when it detects
// it is being invoked from inside a worker.
type NestedParallelismPolicy string

const (
	NestedSerialize NestedParallelismPolicy = "serialize"
	NestedReject    NestedParallelismPolicy = "reject"
)

// Options enumerates the caller-tunable knobs of spec.md §6.
type Options struct {
	SampleSize              int
	TargetChunkSeconds      float64
	MaxWorkers              int // 0 means "default to physical cores"
	ForceExecutorKind       costmodel.ExecutorKind
	MinSpeedup              float64
	MemoryFraction          float64
	CacheTTLSeconds         int64
	NestedParallelismPolicy NestedParallelismPolicy
	ThreadOnIoBound         bool // true if caller already opted into threads for io_bound
	PoolWarm                bool

	// EstimatedCount is the caller's best-effort total item count for a
	// BoundedOnePass or UnboundedStream collection, whose Kind can never
	// answer Len(). It is ignored for RandomAccess collections, which
	// always report their own exact count. Leave it unset (<= 0) when no
	// estimate is available; the planner then falls back to
	// assumedUnknownCount rather than silently treating the workload as
	// sample-sized (see CountUnknown).
	EstimatedCount int
}

// DefaultOptions mirrors the teacher's _defaultConfig precedent.
func DefaultOptions() Options {
	return Options{
		SampleSize:              5,
		TargetChunkSeconds:      0.2,
		MinSpeedup:              1.2,
		MemoryFraction:          0.5,
		CacheTTLSeconds:         7 * 24 * 3600,
		NestedParallelismPolicy: NestedSerialize,
	}
}

// OptimizationPlan is the decision produced by the planner for a collection
// of type T. It is generic so DataHandle can carry the caller's concrete
// item type without an interface{} escape hatch.
type OptimizationPlan[T any] struct {
	NWorkers     int
	Chunksize    int
	ExecutorKind costmodel.ExecutorKind

	PredictedWallSeconds float64
	PredictedSpeedup     float64

	// CountTotal is the resolved item count the planner actually decided
	// with: the collection's own Len(), the caller's EstimatedCount, or a
	// count established by sampling draining the collection. CountUnknown
	// when none of those applied.
	CountTotal int

	RejectionReason RejectionReason
	Warnings        []Warning
	Explanation     string

	DataHandle data.Collection[T]
}

const smallEpsilon = 1e-6

// CountUnknown is the sentinel Plan uses for a BoundedOnePass/
// UnboundedStream collection whose true size is neither reported by Len()
// nor supplied via Options.EstimatedCount nor revealed by sampling draining
// it outright.
const CountUnknown = -1

// assumedUnknownCount is the planning floor substituted for CountUnknown
// when scoring candidates: large enough that one-time costs (worker spawn,
// pool acquisition) amortise the way they would for a genuinely large
// one-pass/streaming workload, so those collection kinds aren't reflexively
// steered to WorkloadTooShort just because their true size is unknowable
// up front. It never leaks into OptimizationPlan.CountTotal or the
// WorkloadTooShort/EmptyInput/TrivialInput gates, which require a real
// count and skip rather than guess.
const assumedUnknownCount = 100_000

// Plan implements spec.md §4.D end to end: sample, reject-first checks,
// candidate search, scoring, memory guard, minimum-speedup gate.
func Plan[T, R any](task sample.Task[T, R], coll data.Collection[T], opts Options) (OptimizationPlan[T], sample.Sample) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}
	if opts.TargetChunkSeconds <= 0 {
		opts.TargetChunkSeconds = DefaultOptions().TargetChunkSeconds
	}
	if opts.MinSpeedup <= 0 {
		opts.MinSpeedup = DefaultOptions().MinSpeedup
	}
	if opts.MemoryFraction <= 0 {
		opts.MemoryFraction = DefaultOptions().MemoryFraction
	}
	if opts.NestedParallelismPolicy == "" {
		opts.NestedParallelismPolicy = DefaultOptions().NestedParallelismPolicy
	}

	info := probe.Detect()

	// countTotal is resolved in order of trust: the collection's own
	// Len() (RandomAccess only), the caller's EstimatedCount
	// (BoundedOnePass/UnboundedStream, when supplied), or CountUnknown.
	// countKnown below gates which reject-first checks and cost-model
	// inputs trust that number versus falling back to planningCount.
	countTotal := CountUnknown
	countKnown := false
	if n, ok := coll.Len(); ok {
		countTotal = n
		countKnown = true
	} else if opts.EstimatedCount > 0 {
		countTotal = opts.EstimatedCount
		countKnown = true
	}

	sampleOpts := sample.DefaultOptions()
	sampleOpts.K = opts.SampleSize
	sig := systemSignature(info)

	s, rest := sample.Run(task, coll, sampleOpts, countTotal, sig)

	var warnings []Warning
	if !countKnown && task.ProcessSafe && !s.Errored && s.CountSampled < sampleOpts.K {
		// Sampling drained the collection before filling opts.K: the
		// sample itself is proof the true count is exactly CountSampled.
		countTotal = s.CountSampled
		countKnown = true
	}

	// planningCount feeds every *relative* decision (cost model, candidate
	// search) even when countKnown is false; countTotal/countKnown alone
	// gate the checks that require an exact count.
	planningCount := countTotal
	if !countKnown {
		planningCount = assumedUnknownCount
		warnings = append(warnings, Warning{Code: WarnUnknownCount, Context: fmt.Sprintf("assumed %d items", assumedUnknownCount)})
	}

	serialPlan := func(reason RejectionReason, warnings []Warning) OptimizationPlan[T] {
		chunksize := 1
		if countKnown {
			chunksize = maxInt(countTotal, 1)
		}
		return OptimizationPlan[T]{
			NWorkers:        1,
			Chunksize:       chunksize,
			ExecutorKind:    costmodel.ExecutorSerial,
			CountTotal:      countTotal,
			RejectionReason: reason,
			Warnings:        warnings,
			Explanation:     explain(reason, warnings),
			DataHandle:      rest,
		}
	}

	// Reject-first checks, in the order spec.md §4.D lists them. The
	// count-dependent ones (EmptyInput/TrivialInput/WorkloadTooShort)
	// only fire when countKnown: a genuinely unknown total can't prove a
	// workload is empty, trivial, or too short to amortise spawn cost.
	if countKnown && countTotal == 0 {
		return serialPlan(EmptyInput, nil), s
	}
	if countKnown && countTotal == 1 {
		return serialPlan(TrivialInput, nil), s
	}

	executor := opts.ForceExecutorKind
	if executor == "" {
		executor = costmodel.ExecutorProcess
	}

	if !s.FuncPicklable && executor == costmodel.ExecutorProcess {
		return serialPlan(UnpicklableFunction, warnings), s
	}
	if !s.AllItemsPicklable && executor == costmodel.ExecutorProcess {
		return serialPlan(UnpicklableData, warnings), s
	}
	if s.Errored {
		return serialPlan(SamplingError, warnings), s
	}
	if countKnown && s.MeanItemSeconds*float64(countTotal) < info.SpawnCostSeconds+smallEpsilon {
		return serialPlan(WorkloadTooShort, warnings), s
	}

	if s.WorkloadType == sample.IOBound && !opts.ThreadOnIoBound && executor != costmodel.ExecutorThread {
		executor = costmodel.ExecutorThread
		warnings = append(warnings, Warning{Code: WarnIoBoundHint, Context: fmt.Sprintf("cpu_time_ratio=%.3f", s.CPUTimeRatio)})
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = info.PhysicalCores
	}
	if s.WorkloadType == sample.IOBound {
		ioMax := info.PhysicalCores * 4
		if maxWorkers < ioMax && opts.MaxWorkers <= 0 {
			maxWorkers = ioMax
		}
	}

	if ambient.InsideWorker() {
		warnings = append(warnings, Warning{Code: WarnNestedParallelism, Context: string(opts.NestedParallelismPolicy)})
		if opts.NestedParallelismPolicy == NestedReject {
			return serialPlan(NestedParallelismRejected, warnings), s
		}
		maxWorkers = 1
	}

	if len(info.Warnings) > 0 {
		warnings = append(warnings, Warning{Code: WarnProbeDegraded, Context: fmt.Sprintf("%d probe warning(s)", len(info.Warnings))})
	}

	predictor := costmodel.New(costmodel.Coefficients{
		SpawnCostSeconds:     info.SpawnCostSeconds,
		ChunkDispatchSeconds: info.ChunkDispatchSeconds,
		MarshalRate:          2e-8,
		CollectRate:          2e-8,
		IPCOverlapFactor:     0.5,
	})

	predictIn := costmodel.PredictInput{
		CountTotal:      planningCount,
		MeanItemSeconds: s.MeanItemSeconds,
		MeanInputBytes:  float64(s.MeanInputBytes),
		MeanOutputBytes: float64(s.MeanOutputBytes),
		Executor:        executor,
		PoolWarm:        opts.PoolWarm,
	}

	budgetBytes := float64(info.AvailableMemory) * opts.MemoryFraction

	type scored struct {
		cand costmodel.Candidate
		b    costmodel.Breakdown
	}
	var best *scored

	for _, n := range candidateWorkerCounts(maxWorkers) {
		baseC := maxInt(1, round(opts.TargetChunkSeconds/math.Max(s.MeanItemSeconds, 1e-9)))
		chunkCandidates := []int{baseC}
		if s.Heterogeneous {
			chunkCandidates = append(chunkCandidates, maxInt(1, baseC/2), maxInt(1, baseC/4))
		}

		for _, c := range chunkCandidates {
			c = fitMemoryBudget(n, c, planningCount, float64(s.MeanOutputBytes), budgetBytes)
			if c == 0 {
				continue // no chunksize for this n fits the budget
			}
			b := predictor.Predict(predictIn, costmodel.Candidate{NWorkers: n, Chunksize: c})
			cur := scored{cand: costmodel.Candidate{NWorkers: n, Chunksize: c}, b: b}
			if best == nil || better(cur, *best) {
				best = &cur
			}
		}
	}

	if best == nil {
		return serialPlan(MemoryConstrained, warnings), s
	}

	if s.Heterogeneous {
		warnings = append(warnings, Warning{Code: WarnHeterogeneous, Context: fmt.Sprintf("cv=%.2f", s.CV)})
	}

	if best.b.PredictedSpeedup < opts.MinSpeedup {
		return serialPlan(InsufficientSpeedup, warnings), s
	}

	return OptimizationPlan[T]{
		NWorkers:             best.cand.NWorkers,
		Chunksize:            best.cand.Chunksize,
		ExecutorKind:         executor,
		PredictedWallSeconds: best.b.PredictedWallSeconds,
		PredictedSpeedup:     best.b.PredictedSpeedup,
		CountTotal:           countTotal,
		Warnings:             warnings,
		Explanation:          explain(NoRejection, warnings),
		DataHandle:           rest,
	}, s
}

// candidateWorkerCounts enumerates n in {1,2,4,8,...} intersected with
// [1, maxWorkers], per spec.md §4.D.
func candidateWorkerCounts(maxWorkers int) []int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	var out []int
	for n := 1; n <= maxWorkers; n *= 2 {
		out = append(out, n)
	}
	if out[len(out)-1] != maxWorkers {
		out = append(out, maxWorkers)
	}
	return out
}

// fitMemoryBudget steps c down until n*c*meanOutputBytes fits the budget,
// returning 0 if even c=1 doesn't fit.
func fitMemoryBudget(n, c, countTotal int, meanOutputBytes, budgetBytes float64) int {
	if budgetBytes <= 0 {
		return c
	}
	for c > 0 {
		inFlight := float64(n) * float64(c) * meanOutputBytes
		if inFlight <= budgetBytes {
			return c
		}
		c--
	}
	return 0
}

func better(a, b struct {
	cand costmodel.Candidate
	b    costmodel.Breakdown
}) bool {
	if a.b.PredictedWallSeconds != b.b.PredictedWallSeconds {
		return a.b.PredictedWallSeconds < b.b.PredictedWallSeconds
	}
	if a.cand.NWorkers != b.cand.NWorkers {
		return a.cand.NWorkers < b.cand.NWorkers
	}
	return a.cand.Chunksize > b.cand.Chunksize
}

func explain(reason RejectionReason, warnings []Warning) string {
	if reason != NoRejection {
		msg := reason.Message()
		if rem := reason.Remediation(); rem != "" {
			msg += "; " + rem
		}
		return msg
	}
	if len(warnings) == 0 {
		return "parallel plan selected"
	}
	s := "parallel plan selected with warnings:"
	for _, w := range warnings {
		s += " " + string(w.Code)
	}
	return s
}

func systemSignature(info *probe.Info) string {
	return fmt.Sprintf("%d|%s|%d", info.PhysicalCores, info.SpawnMethod, MemoryBucket(info.MemoryLimit))
}

// MemoryBucket rounds a memory limit to a coarse bucket so a system
// signature doesn't thrash on small RSS fluctuations. Exported so callers
// outside this package (the decision cache's SystemSignature, in
// particular) bucket memory the same way this package's own fingerprinting
// does.
func MemoryBucket(bytes uint64) uint64 {
	const bucket = 256 << 20 // 256 MiB
	return (bytes + bucket/2) / bucket
}

func round(f float64) int {
	return int(math.Round(f))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
