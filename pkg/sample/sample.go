//go:build linux

// Package sample implements the dry-run sampler of spec.md §4.B: it runs a
// caller's function on a small prefix of the data collection to measure
// per-item compute time, marshalled sizes, CPU-vs-wall ratio, and whether
// the function and its items could survive a trip to a subprocess worker.
package sample

import (
	"bytes"
	"encoding/gob"
	"math"
	"os"
	"reflect"
	"time"

	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/system/proc"
	"github.com/amorsize/amorsize/pkg/system/util"
	"github.com/amorsize/amorsize/pkg/types"
)

// WorkloadType classifies a sample by its cpu_time_ratio.
type WorkloadType string

const (
	CPUBound WorkloadType = "cpu_bound"
	Mixed    WorkloadType = "mixed"
	IOBound  WorkloadType = "io_bound"
)

// Task describes the caller's unary function. Go cannot introspect whether a
// closure can cross a process boundary the way a reflective language can;
// ProcessSafe is the declared capability of spec.md §9's re-architecture
// note — "caller declares, core trusts and surfaces failure from workers".
// Its zero value is false, which marks a local closure that only a thread
// pool can run; set it true for a registered entry point.
type Task[T, R any] struct {
	Func        func(T) (R, error)
	ProcessSafe bool
}

// Options configures a sampling run; zero value is not valid, use
// DefaultOptions.
type Options struct {
	K                 int     // sample_size, default 5
	ProfileCPUTime    bool    // measure cpu_time_ratio via /proc
	IOBoundThreshold  float64 // cpu_time_ratio below this -> io_bound
	CPUBoundThreshold float64 // cpu_time_ratio at/above this -> cpu_bound
}

// DefaultOptions mirrors the teacher's _defaultConfig precedent: a single
// function that fills in the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		K:                 5,
		ProfileCPUTime:    true,
		IOBoundThreshold:  0.3,
		CPUBoundThreshold: 0.7,
	}
}

// Sample is the WorkloadSample value of spec.md §3.
type Sample struct {
	CountSampled int

	MeanItemSeconds   float64
	StddevItemSeconds float64
	CV                float64
	Heterogeneous     bool

	MeanInputBytes  types.Bytes
	MeanOutputBytes types.Bytes

	CPUTimeRatio float64
	WorkloadType WorkloadType

	FuncPicklable     bool
	AllItemsPicklable bool

	Errored   bool
	ItemError error

	Fingerprint string
}

// Run implements the sampler algorithm of spec.md §4.B. It consumes up to
// opts.K items from coll (without eagerly materialising more, per §3.1) and
// returns the resulting Sample plus a Collection that can still enumerate
// the original sequence exactly once.
//
// countTotal is the caller's best estimate of the total item count (for
// RandomAccess collections this is coll.Len(); for the other two kinds the
// caller supplies it, e.g. -1 for "unknown"). Run uses it only for the
// fingerprint, substituting CountSampled when it is negative.
func Run[T, R any](task Task[T, R], coll data.Collection[T], opts Options, countTotal int, systemSignature string) (Sample, data.Collection[T]) {
	if opts.K <= 0 {
		opts.K = 1
	}

	items, rest := coll.Sample(opts.K)

	s := Sample{
		FuncPicklable: task.ProcessSafe,
	}
	if !task.ProcessSafe {
		// Short-circuit per §4.B.2: subsequent planner rejects parallel
		// process execution outright; no point timing anything further.
		return s, rest
	}

	s.AllItemsPicklable = true

	var (
		durations   []float64
		inputSizes  []uint64
		outputSizes []uint64
		cpuRatios   []float64
		itemType    reflect.Type
	)

	for _, item := range items {
		if itemType == nil {
			itemType = reflect.TypeOf(item)
		}

		inBytes, encErr := marshalSize(item)
		if encErr != nil {
			s.AllItemsPicklable = false
		}
		inputSizes = append(inputSizes, inBytes)

		cpuBefore, cpuOK := selfCPUSeconds(opts.ProfileCPUTime)
		start := time.Now()
		result, err := task.Func(item)
		wall := time.Since(start).Seconds()
		cpuAfter, _ := selfCPUSeconds(opts.ProfileCPUTime)

		if err != nil {
			s.Errored = true
			s.ItemError = err
			// Per §4.B.3: the planner rejects parallelisation rather than
			// mask the bug, so there is no value in sampling further items.
			break
		}

		durations = append(durations, wall)
		if cpuOK {
			cpuRatios = append(cpuRatios, util.Clamp01(util.SafeDiv(cpuAfter-cpuBefore, wall)))
		}

		outBytes, encErr := marshalSize(result)
		if encErr != nil {
			s.AllItemsPicklable = false
		}
		outputSizes = append(outputSizes, outBytes)
	}

	s.CountSampled = len(durations)
	s.MeanItemSeconds, s.StddevItemSeconds, s.CV = meanStddevCV(durations)
	s.Heterogeneous = s.CV > 0.5
	s.MeanInputBytes = types.ToBytes(meanU64(inputSizes))
	s.MeanOutputBytes = types.ToBytes(meanU64(outputSizes))

	if len(cpuRatios) > 0 {
		mean, _, _ := meanStddevCV(cpuRatios)
		s.CPUTimeRatio = mean
	}
	s.WorkloadType = classify(s.CPUTimeRatio, opts)

	// Only the fingerprint's own countTotal falls back to CountSampled
	// here: the cache key just needs a stable, collision-resistant value
	// distinguishing workload shapes, not the exact total. The planner's
	// actual decisions (reject-first gates, cost model) resolve countTotal
	// independently in pkg/plan and never substitute the sample size for
	// an unknown total.
	if countTotal < 0 {
		countTotal = s.CountSampled
	}
	s.Fingerprint = fingerprint(funcIdentity(task.Func), itemType, countTotal, s.MeanItemSeconds, s.MeanOutputBytes, s.WorkloadType, systemSignature)

	return s, rest
}

func classify(cpuTimeRatio float64, opts Options) WorkloadType {
	switch {
	case cpuTimeRatio >= opts.CPUBoundThreshold:
		return CPUBound
	case cpuTimeRatio < opts.IOBoundThreshold:
		return IOBound
	default:
		return Mixed
	}
}

// marshalSize trial-encodes v with encoding/gob, the mechanical picklability
// check spec.md §9 substitutes for Python-style introspection: it is a real
// verification that the value can cross a process boundary, not a guess.
func marshalSize(v interface{}) (uint64, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return 0, ErrItemUnmarshalable
	}
	return uint64(buf.Len()), nil
}

func meanU64(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range vs {
		sum += v
	}
	return sum / uint64(len(vs))
}

// meanStddevCV computes mean, population stddev, and coefficient of
// variation (stddev/mean) in two passes over vs.
func meanStddevCV(vs []float64) (mean, stddev, cv float64) {
	if len(vs) == 0 {
		return 0, 0, 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	mean = sum / float64(len(vs))

	var sqDiff float64
	for _, v := range vs {
		d := v - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(vs)))
	cv = util.SafeDiv(stddev, mean)
	return mean, stddev, cv
}

// selfCPUSeconds returns the calling process's cumulative user+system CPU
// time in seconds, reusing the teacher's /proc/<pid>/stat reader. ok is
// false when profiling is disabled or the read fails, in which case the
// caller should not trust the resulting ratio.
func selfCPUSeconds(enabled bool) (seconds float64, ok bool) {
	if !enabled {
		return 0, false
	}
	utime, stime, _, _, err := proc.ReadProcStat(os.Getpid())
	if err != nil {
		return 0, false
	}
	return float64(utime+stime) / float64(proc.ClockTicks()), true
}
