// Package stream implements the Streaming Planner of spec.md §4.G: the
// imap-style specialisation of the Planner that additionally chooses a
// bounded buffer size and an ordered/unordered delivery mode.
package stream

import (
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/plan"
	"github.com/amorsize/amorsize/pkg/probe"
	"github.com/amorsize/amorsize/pkg/sample"
)

// OrderPreference lets a caller force ordered/unordered delivery; the
// zero value means "let the planner decide".
type OrderPreference int

const (
	OrderAuto OrderPreference = iota
	OrderOrdered
	OrderUnordered
)

// Options extends plan.Options with the streaming-specific knobs of
// spec.md §4.G.
type Options struct {
	Plan                    plan.Options
	StreamingMemoryFraction float64 // default 0.1
	OrderPreference         OrderPreference
}

// DefaultOptions mirrors plan.DefaultOptions, adding the streaming defaults.
func DefaultOptions() Options {
	return Options{
		Plan:                    plan.DefaultOptions(),
		StreamingMemoryFraction: 0.1,
		OrderPreference:         OrderAuto,
	}
}

// StreamPlan is plan.OptimizationPlan plus the two streaming-specific
// decisions: BufferSize and Ordered.
type StreamPlan[T any] struct {
	plan.OptimizationPlan[T]
	BufferSize int
	Ordered    bool
}

const (
	heterogeneousCVThreshold = 0.5
	unorderedCountThreshold  = 10_000
)

// Plan runs the batch Planner, then layers the streaming-specific buffer
// size and ordering decision on top. The ordering decision is applied even
// when the underlying plan rejected parallelism (spec.md §9: an explicit
// caller preference must be honoured on every path, reject or not).
func Plan[T, R any](task sample.Task[T, R], coll data.Collection[T], opts Options) (StreamPlan[T], sample.Sample) {
	if opts.StreamingMemoryFraction <= 0 {
		opts.StreamingMemoryFraction = DefaultOptions().StreamingMemoryFraction
	}

	base, s := plan.Plan(task, coll, opts.Plan)

	info := probe.Detect()
	sp := StreamPlan[T]{OptimizationPlan: base}
	sp.BufferSize = bufferSize(maxInt(base.NWorkers, 1), float64(s.MeanOutputBytes), float64(info.AvailableMemory), opts.StreamingMemoryFraction)
	sp.Ordered = ordered(s, base, opts.OrderPreference)

	return sp, s
}

// bufferSize implements spec.md §4.G's buffer-size rule: bounded so that
// buffer * mean_output_bytes <= fraction * available_memory, clamped to
// [n_workers*3, n_workers*16].
func bufferSize(nWorkers int, meanOutputBytes, availableMemory, fraction float64) int {
	lo := nWorkers * 3
	hi := nWorkers * 16

	if meanOutputBytes <= 0 {
		return hi
	}
	budget := fraction * availableMemory
	fit := int(budget / meanOutputBytes)
	if fit < lo {
		return lo
	}
	if fit > hi {
		return hi
	}
	return fit
}

// ordered implements spec.md §4.G's ordered/unordered rule. An explicit
// caller preference always wins, including on a plan that rejected
// parallelism.
func ordered[T any](s sample.Sample, base plan.OptimizationPlan[T], pref OrderPreference) bool {
	switch pref {
	case OrderOrdered:
		return true
	case OrderUnordered:
		return false
	}
	if s.Heterogeneous && s.CV > heterogeneousCVThreshold {
		return false
	}
	if n, ok := countTotal(base); ok && n > unorderedCountThreshold {
		return false
	}
	return true
}

// countTotal reports the planner's resolved item count, not the data
// handle's own Len(): for a BoundedOnePass/UnboundedStream collection
// Len() always answers false, but base.CountTotal may still carry a real
// count from plan.Options.EstimatedCount or from sampling draining the
// collection outright (see pkg/plan.Plan).
func countTotal[T any](base plan.OptimizationPlan[T]) (int, bool) {
	if base.CountTotal < 0 {
		return 0, false
	}
	return base.CountTotal, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
