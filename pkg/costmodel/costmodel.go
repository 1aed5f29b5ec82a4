// Package costmodel implements the Amdahl-style predictor of spec.md §4.C.
// It is the teacher's pkg/consumption.Accumulator adapted wholesale: the
// teacher accumulates power-model Config coefficients against a process
// Snapshot to produce a Result breakdown and a running energy total; this
// package accumulates Coefficients against a workload Sample and a
// candidate (n, c) to produce a time Breakdown, the same shape applied to a
// new domain.
package costmodel

import "math"

// Coefficients are the probe-derived constants the predictor combines with
// a workload Sample. Units are seconds unless noted.
type Coefficients struct {
	SpawnCostSeconds     float64
	ChunkDispatchSeconds float64
	MarshalRate          float64 // seconds per byte, process executor only
	CollectRate          float64 // seconds per byte
	IPCOverlapFactor     float64 // [0,1], default 0.5; reduces collect cost
}

// DefaultCoefficients mirrors the teacher's _defaultConfig precedent: sane
// fallbacks for when a probe measurement is untrusted or unavailable.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		SpawnCostSeconds:     0.05,
		ChunkDispatchSeconds: 1e-4,
		MarshalRate:          2e-8, // ~50 MB/s serialization throughput
		CollectRate:          2e-8,
		IPCOverlapFactor:     0.5,
	}
}

// Candidate is a (n_workers, chunksize) pair under evaluation.
type Candidate struct {
	NWorkers  int
	Chunksize int
}

// ExecutorKind selects which term of T_parallel applies.
type ExecutorKind string

const (
	ExecutorSerial  ExecutorKind = "serial"
	ExecutorThread  ExecutorKind = "thread"
	ExecutorProcess ExecutorKind = "process"
)

// Breakdown is the predicted wall-clock time, split into the terms of
// spec.md §4.C's T_parallel formula, plus the derived serial baseline and
// speedup.
type Breakdown struct {
	SpawnSeconds         float64
	ComputeSeconds       float64
	DispatchSeconds      float64
	CollectSeconds       float64
	PredictedWallSeconds float64
	SerialWallSeconds    float64
	PredictedSpeedup     float64
}

// Predictor accumulates Coefficients and evaluates candidates against a
// sample. It holds no per-call state beyond the coefficients themselves —
// unlike the teacher's Accumulator, which tracks a running energy total,
// a cost prediction is stateless per candidate, so Predict takes every
// input explicitly rather than mutating accumulators.
type Predictor struct {
	coef Coefficients
}

// New creates a Predictor with the given coefficients. A nil/zero-value
// Coefficients is replaced with DefaultCoefficients, mirroring the
// teacher's New(cfg *Config) nil-guard.
func New(coef Coefficients) *Predictor {
	if coef == (Coefficients{}) {
		coef = DefaultCoefficients()
	}
	return &Predictor{coef: coef}
}

// PoolWarm, when true, zeroes the one-time spawn cost term (§4.C: "one-time,
// amortised if the pool is reused").
type PredictInput struct {
	CountTotal      int
	MeanItemSeconds float64
	MeanInputBytes  float64
	MeanOutputBytes float64
	Executor        ExecutorKind
	PoolWarm        bool
}

// Predict evaluates T_parallel(n, c) and T_serial for one candidate and
// returns the full Breakdown, including the predicted speedup. It is the
// domain-adapted analogue of the teacher's Accumulator.Apply.
func (p *Predictor) Predict(in PredictInput, cand Candidate) Breakdown {
	n := cand.NWorkers
	if n < 1 {
		n = 1
	}
	c := cand.Chunksize
	if c < 1 {
		c = 1
	}

	var spawn float64
	if !in.PoolWarm && in.Executor != ExecutorSerial {
		spawn = p.coef.SpawnCostSeconds
	}

	perItemMarshal := 0.0
	if in.Executor == ExecutorProcess {
		perItemMarshal = (in.MeanInputBytes + in.MeanOutputBytes) * p.coef.MarshalRate
	}
	compute := (float64(in.CountTotal) / float64(n)) * (in.MeanItemSeconds + perItemMarshal)

	chunks := math.Ceil(float64(in.CountTotal) / float64(c))
	dispatch := chunks * p.coef.ChunkDispatchSeconds

	overlap := p.coef.IPCOverlapFactor
	if overlap <= 0 {
		overlap = 1
	}
	collect := float64(in.CountTotal) * in.MeanOutputBytes * p.coef.CollectRate * overlap

	wall := spawn + compute + dispatch + collect
	if wall <= 0 {
		wall = 1e-9 // avoid division by zero in speedup below
	}

	serial := float64(in.CountTotal) * in.MeanItemSeconds

	speedup := serial / wall
	// The model must be monotone-safe: never predict superlinear speedup.
	if speedup > float64(n) {
		speedup = float64(n)
	}
	if speedup < 0 {
		speedup = 0
	}

	return Breakdown{
		SpawnSeconds:         spawn,
		ComputeSeconds:       compute,
		DispatchSeconds:      dispatch,
		CollectSeconds:       collect,
		PredictedWallSeconds: wall,
		SerialWallSeconds:    serial,
		PredictedSpeedup:     speedup,
	}
}
