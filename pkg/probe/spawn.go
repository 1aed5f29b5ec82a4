//go:build linux

package probe

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// defaultSpawnCosts are tabulated fallbacks keyed by start method, used when
// live measurement fails validation. Figures are conservative estimates
// drawn from common process/thread creation costs on commodity Linux hosts.
var defaultSpawnCosts = map[StartMethod]float64{
	StartFork:       0.010,
	StartSpawn:      0.080,
	StartForkServer: 0.015,
	StartThread:     0.001,
	"":              0.5,
}

const spawnCostCeilingSeconds = 5.0

// measureSpawnCost times three trials of "create a pool of min(2, physical
// cores) workers, dispatch a no-op, tear down", keeps the minimum, and runs
// the 4-layer validation of spec.md §4.A. On any validation failure it
// downgrades trust and substitutes the tabulated default for the method —
// it never treats the probe itself as having failed.
func measureSpawnCost(method StartMethod, physicalCores int) (seconds float64, trusted bool, warning string) {
	workers := 2
	if physicalCores < workers {
		workers = physicalCores
	}
	if workers < 1 {
		workers = 1
	}

	trials, err := spawnTrials(method, workers, 3)
	if err != nil {
		return defaultFor(method), false, fmt.Sprintf("spawn cost measurement failed (%v), using tabulated default", err)
	}

	minTrial, maxTrial := trials[0], trials[0]
	for _, t := range trials {
		if t < minTrial {
			minTrial = t
		}
		if t > maxTrial {
			maxTrial = t
		}
	}

	// Layer 1: positive and finite.
	if minTrial <= 0 {
		return defaultFor(method), false, "spawn cost measurement non-positive, using tabulated default"
	}
	// Layer 2: below the 5s ceiling.
	if minTrial >= spawnCostCeilingSeconds {
		return defaultFor(method), false, "spawn cost measurement exceeded 5s ceiling, using tabulated default"
	}
	// Layer 3: variance across trials < 50% of the minimum.
	if (maxTrial-minTrial)/minTrial > 0.5 {
		return defaultFor(method), false, "spawn cost measurement unstable across trials, using tabulated default"
	}
	// Layer 4 (soft): fork should be <= spawn when both are measurable.
	// Per spec.md §9, failing this only downgrades trust; it never
	// invalidates the probe, since many hosts can only measure one
	// method (e.g. a container with only "spawn" available).
	if method == StartFork {
		if forkTrial, spawnTrial, ok := crossCheckForkSpawn(workers); ok && forkTrial > spawnTrial {
			return minTrial, false, "fork spawn cost exceeded spawn method cost; downgrading trust"
		}
	}

	return minTrial, true, ""
}

func defaultFor(method StartMethod) float64 {
	if v, ok := defaultSpawnCosts[method]; ok {
		return v
	}
	return defaultSpawnCosts[""]
}

func spawnTrials(method StartMethod, workers, n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		d, err := spawnOnce(method, workers)
		if err != nil {
			return nil, err
		}
		out = append(out, d.Seconds())
	}
	return out, nil
}

// spawnOnce creates `workers` units of concurrency, dispatches a no-op to
// each, and tears them down, returning the elapsed wall time.
func spawnOnce(method StartMethod, workers int) (time.Duration, error) {
	start := time.Now()
	switch method {
	case StartThread:
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() { defer wg.Done() }()
		}
		wg.Wait()
	default:
		// fork/spawn/forkserver are all approximated the same way on
		// the measuring side: spawn a trivial child process and wait
		// for it to exit. The actual fork-vs-spawn distinction lives
		// in how the worker pool re-execs itself (pkg/pool), not in
		// this calibration step.
		ctx, cancel := context.WithTimeout(context.Background(), spawnCostCeilingSeconds*time.Second)
		defer cancel()
		for i := 0; i < workers; i++ {
			cmd := exec.CommandContext(ctx, "true")
			if err := cmd.Run(); err != nil {
				if _, lookErr := exec.LookPath("true"); lookErr != nil {
					// "true" isn't available (unusual, but possible
					// in a minimal container); treat as unmeasurable
					// rather than failing the whole probe.
					return 0, fmt.Errorf("spawn calibration: %w", lookErr)
				}
				return 0, fmt.Errorf("spawn calibration: %w", err)
			}
		}
	}
	return time.Since(start), nil
}

// crossCheckForkSpawn measures both fork-style (process exec) and
// thread-style spawn cost once, for the soft fork<=spawn validation.
func crossCheckForkSpawn(workers int) (fork, spawn float64, ok bool) {
	fd, err := spawnOnce(StartFork, workers)
	if err != nil {
		return 0, 0, false
	}
	td, err := spawnOnce(StartThread, workers)
	if err != nil {
		return 0, 0, false
	}
	return fd.Seconds(), td.Seconds(), true
}

// measureChunkDispatch estimates the per-chunk marginal dispatch cost on a
// small workload: the time to submit and await a single trivial job over a
// channel, which approximates the fixed overhead of handing a chunk to a
// worker regardless of chunk contents.
func measureChunkDispatch() float64 {
	const trials = 5
	var total time.Duration
	for i := 0; i < trials; i++ {
		ch := make(chan struct{})
		start := time.Now()
		go func() { ch <- struct{}{} }()
		<-ch
		total += time.Since(start)
	}
	avg := total.Seconds() / trials
	if avg < 0 || avg != avg { // avg != avg catches NaN without importing math
		return 0
	}
	return avg
}
