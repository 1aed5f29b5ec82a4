//go:build linux

// Package probe detects host and container characteristics (core counts,
// memory limits, multiprocessing start method) and measures the one-time
// costs (process spawn, chunk dispatch) the cost model needs. It mirrors
// the teacher's pkg/system/proc factory pattern: an ordered chain of
// detectors, first success wins, failures degrade to warnings rather than
// errors.
package probe

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/amorsize/amorsize/pkg/system/cgroup"
)

// StartMethod models the multiprocessing start method in use.
type StartMethod string

const (
	StartFork       StartMethod = "fork"
	StartSpawn      StartMethod = "spawn"
	StartForkServer StartMethod = "forkserver"
	StartThread     StartMethod = "thread"
)

// Info is the SystemInfo value of spec.md §3: built once per process,
// immutable once constructed, never returned with zero core counts.
type Info struct {
	PhysicalCores   int
	LogicalCores    int
	MemoryLimit     uint64 // bytes; min(cgroup limit, host total)
	AvailableMemory uint64 // bytes; <= MemoryLimit at probe time
	SpawnMethod     StartMethod

	SpawnCostSeconds     float64
	SpawnCostTrusted     bool // false if validation downgraded to a tabulated default
	ChunkDispatchSeconds float64

	// Warnings accumulated from detectors that fell back to a default.
	// Never fatal: the Info returned is always usable.
	Warnings []string
}

var (
	mu     sync.Mutex
	cached *Info
	built  bool
)

// Detect returns the process-wide SystemInfo, building it on first call and
// caching it for the remainder of the process's life (per spec.md §3
// lifecycle: "built on first use, invalidated only on explicit reset").
func Detect() *Info {
	mu.Lock()
	defer mu.Unlock()
	if built {
		return cached
	}
	cached = build()
	built = true
	return cached
}

// Reset clears the cached SystemInfo. Intended for tests and for explicit
// re-probing after a host/container change.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
	built = false
}

func build() *Info {
	info := &Info{}

	cores, coreWarn := detectPhysicalCores()
	info.PhysicalCores = cores
	info.LogicalCores = runtime.NumCPU()
	if info.LogicalCores < info.PhysicalCores {
		info.LogicalCores = info.PhysicalCores
	}
	if coreWarn != "" {
		info.Warnings = append(info.Warnings, coreWarn)
		slog.Warn("probe: physical core detection fell back", "detail", coreWarn)
	}

	limit, avail, memWarn := detectMemory()
	info.MemoryLimit = limit
	info.AvailableMemory = avail
	if memWarn != "" {
		info.Warnings = append(info.Warnings, memWarn)
		slog.Warn("probe: memory limit detection fell back", "detail", memWarn)
	}

	info.SpawnMethod = detectSpawnMethod()

	spawnCost, trusted, spawnWarn := measureSpawnCost(info.SpawnMethod, info.PhysicalCores)
	info.SpawnCostSeconds = spawnCost
	info.SpawnCostTrusted = trusted
	if spawnWarn != "" {
		info.Warnings = append(info.Warnings, spawnWarn)
		slog.Warn("probe: spawn cost measurement untrusted", "detail", spawnWarn)
	}

	info.ChunkDispatchSeconds = measureChunkDispatch()

	slog.Info("probe: system info built",
		"physical_cores", info.PhysicalCores,
		"logical_cores", info.LogicalCores,
		"memory_limit", info.MemoryLimit,
		"spawn_method", info.SpawnMethod,
		"spawn_cost_seconds", info.SpawnCostSeconds,
	)
	return info
}

func detectSpawnMethod() StartMethod {
	ver, _, err := cgroup.Detect()
	if err != nil || ver == cgroup.Unsupported {
		return StartSpawn
	}
	// On Linux, fork is cheap and available whenever we can exec a
	// child of ourselves, so any detected cgroup hierarchy reports fork.
	// Container namespace restrictions are not inspected; spawn is
	// reported only when no cgroup hierarchy could be detected.
	return StartFork
}
