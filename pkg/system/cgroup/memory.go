//go:build linux

package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/KimMachineGun/automemlimit/memlimit"
)

// unlimitedV1 is the threshold at or above which a cgroup v1 limit means
// "no limit": the kernel's sentinel (2^63 - 4096, platform dependent) is
// always well above 2^62 per spec.md §4.A.
const unlimitedV1 = uint64(1) << 62

// MemoryLimit returns the memory limit in bytes for the given cgroup
// version, and whether the cgroup reports "no limit" (in which case the
// caller should fall back to host RAM).
//
// It prefers automemlimit's providers (which already handle the "max"/
// sentinel parsing and nested-hierarchy lookups) and falls back to a direct
// file read if the provider errors, e.g. because the caller isn't running
// inside the hierarchy automemlimit expects.
func MemoryLimit(ver Version) (limit uint64, unlimited bool, err error) {
	switch ver {
	case V2, Hybrid:
		if v, provErr := memlimit.FromCgroupV2()(); provErr == nil {
			return v, false, nil
		}
		return memoryLimitV2Fallback()
	case V1:
		if v, provErr := memlimit.FromCgroupV1()(); provErr == nil {
			return v, false, nil
		}
		return memoryLimitV1Fallback()
	default:
		return 0, true, fmt.Errorf("cgroup: memory limit unsupported for %s", ver)
	}
}

func memoryLimitV2Fallback() (uint64, bool, error) {
	b, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0, true, fmt.Errorf("read memory.max: %w", err)
	}
	v := strings.TrimSpace(string(b))
	if v == "max" {
		return 0, true, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("parse memory.max: %w", err)
	}
	return n, false, nil
}

func memoryLimitV1Fallback() (uint64, bool, error) {
	f, err := os.Open("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0, true, fmt.Errorf("open memory.limit_in_bytes: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, true, fmt.Errorf("empty memory.limit_in_bytes")
	}
	n, err := strconv.ParseUint(strings.TrimSpace(sc.Text()), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("parse memory.limit_in_bytes: %w", err)
	}
	if n >= unlimitedV1 {
		return 0, true, nil
	}
	return n, false, nil
}
