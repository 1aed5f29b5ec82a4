//go:build linux

package probe

import (
	"fmt"

	"github.com/pbnjay/memory"

	"github.com/amorsize/amorsize/pkg/system/cgroup"
)

// detectMemory implements spec.md §4.A's memory algorithm: cgroup v2 first,
// then cgroup v1, then host RAM; the sentinel "unlimited" values from either
// cgroup hierarchy fall through to host RAM. The number surfaced is always
// min(cgroup limit, host total).
func detectMemory() (limitBytes, availableBytes uint64, warning string) {
	hostTotal := memory.TotalMemory()
	hostAvail := memory.FreeMemory()
	if hostTotal == 0 {
		// memory.TotalMemory returns 0 when it can't determine host RAM
		// (e.g. unsupported platform); fall back to a conservative
		// default rather than dividing by zero downstream.
		hostTotal = 1 << 30 // 1 GiB
		warning = "host memory detection unavailable, defaulting to 1 GiB"
	}
	if hostAvail == 0 || hostAvail > hostTotal {
		hostAvail = hostTotal
	}

	ver, _, err := cgroup.Detect()
	if err != nil || ver == cgroup.Unsupported {
		return hostTotal, hostAvail, joinWarn(warning, "no cgroup mount; using host RAM")
	}

	limit, unlimited, err := cgroup.MemoryLimit(ver)
	if err != nil {
		return hostTotal, hostAvail, joinWarn(warning, fmt.Sprintf("cgroup memory limit unreadable: %v", err))
	}
	if unlimited || limit > hostTotal {
		return hostTotal, hostAvail, warning
	}
	avail := hostAvail
	if limit < avail {
		avail = limit
	}
	return limit, avail, warning
}

func joinWarn(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "; " + b
}
