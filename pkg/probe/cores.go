//go:build linux

package probe

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"
)

// detectPhysicalCores tries each detector in order, per spec.md §4.A, and
// stops at the first result >= 1. It never returns 0, and prefers the more
// conservative logical/2 estimate over the raw logical count when physical
// topology can't be determined (hyperthreading ambiguity).
func detectPhysicalCores() (int, string) {
	if n, ok := coresFromContainerQuota(); ok {
		return n, ""
	}
	if n, ok := coresFromCPUInfo(); ok {
		return n, ""
	}
	if n, ok := coresFromLscpu(); ok {
		return n, ""
	}
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n, "physical core detection fell back to logical_cores/2"
}

// coresFromContainerQuota asks automaxprocs what GOMAXPROCS it would set
// given the container's CPU quota (cgroup cpu.max/cpu.cfs_quota_us). This is
// the "honoring container quotas" half of the physical-core algorithm: a
// quota of "2 CPUs" on a 32-core host should plan for 2 workers, not 32.
func coresFromContainerQuota() (int, bool) {
	var quota int
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	if err != nil {
		return 0, false
	}
	defer undo()
	quota = runtime.GOMAXPROCS(0)
	if quota < 1 || quota >= runtime.NumCPU() {
		// No quota in effect (or quota >= host cores): defer to the
		// cpuinfo/lscpu detectors, which distinguish physical from
		// logical (hyperthreaded) cores on the bare host.
		return 0, false
	}
	return quota, true
}

// coresFromCPUInfo counts distinct (physical id, core id) pairs in
// /proc/cpuinfo, the canonical way to tell physical cores from
// hyperthreaded logical siblings on Linux.
func coresFromCPUInfo() (int, bool) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0, false
	}
	defer func() { _ = f.Close() }()

	type key struct{ phys, core string }
	seen := make(map[key]struct{})
	var curPhys, curCore string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "physical id"):
			curPhys = fieldAfterColon(line)
		case strings.HasPrefix(line, "core id"):
			curCore = fieldAfterColon(line)
			if curPhys != "" && curCore != "" {
				seen[key{curPhys, curCore}] = struct{}{}
			}
		case line == "":
			curPhys, curCore = "", ""
		}
	}
	if len(seen) == 0 {
		return 0, false
	}
	return len(seen), true
}

func fieldAfterColon(line string) string {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

// coresFromLscpu shells out to lscpu as a last structured-data attempt
// before falling back to the logical/2 heuristic.
func coresFromLscpu() (int, bool) {
	path, err := exec.LookPath("lscpu")
	if err != nil {
		return 0, false
	}
	out, err := exec.Command(path, "-p=CORE,SOCKET").Output()
	if err != nil {
		return 0, false
	}
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		seen[line] = struct{}{}
	}
	if len(seen) == 0 {
		return 0, false
	}
	return len(seen), true
}
