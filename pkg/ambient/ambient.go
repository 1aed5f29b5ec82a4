// Package ambient provides the nested-parallelism marker of spec.md §4.F/§9:
// a signal the Pool Manager sets on its workers so the Planner can detect
// "the call is inside a worker" without either package depending on the
// other's full surface.
package ambient

import (
	"os"
	"sync/atomic"
)

const workerEnvVar = "AMORSIZE_WORKER"

var threadWorkerJobs atomic.Int64

// MarkThreadWorker counts one running thread-pool job for the duration of
// its dispatch. It returns a restore function the caller must invoke when
// the job finishes. The count is process-wide, not per goroutine.
// Process workers don't need this: they set workerEnvVar once at process
// start (see MarkProcessWorker), which is visible for the subprocess's
// entire lifetime.
func MarkThreadWorker() (restore func()) {
	threadWorkerJobs.Add(1)
	return func() { threadWorkerJobs.Add(-1) }
}

// MarkProcessWorker sets the environment marker a re-exec'd subprocess
// worker should call once at startup, before doing any work.
func MarkProcessWorker() {
	_ = os.Setenv(workerEnvVar, "1")
}

// InsideWorker reports whether the caller is running inside a pool worker:
// true on every goroutine while any thread-pool job is mid-dispatch, and
// for the entire lifetime of a process-pool subprocess.
func InsideWorker() bool {
	if threadWorkerJobs.Load() > 0 {
		return true
	}
	return os.Getenv(workerEnvVar) == "1"
}
