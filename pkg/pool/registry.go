package pool

import "sync"

// RawTask is the type-erased shape a process worker can invoke: it receives
// one gob-encoded item and returns one gob-encoded result. Callers register
// their typed Task[T, R] under a stable name (see cmd/amorsize/registry.go);
// this is the "registered entry point" capability ProcessSafe promises,
// since Go cannot marshal an arbitrary closure the way a reflective
// language introspects one.
type RawTask func(itemBytes []byte) ([]byte, error)

var registry sync.Map // name string -> RawTask

// Register installs a task under name, overwriting any previous
// registration. It must be called identically in both the parent process
// and any subprocess worker (i.e. at package init or main() startup),
// since the subprocess re-execs the same binary and looks the name up in
// its own copy of this registry.
func Register(name string, task RawTask) {
	registry.Store(name, task)
}

// Lookup returns the task registered under name, if any.
func Lookup(name string) (RawTask, bool) {
	v, ok := registry.Load(name)
	if !ok {
		return nil, false
	}
	return v.(RawTask), true
}
