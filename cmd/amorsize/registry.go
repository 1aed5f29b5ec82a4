package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/amorsize/amorsize/pkg/executor"
	"github.com/amorsize/amorsize/pkg/pool"
	"github.com/amorsize/amorsize/pkg/sample"
)

// intEntry and stringEntry are the two func-ref shapes the CLI knows how to
// resolve, since amorsize.Plan/Execute are generic over (T, R) and a CLI
// string argument can't carry a Go type parameter. Every built-in keeps its
// input and output the same concrete type so a single entry can serve both
// the sampler's Task and the executor's Job.
type intEntry struct {
	task sample.Task[int, int]
	job  executor.Job[int, int]
}

type stringEntry struct {
	task sample.Task[string, string]
	job  executor.Job[string, string]
}

var intFuncs = map[string]intEntry{}
var stringFuncs = map[string]stringEntry{}

func registerInt(name string, f func(int) (int, error)) {
	intFuncs[name] = intEntry{
		task: sample.Task[int, int]{Func: f, ProcessSafe: true},
		job:  executor.Job[int, int]{Func: f, TaskName: name},
	}
	pool.Register(name, wrapInt(f))
}

func registerString(name string, f func(string) (string, error)) {
	stringFuncs[name] = stringEntry{
		task: sample.Task[string, string]{Func: f, ProcessSafe: true},
		job:  executor.Job[string, string]{Func: f, TaskName: name},
	}
	pool.Register(name, wrapString(f))
}

func wrapInt(f func(int) (int, error)) pool.RawTask {
	return func(itemBytes []byte) ([]byte, error) {
		var item int
		if err := gob.NewDecoder(bytes.NewReader(itemBytes)).Decode(&item); err != nil {
			return nil, err
		}
		r, err := f(item)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

func wrapString(f func(string) (string, error)) pool.RawTask {
	return func(itemBytes []byte) ([]byte, error) {
		var item string
		if err := gob.NewDecoder(bytes.NewReader(itemBytes)).Decode(&item); err != nil {
			return nil, err
		}
		r, err := f(item)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// registerBuiltins installs the small fixed set of func-refs the CLI can
// dispatch to. It runs identically in the parent process and in any
// re-exec'd subprocess worker, since both need the same names resolvable.
func registerBuiltins() {
	registerInt("square", func(i int) (int, error) { return i * i, nil })
	registerInt("double", func(i int) (int, error) { return i * 2, nil })
	registerInt("fib", func(i int) (int, error) { return fibSlow(i), nil })

	registerString("upper", func(s string) (string, error) { return strings.ToUpper(s), nil })
	registerString("reverse", func(s string) (string, error) { return reverseString(s), nil })
	registerString("sha256hex", func(s string) (string, error) {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:]), nil
	})
}

// fibSlow is a deliberately unmemoized recursive Fibonacci, used as a
// stand-in for a CPU-bound per-item workload heavy enough to clear the
// planner's spawn-cost/minimum-speedup gates.
func fibSlow(n int) int {
	if n < 2 {
		return n
	}
	return fibSlow(n-1) + fibSlow(n-2)
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func lookupFuncRef(name string) (string, bool) {
	if _, ok := intFuncs[name]; ok {
		return "int", true
	}
	if _, ok := stringFuncs[name]; ok {
		return "string", true
	}
	return "", false
}

func funcRefNames() []string {
	names := make([]string, 0, len(intFuncs)+len(stringFuncs))
	for n := range intFuncs {
		names = append(names, n)
	}
	for n := range stringFuncs {
		names = append(names, n)
	}
	return names
}

func unknownFuncRefError(name string) error {
	return fmt.Errorf("unknown func-ref %q (known: %s)", name, strings.Join(funcRefNames(), ", "))
}
