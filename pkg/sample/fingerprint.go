package sample

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/cespare/xxhash/v2"

	"github.com/amorsize/amorsize/pkg/types"
)

// fingerprint builds the stable, content-addressed cache key of spec.md
// §4.B.6: a hash over (func identity, item type, count_total, rounded mean
// compute time, rounded mean output size, workload type, system signature).
// Rounding to log-scale buckets is what makes near-identical workloads
// collide on the same key instead of differing by a few bytes or
// microseconds.
func fingerprint(funcIdentity string, itemType reflect.Type, countTotal int, meanItemSeconds float64, meanOutputBytes types.Bytes, workloadType WorkloadType, systemSignature string) string {
	itemTypeName := "<nil>"
	if itemType != nil {
		itemTypeName = itemType.String()
	}
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s",
		funcIdentity,
		itemTypeName,
		countTotal,
		types.DurationBucket(meanItemSeconds),
		meanOutputBytes.SizeBucket(),
		workloadType,
		systemSignature,
	)
	sum := xxhash.Sum64String(raw)
	return fmt.Sprintf("%016x", sum)
}

// funcIdentity derives a stable cross-process identity for a function
// value. Go has no stable cross-process function identity (unlike a
// language that can hash bytecode or a qualified name known at call
// sites); the raw code pointer reflect.Value.Pointer() returns moves
// between separate launches of a PIE binary (ASLR), so the cache key uses
// the qualified symbol name runtime.FuncForPC resolves instead — stable
// across restarts of the same binary, which is what the on-disk decision
// cache needs.
func funcIdentity(fn interface{}) string {
	pc := reflect.ValueOf(fn).Pointer()
	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%#x", pc)
}
