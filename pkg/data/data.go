// Package data models the tagged input-collection variant of the optimizer's
// data model: a caller's workload may arrive as a random-access slice, a
// single-pass bounded iterator, or an unbounded stream. Operations that
// require random access refuse UnboundedStream at the type boundary rather
// than materialising it.
package data

import "iter"

// Kind discriminates how a Collection may be traversed.
type Kind int

const (
	// RandomAccess backs a Collection with a concrete slice: sampling does
	// not consume it, and its length is known up front.
	RandomAccess Kind = iota
	// BoundedOnePass backs a Collection with a finite iterator that can
	// only be walked once; sampling buffers a prefix and splices it back.
	BoundedOnePass
	// UnboundedStream backs a Collection with a (possibly infinite)
	// iterator; the Planner must never eagerly materialise it.
	UnboundedStream
)

func (k Kind) String() string {
	switch k {
	case RandomAccess:
		return "random_access"
	case BoundedOnePass:
		return "bounded_one_pass"
	case UnboundedStream:
		return "unbounded_stream"
	default:
		return "unknown"
	}
}

// Collection is the tagged variant from spec §3.1/§9: the core never branches
// on a dynamic type check, it branches on Kind.
type Collection[T any] struct {
	kind  Kind
	items []T
	seq   iter.Seq[T]
}

// FromSlice builds a RandomAccess Collection. Sampling it never consumes
// the backing slice.
func FromSlice[T any](items []T) Collection[T] {
	return Collection[T]{kind: RandomAccess, items: items}
}

// FromBoundedSeq builds a BoundedOnePass Collection from a finite iterator.
func FromBoundedSeq[T any](seq iter.Seq[T]) Collection[T] {
	return Collection[T]{kind: BoundedOnePass, seq: seq}
}

// FromUnboundedSeq builds an UnboundedStream Collection from a (possibly
// infinite) iterator.
func FromUnboundedSeq[T any](seq iter.Seq[T]) Collection[T] {
	return Collection[T]{kind: UnboundedStream, seq: seq}
}

func (c Collection[T]) Kind() Kind { return c.kind }

// Len reports the item count and true only for RandomAccess collections.
func (c Collection[T]) Len() (int, bool) {
	if c.kind != RandomAccess {
		return 0, false
	}
	return len(c.items), true
}

// All returns an iterator over every item in the collection, regardless of
// its Kind. For RandomAccess this walks the backing slice; for the other two
// kinds it drives the stored iterator exactly once.
func (c Collection[T]) All() iter.Seq[T] {
	if c.kind == RandomAccess {
		items := c.items
		return func(yield func(T) bool) {
			for _, it := range items {
				if !yield(it) {
					return
				}
			}
		}
	}
	return c.seq
}

// Sample materialises up to k items per spec §3.1/§4.B and returns a
// Collection equivalent to the original that can still enumerate the full
// sequence exactly once:
//
//   - RandomAccess: the first k items are copied out; the returned
//     Collection is the same backing slice, unconsumed.
//   - BoundedOnePass / UnboundedStream: the first k items are buffered and
//     spliced back in front of the remainder, preserving order; the
//     remainder is never eagerly materialised.
func (c Collection[T]) Sample(k int) (samples []T, rest Collection[T]) {
	if k < 0 {
		k = 0
	}
	switch c.kind {
	case RandomAccess:
		n := k
		if n > len(c.items) {
			n = len(c.items)
		}
		samples = make([]T, n)
		copy(samples, c.items[:n])
		return samples, c
	default:
		next, stop := iter.Pull(c.seq)
		buf := make([]T, 0, k)
		exhausted := false
		for i := 0; i < k; i++ {
			v, ok := next()
			if !ok {
				exhausted = true
				break
			}
			buf = append(buf, v)
		}
		if exhausted {
			stop()
			return buf, Collection[T]{kind: c.kind, seq: replaySeq(buf)}
		}
		spliced := func(yield func(T) bool) {
			defer stop()
			for _, v := range buf {
				if !yield(v) {
					return
				}
			}
			for {
				v, ok := next()
				if !ok {
					return
				}
				if !yield(v) {
					return
				}
			}
		}
		return buf, Collection[T]{kind: c.kind, seq: spliced}
	}
}

func replaySeq[T any](buf []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range buf {
			if !yield(v) {
				return
			}
		}
	}
}
