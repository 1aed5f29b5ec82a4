package hooks

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_InvokeRunsAllCallbacksInOrder(t *testing.T) {
	r := NewRegistry()
	var order []int
	r.Register(OnChunkDone, func(any) { order = append(order, 1) })
	r.Register(OnChunkDone, func(any) { order = append(order, 2) })

	r.Invoke(OnChunkDone, ChunkDoneEvent{ChunkIndex: 0})
	assert.Equal(t, []int{1, 2}, order)
}

func TestRegistry_ActiveReflectsRegistration(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Active(OnProgress))
	r.Register(OnProgress, func(any) {})
	assert.True(t, r.Active(OnProgress))
	assert.False(t, r.Active(OnError))
}

func TestRegistry_PanickingCallbackIsIsolated(t *testing.T) {
	r := NewRegistry()
	var ran int32
	r.Register(OnError, func(any) { panic("boom") })
	r.Register(OnError, func(any) { atomic.StoreInt32(&ran, 1) })

	assert.NotPanics(t, func() {
		r.Invoke(OnError, ErrorEvent{Err: errors.New("item failed")})
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestRegistry_InvokeWithNoCallbacksIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.Invoke(OnPlan, PlanEvent{ExecutorKind: "serial"})
	})
}
