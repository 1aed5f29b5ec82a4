package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amorsize/amorsize/pkg/ambient"
)

func TestThreadPool_RunsAllJobs(t *testing.T) {
	p := NewThreadPool(4)
	t.Cleanup(func() { _ = p.Close() })

	var n int64
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(func() { atomic.AddInt64(&n, 1) }))
	}
	require.NoError(t, p.Close())
	assert.EqualValues(t, 100, atomic.LoadInt64(&n))
}

func TestThreadPool_SubmitAfterCloseErrors(t *testing.T) {
	p := NewThreadPool(2)
	require.NoError(t, p.Close())

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestThreadPool_MarksAmbientWorkerDuringJob(t *testing.T) {
	p := NewThreadPool(1)
	t.Cleanup(func() { _ = p.Close() })

	done := make(chan bool, 1)
	require.NoError(t, p.Submit(func() {
		done <- ambient.InsideWorker()
	}))

	select {
	case inside := <-done:
		assert.True(t, inside)
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	// Give the worker a moment to fall back to idle and restore the marker.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ambient.InsideWorker())
}
