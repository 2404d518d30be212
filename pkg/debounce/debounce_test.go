package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstFiresOnce(t *testing.T) {
	var fired atomic.Int32
	d := New(10*time.Millisecond, func() { fired.Add(1) })

	assert.False(t, d.Trigger(), "first trigger opens the window")
	assert.True(t, d.Trigger(), "second trigger coalesces")
	assert.True(t, d.Trigger())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTriggerAfterFireOpensNewWindow(t *testing.T) {
	var fired atomic.Int32
	d := New(5*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)

	assert.False(t, d.Trigger())
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 2*time.Millisecond)
}

func TestStopCancelsPending(t *testing.T) {
	var fired atomic.Int32
	d := New(10*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	assert.True(t, d.Pending())
	d.Stop()
	assert.False(t, d.Pending())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
