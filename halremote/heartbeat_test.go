package halremote

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRearmTimerFiresOnce(t *testing.T) {
	var fired atomic.Int32
	timer := &rearmTimer{}
	timer.arm(10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestRearmTimerZeroPeriodDisables(t *testing.T) {
	var fired atomic.Int32
	timer := &rearmTimer{}
	timer.arm(0, func() { fired.Add(1) })

	assert.False(t, timer.active())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestRearmTimerStop(t *testing.T) {
	var fired atomic.Int32
	timer := &rearmTimer{}
	timer.arm(20*time.Millisecond, func() { fired.Add(1) })
	require.True(t, timer.active())

	timer.stop()
	assert.False(t, timer.active())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestRearmTimerRefreshPostpones(t *testing.T) {
	var fired atomic.Int32
	fn := func() { fired.Add(1) }
	timer := &rearmTimer{}
	timer.arm(50*time.Millisecond, fn)

	// keep refreshing faster than the period; it must not fire
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		timer.refresh(fn)
	}
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestRearmTimerRefreshWithoutArmIsNoop(t *testing.T) {
	var fired atomic.Int32
	timer := &rearmTimer{}
	timer.refresh(func() { fired.Add(1) })

	assert.False(t, timer.active())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestRearmTimerRearmReplacesPeriod(t *testing.T) {
	var fired atomic.Int32
	fn := func() { fired.Add(1) }
	timer := &rearmTimer{}
	timer.arm(time.Hour, fn)
	timer.arm(10*time.Millisecond, fn)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}
