package halremote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinekit/machinetalk-go/halproto"
)

func newDetachedPin(t *testing.T, pintype halproto.PinType, dir halproto.PinDir) *Pin {
	t.Helper()
	c := NewRemoteComponent("pintest")
	t.Cleanup(c.Stop)
	pin, err := c.NewPin("pin", pintype, dir)
	require.NoError(t, err)
	return pin
}

func TestPinDefaults(t *testing.T) {
	cases := []struct {
		pintype halproto.PinType
		want    Value
	}{
		{halproto.PinTypeBit, Bool(false)},
		{halproto.PinTypeFloat, Float64(0)},
		{halproto.PinTypeS32, S32(0)},
		{halproto.PinTypeU32, U32(0)},
	}
	for _, tc := range cases {
		t.Run(tc.pintype.String(), func(t *testing.T) {
			pin := newDetachedPin(t, tc.pintype, halproto.PinOut)
			assert.True(t, pin.Get().Equal(tc.want))
			assert.False(t, pin.Synced())
			assert.Equal(t, int32(0), pin.Handle())
		})
	}
}

func TestPinIdentityFrozen(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeS32, halproto.PinIO)
	assert.Equal(t, "pin", pin.Name())
	assert.Equal(t, halproto.PinTypeS32, pin.Type())
	assert.Equal(t, halproto.PinIO, pin.Dir())
}

func TestSetGetImmediate(t *testing.T) {
	// set(v); get() == v regardless of connection state
	pin := newDetachedPin(t, halproto.PinTypeS32, halproto.PinOut)
	require.NoError(t, pin.SetS32(-17))
	assert.Equal(t, int32(-17), pin.S32())

	require.NoError(t, pin.Set(S32(23)))
	assert.Equal(t, S32(23), pin.Get())
}

func TestSetTypeMismatch(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeBit, halproto.PinOut)
	assert.ErrorIs(t, pin.Set(Float64(1)), ErrTypeMismatch)
	assert.ErrorIs(t, pin.SetU32(1), ErrTypeMismatch)
}

func TestValueObserverSeesDistinctValues(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeS32, halproto.PinOut)

	var seen []int32
	pin.OnValueChanged(func(v Value) { seen = append(seen, v.S32()) })

	require.NoError(t, pin.SetS32(1))
	require.NoError(t, pin.SetS32(1))
	require.NoError(t, pin.SetS32(2))
	require.NoError(t, pin.SetS32(3))

	assert.Equal(t, []int32{1, 2, 3}, seen)
}

func TestSyncedObserverEdges(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeBit, halproto.PinOut)

	var edges []bool
	pin.OnSyncedChanged(func(synced bool) { edges = append(edges, synced) })

	pin.setFromWire(Bool(true))
	assert.True(t, pin.Synced())

	// a local change leaves the broker behind
	require.NoError(t, pin.SetBool(false))
	assert.False(t, pin.Synced())

	// the broker echoing the value back re-syncs
	pin.setFromWire(Bool(false))
	assert.True(t, pin.Synced())

	assert.Equal(t, []bool{true, false, true}, edges)
}

func TestSetFromWireKeepsEqualValueSilent(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeBit, halproto.PinIn)
	pin.setFromWire(Bool(false))

	var values []Value
	pin.OnValueChanged(func(v Value) { values = append(values, v) })

	pin.setFromWire(Bool(false))
	assert.Empty(t, values)
	assert.True(t, pin.Synced())
}

func TestWaitSynced(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeBit, halproto.PinOut)

	assert.False(t, pin.WaitSynced(0))

	go func() {
		time.Sleep(20 * time.Millisecond)
		pin.setFromWire(Bool(false))
	}()
	assert.True(t, pin.WaitSynced(time.Second))
	assert.True(t, pin.WaitSynced(0))
}

func TestWaitSyncedTimeout(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeBit, halproto.PinOut)
	start := time.Now()
	assert.False(t, pin.WaitSynced(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestUnsync(t *testing.T) {
	pin := newDetachedPin(t, halproto.PinTypeU32, halproto.PinOut)
	pin.setFromWire(U32(9))
	require.True(t, pin.Synced())

	pin.unsync()
	assert.False(t, pin.Synced())
	assert.Equal(t, uint32(9), pin.U32())
}
