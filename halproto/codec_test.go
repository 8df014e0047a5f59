package halproto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalRequiresType(t *testing.T) {
	_, err := Marshal(&Container{})
	assert.Error(t, err)
}

func TestRoundTripPing(t *testing.T) {
	tx := &Container{Type: MsgPing}
	data, err := Marshal(tx)
	require.NoError(t, err)

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	assert.Equal(t, MsgPing, rx.Type)
	assert.Empty(t, rx.Note)
	assert.Nil(t, rx.Pparams)
	assert.Empty(t, rx.Comp)
	assert.Empty(t, rx.Pin)
}

func TestRoundTripBind(t *testing.T) {
	tx := &Container{Type: MsgHalrcompBind}
	comp := tx.AddComp()
	comp.Name = "anddemo"
	comp.NoCreate = true

	button := comp.AddPin()
	button.Name = "anddemo.button0"
	button.Type = PinTypeBit
	button.Dir = PinOut
	button.SetBit(false)

	feed := comp.AddPin()
	feed.Name = "anddemo.feed"
	feed.Type = PinTypeFloat
	feed.Dir = PinIn
	feed.SetFloat(13.25)

	count := comp.AddPin()
	count.Name = "anddemo.count"
	count.Type = PinTypeS32
	count.Dir = PinIO
	count.SetS32(-42)

	mask := comp.AddPin()
	mask.Name = "anddemo.mask"
	mask.Type = PinTypeU32
	mask.Dir = PinOut
	mask.SetU32(0xdeadbeef)

	data, err := Marshal(tx)
	require.NoError(t, err)

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	require.Len(t, rx.Comp, 1)
	got := rx.Comp[0]
	assert.Equal(t, "anddemo", got.Name)
	assert.True(t, got.NoCreate)
	require.Len(t, got.Pin, 4)

	require.NotNil(t, got.Pin[0].HalBit)
	assert.False(t, *got.Pin[0].HalBit)
	assert.Equal(t, PinTypeBit, got.Pin[0].Type)
	assert.Equal(t, PinOut, got.Pin[0].Dir)

	require.NotNil(t, got.Pin[1].HalFloat)
	assert.Equal(t, 13.25, *got.Pin[1].HalFloat)

	require.NotNil(t, got.Pin[2].HalS32)
	assert.Equal(t, int32(-42), *got.Pin[2].HalS32)

	require.NotNil(t, got.Pin[3].HalU32)
	assert.Equal(t, uint32(0xdeadbeef), *got.Pin[3].HalU32)
}

func TestRoundTripIncrementalUpdate(t *testing.T) {
	tx := &Container{Type: MsgHalrcompIncrementalUpdate}
	pin := tx.AddPin()
	pin.Handle = 7
	pin.Type = PinTypeBit
	pin.SetBit(true)

	data, err := Marshal(tx)
	require.NoError(t, err)

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	assert.Equal(t, MsgHalrcompIncrementalUpdate, rx.Type)
	require.Len(t, rx.Pin, 1)
	assert.Equal(t, int32(7), rx.Pin[0].Handle)
	require.NotNil(t, rx.Pin[0].HalBit)
	assert.True(t, *rx.Pin[0].HalBit)
}

func TestRoundTripFullUpdateWithPparams(t *testing.T) {
	tx := &Container{
		Type:    MsgHalrcompFullUpdate,
		Pparams: &ProtocolParameters{KeepaliveTimer: 500},
	}
	comp := tx.AddComp()
	comp.Name = "anddemo"
	led := comp.AddPin()
	led.Name = "anddemo.led"
	led.Handle = 3
	led.Type = PinTypeBit
	led.SetBit(false)

	data, err := Marshal(tx)
	require.NoError(t, err)

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	require.NotNil(t, rx.Pparams)
	assert.Equal(t, int32(500), rx.Pparams.KeepaliveTimer)
	require.Len(t, rx.Comp, 1)
	require.Len(t, rx.Comp[0].Pin, 1)
	assert.Equal(t, int32(3), rx.Comp[0].Pin[0].Handle)
}

func TestRoundTripNote(t *testing.T) {
	tx := &Container{Type: MsgHalrcompBindReject, Note: "component exists"}
	data, err := Marshal(tx)
	require.NoError(t, err)

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	assert.Equal(t, "component exists", rx.Note)
}

func TestRoundTripFloatValues(t *testing.T) {
	values := []float64{0, 1, -1, 0.1, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}
	for _, value := range values {
		tx := &Container{Type: MsgHalrcompSet}
		pin := tx.AddPin()
		pin.Handle = 1
		pin.Type = PinTypeFloat
		pin.SetFloat(value)

		data, err := Marshal(tx)
		require.NoError(t, err)

		rx := &Container{}
		require.NoError(t, Unmarshal(data, rx))
		require.Len(t, rx.Pin, 1)
		require.NotNil(t, rx.Pin[0].HalFloat)
		assert.Equal(t, value, *rx.Pin[0].HalFloat)
	}
}

func TestRoundTripSignedBoundaries(t *testing.T) {
	for _, value := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		tx := &Container{Type: MsgHalrcompSet}
		pin := tx.AddPin()
		pin.Handle = 1
		pin.Type = PinTypeS32
		pin.SetS32(value)

		data, err := Marshal(tx)
		require.NoError(t, err)

		rx := &Container{}
		require.NoError(t, Unmarshal(data, rx))
		require.NotNil(t, rx.Pin[0].HalS32)
		assert.Equal(t, value, *rx.Pin[0].HalS32)
	}
}

func TestMarshalRejectsMultiplePayloads(t *testing.T) {
	tx := &Container{Type: MsgHalrcompSet}
	pin := tx.AddPin()
	pin.Handle = 1
	b := true
	f := 1.0
	pin.HalBit = &b
	pin.HalFloat = &f

	_, err := Marshal(tx)
	assert.Error(t, err)
}

func TestUnmarshalRejectsMultiplePayloads(t *testing.T) {
	// hand-build a pin entry carrying both halbit and hals32
	var pin []byte
	pin = protowire.AppendTag(pin, pinFieldHandle, protowire.VarintType)
	pin = protowire.AppendVarint(pin, 1)
	pin = protowire.AppendTag(pin, pinFieldHalBit, protowire.VarintType)
	pin = protowire.AppendVarint(pin, 1)
	pin = protowire.AppendTag(pin, pinFieldHalS32, protowire.VarintType)
	pin = protowire.AppendVarint(pin, 2)

	var data []byte
	data = protowire.AppendTag(data, containerFieldType, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(MsgHalrcompIncrementalUpdate))
	data = protowire.AppendTag(data, containerFieldPin, protowire.BytesType)
	data = protowire.AppendBytes(data, pin)

	err := Unmarshal(data, &Container{})
	assert.Error(t, err)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	tx := &Container{Type: MsgPingAcknowledge}
	data, err := Marshal(tx)
	require.NoError(t, err)

	// append a field this schema does not know
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future extension")

	rx := &Container{}
	require.NoError(t, Unmarshal(data, rx))
	assert.Equal(t, MsgPingAcknowledge, rx.Type)
}

func TestUnmarshalTruncated(t *testing.T) {
	tx := &Container{Type: MsgHalrcompBind}
	comp := tx.AddComp()
	comp.Name = "truncate"
	data, err := Marshal(tx)
	require.NoError(t, err)

	err = Unmarshal(data[:len(data)-2], &Container{})
	assert.Error(t, err)
}

func TestUnmarshalReplacesContents(t *testing.T) {
	rx := &Container{}

	first := &Container{Type: MsgHalrcompIncrementalUpdate}
	pin := first.AddPin()
	pin.Handle = 1
	pin.Type = PinTypeBit
	pin.SetBit(true)
	data, err := Marshal(first)
	require.NoError(t, err)
	require.NoError(t, Unmarshal(data, rx))
	require.Len(t, rx.Pin, 1)

	second := &Container{Type: MsgPing}
	data, err = Marshal(second)
	require.NoError(t, err)
	require.NoError(t, Unmarshal(data, rx))
	assert.Equal(t, MsgPing, rx.Type)
	assert.Empty(t, rx.Pin)
}

func TestSetPayloadClearsOthers(t *testing.T) {
	pin := &Pin{}
	pin.SetBit(true)
	pin.SetS32(5)

	assert.Nil(t, pin.HalBit)
	require.NotNil(t, pin.HalS32)
	assert.Equal(t, int32(5), *pin.HalS32)

	payload, err := pin.PayloadType()
	require.NoError(t, err)
	assert.Equal(t, PinTypeS32, payload)
}

func TestContainerClear(t *testing.T) {
	tx := &Container{Type: MsgHalrcompSet, Note: "x"}
	tx.AddComp()
	tx.AddPin()
	tx.Pparams = &ProtocolParameters{KeepaliveTimer: 1}

	tx.Clear()
	assert.Equal(t, ContainerType(0), tx.Type)
	assert.Empty(t, tx.Note)
	assert.Nil(t, tx.Pparams)
	assert.Empty(t, tx.Comp)
	assert.Empty(t, tx.Pin)
}
