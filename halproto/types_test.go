package halproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerTypeString(t *testing.T) {
	assert.Equal(t, "PING", MsgPing.String())
	assert.Equal(t, "HALRCOMP_FULL_UPDATE", MsgHalrcompFullUpdate.String())
	assert.Equal(t, "ContainerType(9999)", ContainerType(9999).String())
}

func TestPinTypeString(t *testing.T) {
	cases := []struct {
		pintype PinType
		want    string
	}{
		{PinTypeBit, "BIT"},
		{PinTypeFloat, "FLOAT"},
		{PinTypeS32, "S32"},
		{PinTypeU32, "U32"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.pintype.String())
		})
	}
}

func TestPinDirString(t *testing.T) {
	assert.Equal(t, "IN", PinIn.String())
	assert.Equal(t, "OUT", PinOut.String())
	assert.Equal(t, "IO", PinIO.String())
}

func TestPinDirValues(t *testing.T) {
	// the numeric values are HAL's and appear on the wire
	assert.Equal(t, PinDir(16), PinIn)
	assert.Equal(t, PinDir(32), PinOut)
	assert.Equal(t, PinDir(48), PinIO)
}
