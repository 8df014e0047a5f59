package halproto

import "fmt"

// ContainerType discriminates the top-level message carried in a
// Container frame.
type ContainerType int32

// Message types understood by the remote-component channels.
const (
	MsgPing                      ContainerType = 210
	MsgPingAcknowledge           ContainerType = 215
	MsgHalrcompBind              ContainerType = 256
	MsgHalrcompBindConfirm       ContainerType = 257
	MsgHalrcompBindReject        ContainerType = 258
	MsgHalrcompSet               ContainerType = 259
	MsgHalrcompSetReject         ContainerType = 260
	MsgHalrcompFullUpdate        ContainerType = 261
	MsgHalrcompIncrementalUpdate ContainerType = 262
	MsgHalrcommandError          ContainerType = 264
)

// ContainerTypeNames maps message types to the names used on the wire
// protocol specification.
var ContainerTypeNames = map[ContainerType]string{
	MsgPing:                      "PING",
	MsgPingAcknowledge:           "PING_ACKNOWLEDGE",
	MsgHalrcompBind:              "HALRCOMP_BIND",
	MsgHalrcompBindConfirm:       "HALRCOMP_BIND_CONFIRM",
	MsgHalrcompBindReject:        "HALRCOMP_BIND_REJECT",
	MsgHalrcompSet:               "HALRCOMP_SET",
	MsgHalrcompSetReject:         "HALRCOMP_SET_REJECT",
	MsgHalrcompFullUpdate:        "HALRCOMP_FULL_UPDATE",
	MsgHalrcompIncrementalUpdate: "HALRCOMP_INCREMENTAL_UPDATE",
	MsgHalrcommandError:          "HALRCOMMAND_ERROR",
}

func (t ContainerType) String() string {
	if name, ok := ContainerTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ContainerType(%d)", int32(t))
}

// PinType is the value type of a HAL pin. The numeric values are HAL's
// historical ones and appear on the wire.
type PinType int32

// Pin value types.
const (
	PinTypeBit   PinType = 1
	PinTypeFloat PinType = 2
	PinTypeS32   PinType = 3
	PinTypeU32   PinType = 4
)

func (t PinType) String() string {
	switch t {
	case PinTypeBit:
		return "BIT"
	case PinTypeFloat:
		return "FLOAT"
	case PinTypeS32:
		return "S32"
	case PinTypeU32:
		return "U32"
	}
	return fmt.Sprintf("PinType(%d)", int32(t))
}

// PinDir is the direction of a HAL pin relative to the component that
// owns it. IN pins are driven by the broker, OUT pins locally; IO pins
// behave as OUT for outbound changes.
type PinDir int32

// Pin directions.
const (
	PinIn  PinDir = 16
	PinOut PinDir = 32
	PinIO  PinDir = 48
)

func (d PinDir) String() string {
	switch d {
	case PinIn:
		return "IN"
	case PinOut:
		return "OUT"
	case PinIO:
		return "IO"
	}
	return fmt.Sprintf("PinDir(%d)", int32(d))
}
