package halremote

import (
	"fmt"

	"github.com/machinekit/machinetalk-go/halproto"
)

// Value is the tagged union carried by a pin. The active variant is
// fixed by the pin's type; the zero Value is typed "unset" and never
// equal to a typed one.
type Value struct {
	pintype halproto.PinType
	bit     bool
	flt     float64
	s32     int32
	u32     uint32
}

// Bool returns a BIT value.
func Bool(v bool) Value { return Value{pintype: halproto.PinTypeBit, bit: v} }

// Float64 returns a FLOAT value.
func Float64(v float64) Value { return Value{pintype: halproto.PinTypeFloat, flt: v} }

// S32 returns an S32 value.
func S32(v int32) Value { return Value{pintype: halproto.PinTypeS32, s32: v} }

// U32 returns a U32 value.
func U32(v uint32) Value { return Value{pintype: halproto.PinTypeU32, u32: v} }

// Type reports the variant carried by the value.
func (v Value) Type() halproto.PinType { return v.pintype }

// Bool reads the BIT variant; false when the value is a different type.
func (v Value) Bool() bool { return v.bit }

// Float64 reads the FLOAT variant.
func (v Value) Float64() float64 { return v.flt }

// S32 reads the S32 variant.
func (v Value) S32() int32 { return v.s32 }

// U32 reads the U32 variant.
func (v Value) U32() uint32 { return v.u32 }

// Equal reports whether two values carry the same variant and payload.
// NaN floats compare unequal, as IEEE-754 demands.
func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.pintype {
	case halproto.PinTypeBit:
		return fmt.Sprintf("%v", v.bit)
	case halproto.PinTypeFloat:
		return fmt.Sprintf("%g", v.flt)
	case halproto.PinTypeS32:
		return fmt.Sprintf("%d", v.s32)
	case halproto.PinTypeU32:
		return fmt.Sprintf("%d", v.u32)
	}
	return "<unset>"
}

// zeroValue is the default for a freshly declared pin.
func zeroValue(t halproto.PinType) Value {
	return Value{pintype: t}
}

// valueFromWire extracts the payload variant of a received pin entry.
// The second return is false when the entry carries no payload field or
// more than one.
func valueFromWire(rpin *halproto.Pin) (Value, bool) {
	t, err := rpin.PayloadType()
	if err != nil || t == 0 {
		return Value{}, false
	}
	switch t {
	case halproto.PinTypeBit:
		return Bool(*rpin.HalBit), true
	case halproto.PinTypeFloat:
		return Float64(*rpin.HalFloat), true
	case halproto.PinTypeS32:
		return S32(*rpin.HalS32), true
	case halproto.PinTypeU32:
		return U32(*rpin.HalU32), true
	}
	return Value{}, false
}

// applyValue writes the variant into the type-matching payload field of
// an outbound pin entry.
func applyValue(v Value, p *halproto.Pin) {
	switch v.pintype {
	case halproto.PinTypeBit:
		p.SetBit(v.bit)
	case halproto.PinTypeFloat:
		p.SetFloat(v.flt)
	case halproto.PinTypeS32:
		p.SetS32(v.s32)
	case halproto.PinTypeU32:
		p.SetU32(v.u32)
	}
}
