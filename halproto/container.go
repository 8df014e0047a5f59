// Package halproto defines the wire schema spoken between a remote HAL
// component and its broker, and a protobuf codec for it. The schema is
// described in halremote.proto; the codec here is maintained by hand on
// top of the protowire primitives so the module carries no code
// generation step for a handful of small messages.
package halproto

import "fmt"

// Container is the top-level frame exchanged on both channels. Type
// discriminates the payload; the remaining fields are populated
// depending on it.
type Container struct {
	Type    ContainerType
	Note    string
	Pparams *ProtocolParameters
	Comp    []*Component
	Pin     []*Pin
}

// Clear resets the container for reuse as an outbound message builder.
func (c *Container) Clear() {
	c.Type = 0
	c.Note = ""
	c.Pparams = nil
	c.Comp = nil
	c.Pin = nil
}

// AddComp appends and returns a new component entry.
func (c *Container) AddComp() *Component {
	comp := &Component{}
	c.Comp = append(c.Comp, comp)
	return comp
}

// AddPin appends and returns a new top-level pin entry.
func (c *Container) AddPin() *Pin {
	pin := &Pin{}
	c.Pin = append(c.Pin, pin)
	return pin
}

// ProtocolParameters carries broker-advertised tunables.
type ProtocolParameters struct {
	KeepaliveTimer int32 // milliseconds
}

// Component describes one remote component in a bind request or a full
// update.
type Component struct {
	Name     string
	NoCreate bool
	Pin      []*Pin
}

// AddPin appends and returns a new pin entry on the component.
func (c *Component) AddPin() *Pin {
	pin := &Pin{}
	c.Pin = append(c.Pin, pin)
	return pin
}

// Pin is a single pin entry. At most one of the four payload fields is
// set; pointer presence distinguishes "false/zero" from "absent".
type Pin struct {
	Name   string
	Handle int32
	Type   PinType
	Dir    PinDir

	HalBit   *bool
	HalFloat *float64
	HalS32   *int32
	HalU32   *uint32
}

// SetBit sets the BIT payload, clearing any other payload field.
func (p *Pin) SetBit(v bool) {
	p.clearPayload()
	p.HalBit = &v
}

// SetFloat sets the FLOAT payload, clearing any other payload field.
func (p *Pin) SetFloat(v float64) {
	p.clearPayload()
	p.HalFloat = &v
}

// SetS32 sets the S32 payload, clearing any other payload field.
func (p *Pin) SetS32(v int32) {
	p.clearPayload()
	p.HalS32 = &v
}

// SetU32 sets the U32 payload, clearing any other payload field.
func (p *Pin) SetU32(v uint32) {
	p.clearPayload()
	p.HalU32 = &v
}

func (p *Pin) clearPayload() {
	p.HalBit = nil
	p.HalFloat = nil
	p.HalS32 = nil
	p.HalU32 = nil
}

// PayloadType reports which payload field is set, or 0 when none is.
// An error is returned when more than one field is populated.
func (p *Pin) PayloadType() (PinType, error) {
	var t PinType
	n := 0
	if p.HalBit != nil {
		t = PinTypeBit
		n++
	}
	if p.HalFloat != nil {
		t = PinTypeFloat
		n++
	}
	if p.HalS32 != nil {
		t = PinTypeS32
		n++
	}
	if p.HalU32 != nil {
		t = PinTypeU32
		n++
	}
	if n > 1 {
		return 0, fmt.Errorf("pin %q carries %d payload fields, want at most one", p.Name, n)
	}
	return t, nil
}
