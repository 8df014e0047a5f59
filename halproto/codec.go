package halproto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Container field numbers, from halremote.proto.
const (
	containerFieldType    = 1
	containerFieldNote    = 2
	containerFieldPparams = 3
	containerFieldComp    = 4
	containerFieldPin     = 5
)

// Component field numbers.
const (
	compFieldName     = 1
	compFieldNoCreate = 2
	compFieldPin      = 3
)

// Pin field numbers.
const (
	pinFieldName     = 1
	pinFieldHandle   = 2
	pinFieldType     = 3
	pinFieldDir      = 4
	pinFieldHalBit   = 5
	pinFieldHalFloat = 6
	pinFieldHalS32   = 7
	pinFieldHalU32   = 8
)

const pparamsFieldKeepaliveTimer = 1

// Marshal encodes a container into protobuf wire format.
func Marshal(c *Container) ([]byte, error) {
	if c.Type == 0 {
		return nil, fmt.Errorf("container has no message type")
	}
	for _, pin := range c.Pin {
		if _, err := pin.PayloadType(); err != nil {
			return nil, err
		}
	}
	for _, comp := range c.Comp {
		for _, pin := range comp.Pin {
			if _, err := pin.PayloadType(); err != nil {
				return nil, err
			}
		}
	}

	var b []byte
	b = protowire.AppendTag(b, containerFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Type))
	if c.Note != "" {
		b = protowire.AppendTag(b, containerFieldNote, protowire.BytesType)
		b = protowire.AppendString(b, c.Note)
	}
	if c.Pparams != nil {
		b = protowire.AppendTag(b, containerFieldPparams, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPparams(c.Pparams))
	}
	for _, comp := range c.Comp {
		b = protowire.AppendTag(b, containerFieldComp, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalComponent(comp))
	}
	for _, pin := range c.Pin {
		b = protowire.AppendTag(b, containerFieldPin, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPin(pin))
	}
	return b, nil
}

func marshalPparams(p *ProtocolParameters) []byte {
	var b []byte
	b = protowire.AppendTag(b, pparamsFieldKeepaliveTimer, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(p.KeepaliveTimer)))
	return b
}

func marshalComponent(c *Component) []byte {
	var b []byte
	if c.Name != "" {
		b = protowire.AppendTag(b, compFieldName, protowire.BytesType)
		b = protowire.AppendString(b, c.Name)
	}
	if c.NoCreate {
		b = protowire.AppendTag(b, compFieldNoCreate, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, pin := range c.Pin {
		b = protowire.AppendTag(b, compFieldPin, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPin(pin))
	}
	return b
}

func marshalPin(p *Pin) []byte {
	var b []byte
	if p.Name != "" {
		b = protowire.AppendTag(b, pinFieldName, protowire.BytesType)
		b = protowire.AppendString(b, p.Name)
	}
	b = protowire.AppendTag(b, pinFieldHandle, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(p.Handle)))
	if p.Type != 0 {
		b = protowire.AppendTag(b, pinFieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
	}
	if p.Dir != 0 {
		b = protowire.AppendTag(b, pinFieldDir, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Dir))
	}
	if p.HalBit != nil {
		b = protowire.AppendTag(b, pinFieldHalBit, protowire.VarintType)
		if *p.HalBit {
			b = protowire.AppendVarint(b, 1)
		} else {
			b = protowire.AppendVarint(b, 0)
		}
	}
	if p.HalFloat != nil {
		b = protowire.AppendTag(b, pinFieldHalFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*p.HalFloat))
	}
	if p.HalS32 != nil {
		b = protowire.AppendTag(b, pinFieldHalS32, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*p.HalS32)))
	}
	if p.HalU32 != nil {
		b = protowire.AppendTag(b, pinFieldHalU32, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*p.HalU32))
	}
	return b
}

// Unmarshal decodes protobuf wire format into the container, replacing
// its previous contents. Unknown fields are skipped.
func Unmarshal(data []byte, c *Container) error {
	c.Clear()
	sawType := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == containerFieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.Type = ContainerType(v)
			sawType = true
			data = data[n:]
		case num == containerFieldNote && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.Note = v
			data = data[n:]
		case num == containerFieldPparams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p := &ProtocolParameters{}
			if err := unmarshalPparams(v, p); err != nil {
				return err
			}
			c.Pparams = p
			data = data[n:]
		case num == containerFieldComp && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			comp := &Component{}
			if err := unmarshalComponent(v, comp); err != nil {
				return err
			}
			c.Comp = append(c.Comp, comp)
			data = data[n:]
		case num == containerFieldPin && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			pin := &Pin{}
			if err := unmarshalPin(v, pin); err != nil {
				return err
			}
			c.Pin = append(c.Pin, pin)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	if !sawType {
		return fmt.Errorf("container has no message type")
	}
	for _, pin := range c.Pin {
		if _, err := pin.PayloadType(); err != nil {
			return err
		}
	}
	for _, comp := range c.Comp {
		for _, pin := range comp.Pin {
			if _, err := pin.PayloadType(); err != nil {
				return err
			}
		}
	}
	return nil
}

func unmarshalPparams(data []byte, p *ProtocolParameters) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if num == pparamsFieldKeepaliveTimer && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.KeepaliveTimer = int32(v)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}

func unmarshalComponent(data []byte, c *Component) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == compFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.Name = v
			data = data[n:]
		case num == compFieldNoCreate && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.NoCreate = v != 0
			data = data[n:]
		case num == compFieldPin && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			pin := &Pin{}
			if err := unmarshalPin(v, pin); err != nil {
				return err
			}
			c.Pin = append(c.Pin, pin)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalPin(data []byte, p *Pin) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == pinFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Name = v
			data = data[n:]
		case num == pinFieldHandle && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Handle = int32(v)
			data = data[n:]
		case num == pinFieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Type = PinType(v)
			data = data[n:]
		case num == pinFieldDir && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Dir = PinDir(v)
			data = data[n:]
		case num == pinFieldHalBit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b := v != 0
			p.HalBit = &b
			data = data[n:]
		case num == pinFieldHalFloat && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f := math.Float64frombits(v)
			p.HalFloat = &f
			data = data[n:]
		case num == pinFieldHalS32 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s := int32(v)
			p.HalS32 = &s
			data = data[n:]
		case num == pinFieldHalU32 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			u := uint32(v)
			p.HalU32 = &u
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
