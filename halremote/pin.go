package halremote

import (
	"sync"
	"time"

	"github.com/machinekit/machinetalk-go/halproto"
	"github.com/machinekit/machinetalk-go/util"
)

// Pin is a single named, typed, directional signal belonging to a
// remote component. Name, type and direction are frozen at declaration;
// value and synced flag change over the life of the binding.
//
// IN pins are driven by the broker, OUT pins locally; IO pins behave as
// OUT for outbound changes. A pin is synced while its locally known
// value is the one most recently reflected at the broker.
type Pin struct {
	name    string
	pintype halproto.PinType
	dir     halproto.PinDir

	parent *RemoteComponent

	mu           sync.Mutex
	value        Value
	synced       bool
	handle       int32
	valueSignal  chan struct{}
	syncedSignal chan struct{}

	onValueChanged  []func(Value)
	onSyncedChanged []func(bool)
}

func newPin(parent *RemoteComponent, name string, pintype halproto.PinType, dir halproto.PinDir) *Pin {
	return &Pin{
		name:         name,
		pintype:      pintype,
		dir:          dir,
		parent:       parent,
		value:        zeroValue(pintype),
		valueSignal:  make(chan struct{}),
		syncedSignal: make(chan struct{}),
	}
}

// Name returns the pin's local identifier.
func (p *Pin) Name() string { return p.name }

// Type returns the pin's value type.
func (p *Pin) Type() halproto.PinType { return p.pintype }

// Dir returns the pin's direction.
func (p *Pin) Dir() halproto.PinDir { return p.dir }

// Handle returns the broker-assigned handle, zero before the first full
// update.
func (p *Pin) Handle() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// Synced reports whether the local value is known to be reflected at
// the broker.
func (p *Pin) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Get returns the current value.
func (p *Pin) Get() Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Set updates the pin from the local side. Equal values are ignored;
// a change clears the synced flag and, while the component is
// connected and the pin is not an IN pin, emits a set message to the
// broker. The value type must match the pin type.
func (p *Pin) Set(v Value) error {
	if v.Type() != p.pintype {
		return ErrTypeMismatch
	}

	p.mu.Lock()
	if p.value.Equal(v) {
		p.mu.Unlock()
		return nil
	}
	p.value = v
	valueObs := append([]func(Value){}, p.onValueChanged...)
	changedSync := p.synced
	p.synced = false
	syncedObs := append([]func(bool){}, p.onSyncedChanged...)
	p.broadcastLocked()
	p.mu.Unlock()

	for _, fn := range valueObs {
		fn(v)
	}
	if changedSync {
		for _, fn := range syncedObs {
			fn(false)
		}
	}

	if p.parent != nil {
		p.parent.pinChange(p, v)
	}
	return nil
}

// SetBool is shorthand for Set(Bool(v)) on a BIT pin.
func (p *Pin) SetBool(v bool) error { return p.Set(Bool(v)) }

// SetFloat64 is shorthand for Set(Float64(v)) on a FLOAT pin.
func (p *Pin) SetFloat64(v float64) error { return p.Set(Float64(v)) }

// SetS32 is shorthand for Set(S32(v)) on an S32 pin.
func (p *Pin) SetS32(v int32) error { return p.Set(S32(v)) }

// SetU32 is shorthand for Set(U32(v)) on a U32 pin.
func (p *Pin) SetU32(v uint32) error { return p.Set(U32(v)) }

// Bool reads the value of a BIT pin.
func (p *Pin) Bool() bool { return p.Get().Bool() }

// Float64 reads the value of a FLOAT pin.
func (p *Pin) Float64() float64 { return p.Get().Float64() }

// S32 reads the value of an S32 pin.
func (p *Pin) S32() int32 { return p.Get().S32() }

// U32 reads the value of a U32 pin.
func (p *Pin) U32() uint32 { return p.Get().U32() }

// OnValueChanged registers an observer for value changes. Observers run
// synchronously in the context that changed the value and must not
// block.
func (p *Pin) OnValueChanged(fn func(Value)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onValueChanged = append(p.onValueChanged, fn)
}

// OnSyncedChanged registers an observer for synced-flag edges.
func (p *Pin) OnSyncedChanged(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSyncedChanged = append(p.onSyncedChanged, fn)
}

// WaitSynced blocks until the pin is synced. Timeout zero polls,
// negative waits indefinitely.
func (p *Pin) WaitSynced(timeout time.Duration) bool {
	return util.Await(p.Synced, func() <-chan struct{} {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.syncedSignal
	}, timeout)
}

// setFromWire applies a value received from the broker and marks the
// pin synced.
func (p *Pin) setFromWire(v Value) {
	p.mu.Lock()
	changedValue := !p.value.Equal(v)
	p.value = v
	changedSync := !p.synced
	p.synced = true
	valueObs := append([]func(Value){}, p.onValueChanged...)
	syncedObs := append([]func(bool){}, p.onSyncedChanged...)
	p.broadcastLocked()
	p.mu.Unlock()

	if changedValue {
		for _, fn := range valueObs {
			fn(v)
		}
	}
	if changedSync {
		for _, fn := range syncedObs {
			fn(true)
		}
	}
}

// unsync clears the synced flag, used when the component leaves the
// connected state.
func (p *Pin) unsync() {
	p.mu.Lock()
	changed := p.synced
	p.synced = false
	syncedObs := append([]func(bool){}, p.onSyncedChanged...)
	p.broadcastLocked()
	p.mu.Unlock()

	if changed {
		for _, fn := range syncedObs {
			fn(false)
		}
	}
}

func (p *Pin) setHandle(handle int32) {
	p.mu.Lock()
	p.handle = handle
	p.mu.Unlock()
}

// broadcastLocked wakes all waiters; callers hold p.mu.
func (p *Pin) broadcastLocked() {
	close(p.valueSignal)
	p.valueSignal = make(chan struct{})
	close(p.syncedSignal)
	p.syncedSignal = make(chan struct{})
}
