// Package halremote implements the client side of the HAL
// remote-component protocol: a component binds its pins at a broker
// over a DEALER command channel, subscribes to state on a SUB channel,
// and mirrors pin changes in both directions while two heartbeats
// watch channel liveness.
package halremote

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/machinekit/machinetalk-go/config"
	"github.com/machinekit/machinetalk-go/halproto"
	"github.com/machinekit/machinetalk-go/util"

	log "github.com/sirupsen/logrus"
)

// Defaults for the engine tunables.
const (
	DefaultHeartbeatPeriod = 3000 * time.Millisecond
	defaultPollInterval    = 200 * time.Millisecond
)

// RemoteComponent binds a set of local pins to a HAL broker and keeps
// them in sync. Endpoints are set with SetHalrcmdURI/SetHalrcompURI
// (typically from service discovery), pins are declared with NewPin,
// and Ready starts the connection.
type RemoteComponent struct {
	name string

	mu              sync.Mutex
	pinsByName      map[string]*Pin
	pinsByHandle    map[int32]*Pin
	isReady         bool
	noCreate        bool
	state           State
	halrcmdState    ChannelState
	halrcompState   ChannelState
	connected       bool
	connectedSignal chan struct{}
	pingOutstanding bool
	halrcmdURI      string
	halrcompURI     string
	shutdown        chan struct{}

	onConnectedChanged []func(bool)
	onStateChanged     []func(State)
	onError            []func(ErrorKind, string)

	heartbeatPeriod time.Duration
	pollInterval    time.Duration

	// tx is the reusable outbound message builder; every mutation and
	// send happens under txMu and the container is cleared after send.
	txMu sync.Mutex
	tx   halproto.Container

	// rx is owned by the I/O worker.
	rx halproto.Container

	trans    *transport
	sendFunc func([]byte) error

	halrcmdTimer  *rearmTimer
	halrcompTimer *rearmTimer

	wg sync.WaitGroup
}

// Option configures a RemoteComponent at construction.
type Option func(*RemoteComponent)

// WithHeartbeatPeriod overrides the command-channel heartbeat period.
// Zero disables the heartbeat.
func WithHeartbeatPeriod(period time.Duration) Option {
	return func(c *RemoteComponent) { c.heartbeatPeriod = period }
}

// WithNoCreate asks the broker to bind against an existing component
// instead of creating one.
func WithNoCreate(noCreate bool) Option {
	return func(c *RemoteComponent) { c.noCreate = noCreate }
}

// WithConfig applies the component settings of a loaded configuration:
// heartbeat period, no-create flag and, when present, the channel
// endpoint overrides.
func WithConfig(cfg *config.Config) Option {
	return func(c *RemoteComponent) {
		if cfg == nil {
			return
		}
		if cfg.HeartbeatPeriod >= 0 {
			c.heartbeatPeriod = time.Duration(cfg.HeartbeatPeriod) * time.Millisecond
		}
		c.noCreate = cfg.NoCreate
		if cfg.Halrcmd.URI != "" {
			c.halrcmdURI = cfg.Halrcmd.URI
		}
		if cfg.Halrcomp.URI != "" {
			c.halrcompURI = cfg.Halrcomp.URI
		}
	}
}

// NewRemoteComponent creates a component with the given name. The name
// is also the subscription topic and the prefix of the remote pin
// names.
func NewRemoteComponent(name string, opts ...Option) *RemoteComponent {
	c := &RemoteComponent{
		name:            name,
		pinsByName:      make(map[string]*Pin),
		pinsByHandle:    make(map[int32]*Pin),
		state:           StateDisconnected,
		connectedSignal: make(chan struct{}),
		heartbeatPeriod: DefaultHeartbeatPeriod,
		pollInterval:    defaultPollInterval,
		trans:           newTransport(),
		halrcmdTimer:    &rearmTimer{},
		halrcompTimer:   &rearmTimer{},
	}
	c.sendFunc = c.trans.send
	for _, opt := range opts {
		opt(c)
	}
	runtime.SetFinalizer(c, (*RemoteComponent).Close)
	return c
}

// Name returns the component name.
func (c *RemoteComponent) Name() string { return c.name }

// SetHalrcmdURI sets the command-channel endpoint; must be called
// before Ready.
func (c *RemoteComponent) SetHalrcmdURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halrcmdURI = uri
}

// SetHalrcompURI sets the update-channel endpoint; must be called
// before Ready.
func (c *RemoteComponent) SetHalrcompURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halrcompURI = uri
}

// NewPin declares a pin on the component. Pins are declared before
// Ready; type and direction are frozen afterwards.
func (c *RemoteComponent) NewPin(name string, pintype halproto.PinType, dir halproto.PinDir) (*Pin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isReady {
		return nil, ErrAlreadyReady
	}
	if _, ok := c.pinsByName[name]; ok {
		return nil, ErrPinExists
	}
	pin := newPin(c, name, pintype, dir)
	c.pinsByName[name] = pin
	return pin, nil
}

// Pin looks up a declared pin by name.
func (c *RemoteComponent) Pin(name string) (*Pin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pin, ok := c.pinsByName[name]
	if !ok {
		return nil, ErrUnknownPin
	}
	return pin, nil
}

// Get reads a pin value by name.
func (c *RemoteComponent) Get(name string) (Value, error) {
	pin, err := c.Pin(name)
	if err != nil {
		return Value{}, err
	}
	return pin.Get(), nil
}

// Set writes a pin value by name.
func (c *RemoteComponent) Set(name string, v Value) error {
	pin, err := c.Pin(name)
	if err != nil {
		return err
	}
	return pin.Set(v)
}

// State returns the aggregate connection state.
func (c *RemoteComponent) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether both channels are up.
func (c *RemoteComponent) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnConnectedChanged registers an observer for connected edges. Each
// edge is observed exactly once; observers run synchronously and must
// not block.
func (c *RemoteComponent) OnConnectedChanged(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectedChanged = append(c.onConnectedChanged, fn)
}

// OnStateChanged registers an observer for aggregate state changes.
func (c *RemoteComponent) OnStateChanged(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChanged = append(c.onStateChanged, fn)
}

// OnError registers an observer for broker-reported protocol errors.
func (c *RemoteComponent) OnError(fn func(ErrorKind, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// WaitConnected blocks until the component is connected. Timeout zero
// polls, negative waits indefinitely.
func (c *RemoteComponent) WaitConnected(timeout time.Duration) bool {
	return util.Await(c.Connected, func() <-chan struct{} {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connectedSignal
	}, timeout)
}

// Ready initiates the connection. Idempotent; a second call while
// ready is a no-op.
func (c *RemoteComponent) Ready() error {
	c.mu.Lock()
	if c.isReady {
		c.mu.Unlock()
		return nil
	}
	if c.halrcmdURI == "" || c.halrcompURI == "" {
		c.mu.Unlock()
		return ErrMissingEndpoint
	}
	c.isReady = true
	c.mu.Unlock()

	if err := c.start(); err != nil {
		c.mu.Lock()
		c.isReady = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop disconnects from the broker and halts the worker and timers.
// Idempotent; the component can be made Ready again afterwards.
func (c *RemoteComponent) Stop() {
	c.mu.Lock()
	c.isReady = false
	shutdown := c.shutdown
	c.shutdown = nil
	c.mu.Unlock()

	if shutdown != nil {
		close(shutdown)
		c.wg.Wait()
	}
	c.cleanup()
	c.updateState(StateDisconnected)
}

// Close releases the sockets. The component must not be used after.
func (c *RemoteComponent) Close() {
	c.Stop()
	c.trans.destroy()
}

func (c *RemoteComponent) start() error {
	c.mu.Lock()
	c.halrcmdState = ChannelTrying
	cmdURI, updURI := c.halrcmdURI, c.halrcompURI
	c.mu.Unlock()
	c.updateState(StateConnecting)

	if err := c.trans.connect(cmdURI, updURI); err != nil {
		return err
	}

	c.mu.Lock()
	c.shutdown = make(chan struct{})
	c.mu.Unlock()
	c.wg.Add(1)
	go c.worker()

	c.startHalrcmdHeartbeat()
	c.sendCmd(halproto.MsgPing)

	log.WithFields(log.Fields{
		"component": c.name,
		"halrcmd":   cmdURI,
		"halrcomp":  updURI,
	}).Info("remote component started")

	return nil
}

func (c *RemoteComponent) cleanup() {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		c.unsubscribe()
	}
	c.halrcmdTimer.stop()
	c.halrcompTimer.stop()
	c.trans.disconnect()
}

// worker multiplexes reads on both sockets until shutdown. The poll
// deadline bounds how long a stop can take.
func (c *RemoteComponent) worker() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		shutdown := c.shutdown
		c.mu.Unlock()
		if shutdown == nil {
			return
		}
		select {
		case <-shutdown:
			return
		default:
		}

		sock, err := c.trans.poll(int(c.pollInterval / time.Millisecond))
		if err != nil {
			log.WithFields(log.Fields{
				"component": c.name,
				"error":     err,
			}).Error("socket poller wait failed")
			return
		}
		if sock == nil {
			continue
		}

		switch sock {
		case c.trans.cmd:
			c.processCommand()
		case c.trans.upd:
			c.processUpdate()
		}
	}
}

func (c *RemoteComponent) processCommand() {
	body, err := c.trans.recvCommand()
	if err != nil {
		log.WithFields(log.Fields{"component": c.name, "error": err}).Error("command receive failed")
		return
	}
	if err := halproto.Unmarshal(body, &c.rx); err != nil {
		log.WithFields(log.Fields{"component": c.name, "error": err}).Error("malformed command message")
		return
	}
	log.WithFields(log.Fields{
		"component": c.name,
		"type":      c.rx.Type,
	}).Debug("received message on halrcmd")
	c.handleHalrcmd(&c.rx)
}

func (c *RemoteComponent) processUpdate() {
	topic, body, err := c.trans.recvUpdate()
	if err != nil {
		log.WithFields(log.Fields{"component": c.name, "error": err}).Error("update receive failed")
		return
	}
	if err := halproto.Unmarshal(body, &c.rx); err != nil {
		log.WithFields(log.Fields{"component": c.name, "error": err}).Error("malformed update message")
		return
	}
	log.WithFields(log.Fields{
		"component": c.name,
		"topic":     topic,
		"type":      c.rx.Type,
	}).Debug("received message on halrcomp")
	c.handleHalrcomp(topic, &c.rx)
}

// handleHalrcmd dispatches one command-channel message.
func (c *RemoteComponent) handleHalrcmd(rx *halproto.Container) {
	switch rx.Type {
	case halproto.MsgPingAcknowledge:
		c.mu.Lock()
		c.pingOutstanding = false
		trying := c.halrcmdState == ChannelTrying
		c.mu.Unlock()
		if trying {
			c.updateState(StateConnecting)
			c.bind()
		}

	case halproto.MsgHalrcompBindConfirm:
		c.mu.Lock()
		c.halrcmdState = ChannelUp
		c.mu.Unlock()
		// clear a previous subscription, then resubscribe to force a
		// fresh full update
		c.unsubscribe()
		c.subscribe()

	case halproto.MsgHalrcompBindReject:
		c.mu.Lock()
		c.halrcmdState = ChannelDown
		c.mu.Unlock()
		c.updateState(StateError)
		c.reportError(ErrorKindBind, rx.Note)

	case halproto.MsgHalrcompSetReject:
		c.mu.Lock()
		c.halrcmdState = ChannelDown
		c.mu.Unlock()
		c.updateState(StateError)
		c.reportError(ErrorKindPinChange, rx.Note)

	default:
		log.WithFields(log.Fields{
			"component": c.name,
			"type":      rx.Type,
		}).Warn("halrcmd received unsupported message")
	}
}

// handleHalrcomp dispatches one update-channel message. Messages whose
// topic is not the component name are dropped silently.
func (c *RemoteComponent) handleHalrcomp(topic string, rx *halproto.Container) {
	if topic != c.name {
		return
	}

	switch rx.Type {
	case halproto.MsgHalrcompIncrementalUpdate:
		c.handleIncrementalUpdate(rx)

	case halproto.MsgHalrcompFullUpdate:
		c.handleFullUpdate(rx)

	case halproto.MsgPing:
		c.mu.Lock()
		up := c.halrcompState == ChannelUp
		c.mu.Unlock()
		if up {
			c.halrcompTimer.refresh(c.watchdogTick)
		} else {
			// treat the broker ping as an invitation to resubscribe
			c.updateState(StateConnecting)
			c.unsubscribe()
			c.subscribe()
		}

	case halproto.MsgHalrcommandError:
		c.mu.Lock()
		c.halrcompState = ChannelDown
		c.mu.Unlock()
		c.updateState(StateError)
		c.reportError(ErrorKindHalrcomp, rx.Note)

	default:
		log.WithFields(log.Fields{
			"component": c.name,
			"type":      rx.Type,
		}).Warn("halrcomp received unsupported message")
	}
}

type pinUpdate struct {
	lpin *Pin
	rpin *halproto.Pin
}

// handleFullUpdate applies a full pin set: every pin's handle is
// (re)assigned and the handle index is rebuilt to exactly the set
// present in the update. Remote names carry the "<comp>." prefix.
func (c *RemoteComponent) handleFullUpdate(rx *halproto.Container) {
	if len(rx.Comp) == 0 {
		log.WithFields(log.Fields{"component": c.name}).Error("full update carries no component")
		return
	}
	comp := rx.Comp[0]

	c.mu.Lock()
	updates := make([]pinUpdate, 0, len(comp.Pin))
	for _, rpin := range comp.Pin {
		short := rpin.Name
		if i := strings.IndexByte(short, '.'); i >= 0 {
			short = short[i+1:]
		}
		lpin, ok := c.pinsByName[short]
		if !ok {
			c.mu.Unlock()
			log.WithFields(log.Fields{
				"component": c.name,
				"pin":       rpin.Name,
			}).Error("full update names unknown pin, dropping message")
			return
		}
		updates = append(updates, pinUpdate{lpin: lpin, rpin: rpin})
	}
	c.pinsByHandle = make(map[int32]*Pin, len(updates))
	for _, u := range updates {
		u.lpin.setHandle(u.rpin.Handle)
		c.pinsByHandle[u.rpin.Handle] = u.lpin
	}
	promote := c.halrcompState != ChannelUp
	if promote {
		c.halrcompState = ChannelUp
	}
	bothUp := c.halrcmdState == ChannelUp
	c.mu.Unlock()

	for _, u := range updates {
		if v, ok := valueFromWire(u.rpin); ok {
			u.lpin.setFromWire(v)
		}
	}

	if promote && bothUp {
		c.updateState(StateConnected)
	}

	if rx.Pparams != nil {
		interval := time.Duration(rx.Pparams.KeepaliveTimer) * time.Millisecond
		c.halrcompTimer.arm(2*interval, c.watchdogTick)
	}
}

// handleIncrementalUpdate applies changed pins identified by handle.
// An unknown handle marks the whole message malformed; it is dropped
// without a state transition.
func (c *RemoteComponent) handleIncrementalUpdate(rx *halproto.Container) {
	c.mu.Lock()
	updates := make([]pinUpdate, 0, len(rx.Pin))
	for _, rpin := range rx.Pin {
		lpin, ok := c.pinsByHandle[rpin.Handle]
		if !ok {
			c.mu.Unlock()
			log.WithFields(log.Fields{
				"component": c.name,
				"handle":    rpin.Handle,
			}).Error("incremental update names unknown handle, dropping message")
			return
		}
		updates = append(updates, pinUpdate{lpin: lpin, rpin: rpin})
	}
	c.mu.Unlock()

	for _, u := range updates {
		if v, ok := valueFromWire(u.rpin); ok {
			u.lpin.setFromWire(v)
		}
	}
	c.halrcompTimer.refresh(c.watchdogTick)
}

// bind registers the component and its pin descriptors at the broker.
func (c *RemoteComponent) bind() {
	type pinDesc struct {
		name    string
		pintype halproto.PinType
		dir     halproto.PinDir
		value   Value
	}

	c.mu.Lock()
	name := c.name
	noCreate := c.noCreate
	descs := make([]pinDesc, 0, len(c.pinsByName))
	pins := make([]*Pin, 0, len(c.pinsByName))
	for _, p := range c.pinsByName {
		pins = append(pins, p)
	}
	c.mu.Unlock()
	for _, p := range pins {
		descs = append(descs, pinDesc{name: p.name, pintype: p.pintype, dir: p.dir, value: p.Get()})
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()
	comp := c.tx.AddComp()
	comp.Name = name
	comp.NoCreate = noCreate
	for _, d := range descs {
		entry := comp.AddPin()
		entry.Name = name + "." + d.name
		entry.Type = d.pintype
		entry.Dir = d.dir
		applyValue(d.value, entry)
	}
	log.WithFields(log.Fields{"component": c.name, "pins": len(descs)}).Debug("bind")
	c.sendLocked(halproto.MsgHalrcompBind)
}

// pinChange propagates a locally driven pin change to the broker. Only
// out-direction pins are mirrored, and only while connected.
func (c *RemoteComponent) pinChange(p *Pin, v Value) {
	log.WithFields(log.Fields{
		"component": c.name,
		"pin":       p.name,
	}).Debug("pin change")

	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || p.dir == halproto.PinIn {
		return
	}
	handle := p.Handle()

	c.txMu.Lock()
	defer c.txMu.Unlock()
	entry := c.tx.AddPin()
	entry.Handle = handle
	entry.Type = p.pintype
	applyValue(v, entry)
	c.sendLocked(halproto.MsgHalrcompSet)
}

// sendCmd sends a bare command of the given type.
func (c *RemoteComponent) sendCmd(msgType halproto.ContainerType) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.sendLocked(msgType)
}

// sendLocked serializes and sends the tx container; callers hold txMu.
// The container is cleared afterwards regardless of outcome; send
// failures are logged and left to the heartbeat to judge.
func (c *RemoteComponent) sendLocked(msgType halproto.ContainerType) {
	c.tx.Type = msgType
	defer c.tx.Clear()

	data, err := halproto.Marshal(&c.tx)
	if err != nil {
		log.WithFields(log.Fields{
			"component": c.name,
			"type":      msgType,
			"error":     err,
		}).Error("failed to encode message")
		return
	}
	if err := c.sendFunc(data); err != nil {
		log.WithFields(log.Fields{
			"component": c.name,
			"type":      msgType,
			"error":     err,
		}).Error("failed to send message")
		return
	}
	log.WithFields(log.Fields{
		"component": c.name,
		"type":      msgType,
	}).Debug("sent message")
}

func (c *RemoteComponent) subscribe() {
	c.mu.Lock()
	c.halrcompState = ChannelTrying
	c.mu.Unlock()
	c.trans.subscribe(c.name)
}

func (c *RemoteComponent) unsubscribe() {
	c.mu.Lock()
	c.halrcompState = ChannelDown
	c.mu.Unlock()
	c.trans.unsubscribe(c.name)
}

// startHalrcmdHeartbeat arms the command-channel heartbeat. A period
// of zero disables it.
func (c *RemoteComponent) startHalrcmdHeartbeat() {
	c.mu.Lock()
	c.pingOutstanding = false
	c.mu.Unlock()
	c.halrcmdTimer.arm(c.heartbeatPeriod, c.halrcmdTick)
}

// halrcmdTick runs on every heartbeat period. An unanswered ping means
// the command channel stalled; the engine keeps pinging so the next
// acknowledge can re-initiate the bind.
func (c *RemoteComponent) halrcmdTick() {
	c.mu.Lock()
	if !c.isReady {
		c.mu.Unlock()
		return
	}
	stalled := c.pingOutstanding
	if stalled {
		c.halrcmdState = ChannelTrying
	}
	c.pingOutstanding = true
	c.mu.Unlock()

	if stalled {
		c.updateState(StateTimeout)
	}
	c.sendCmd(halproto.MsgPing)
	c.halrcmdTimer.refresh(c.halrcmdTick)
}

// watchdogTick fires when the broker missed its keepalive window on
// the subscription channel.
func (c *RemoteComponent) watchdogTick() {
	c.mu.Lock()
	if !c.isReady {
		c.mu.Unlock()
		return
	}
	c.halrcompState = ChannelDown
	c.mu.Unlock()

	log.WithFields(log.Fields{"component": c.name}).Debug("timeout on halrcomp")
	c.updateState(StateTimeout)
}

// updateState applies an aggregate state transition. Every transition
// away from Connected clears the connected flag, stops the watchdog
// and unsyncs all pins; observers see each connected edge exactly
// once.
func (c *RemoteComponent) updateState(s State) {
	c.mu.Lock()
	if s == c.state {
		c.mu.Unlock()
		return
	}
	c.state = s
	prevConnected := c.connected
	edge := false
	switch {
	case s == StateConnected:
		c.connected = true
		edge = true
	case prevConnected:
		c.connected = false
		edge = true
	}
	if edge || s == StateError {
		close(c.connectedSignal)
		c.connectedSignal = make(chan struct{})
	}
	connected := c.connected
	var pins []*Pin
	if edge && !connected {
		pins = make([]*Pin, 0, len(c.pinsByName))
		for _, p := range c.pinsByName {
			pins = append(pins, p)
		}
	}
	connObs := append([]func(bool){}, c.onConnectedChanged...)
	stateObs := append([]func(State){}, c.onStateChanged...)
	c.mu.Unlock()

	if edge && !connected {
		c.halrcompTimer.stop()
		for _, p := range pins {
			p.unsync()
		}
		log.WithFields(log.Fields{"component": c.name, "state": s}).Info("disconnected")
	}
	if edge && connected {
		log.WithFields(log.Fields{"component": c.name}).Info("connected")
	}
	for _, fn := range stateObs {
		fn(s)
	}
	if edge {
		for _, fn := range connObs {
			fn(connected)
		}
	}
}

// reportError surfaces a broker-reported protocol error.
func (c *RemoteComponent) reportError(kind ErrorKind, note string) {
	log.WithFields(log.Fields{
		"component": c.name,
		"kind":      kind,
		"note":      note,
	}).Error("protocol error")

	c.mu.Lock()
	obs := append([]func(ErrorKind, string){}, c.onError...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(kind, note)
	}
}
