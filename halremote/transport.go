package halremote

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	czmq "github.com/zeromq/goczmq/v4"
)

// transport owns the two broker-facing sockets: a DEALER for the
// command channel and a SUB for the update channel, multiplexed by one
// poller. Sockets are created on first connect and survive disconnects
// so a stopped component can be made ready again.
type transport struct {
	identity string

	cmdURI string
	updURI string

	cmd    *czmq.Sock
	upd    *czmq.Sock
	poller *czmq.Poller

	connected bool
}

// newTransport builds an unconnected transport with its own socket
// identity; every call draws a fresh uuid.
func newTransport() *transport {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &transport{
		identity: fmt.Sprintf("%s-%s", host, uuid.New()),
	}
}

// connect opens both sockets against the provided endpoints.
func (t *transport) connect(cmdURI, updURI string) (err error) {
	if t.cmd == nil {
		t.cmd = czmq.NewSock(czmq.Dealer)
		t.cmd.SetIdentity(t.identity)
		t.cmd.SetLinger(0)
	}
	if t.upd == nil {
		t.upd = czmq.NewSock(czmq.Sub)
		t.upd.SetLinger(0)
	}
	if t.poller == nil {
		if t.poller, err = czmq.NewPoller(); err != nil {
			log.WithFields(log.Fields{"error": err}).Error("failed to create socket poller")
			return
		}
		if err = t.poller.Add(t.cmd); err != nil {
			return
		}
		if err = t.poller.Add(t.upd); err != nil {
			return
		}
	}

	if err = t.cmd.Connect(cmdURI); err != nil {
		log.WithFields(log.Fields{
			"uri":   cmdURI,
			"error": err,
		}).Error("failed to connect command socket")
		return
	}
	if err = t.upd.Connect(updURI); err != nil {
		log.WithFields(log.Fields{
			"uri":   updURI,
			"error": err,
		}).Error("failed to connect update socket")
		return
	}

	t.cmdURI = cmdURI
	t.updURI = updURI
	t.connected = true

	return
}

// disconnect detaches both sockets from their endpoints. The sockets
// stay alive for a later reconnect.
func (t *transport) disconnect() {
	if !t.connected {
		return
	}
	if err := t.cmd.Disconnect(t.cmdURI); err != nil {
		log.WithFields(log.Fields{"uri": t.cmdURI, "error": err}).Debug("command socket disconnect")
	}
	if err := t.upd.Disconnect(t.updURI); err != nil {
		log.WithFields(log.Fields{"uri": t.updURI, "error": err}).Debug("update socket disconnect")
	}
	t.connected = false
}

// poll waits up to millis for readability on either socket. A nil
// socket return means the wait timed out.
func (t *transport) poll(millis int) (*czmq.Sock, error) {
	if t.poller == nil {
		return nil, ErrNotConnected
	}
	return t.poller.Wait(millis)
}

// send writes one command frame without blocking; backpressure is
// reported as an error and left to the heartbeat to judge.
func (t *transport) send(data []byte) error {
	if t.cmd == nil || !t.connected {
		return ErrNotConnected
	}
	return t.cmd.SendFrame(data, czmq.FlagDontWait)
}

// recvCommand reads one command-channel message, tolerating an empty
// REQ-emulation delimiter frame in front of the body.
func (t *transport) recvCommand() ([]byte, error) {
	frames, err := t.cmd.RecvMessage()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("empty message on command socket")
	}
	if len(frames[0]) == 0 && len(frames) > 1 {
		return frames[1], nil
	}
	return frames[0], nil
}

// recvUpdate reads one topic-prefixed multipart from the subscription
// socket.
func (t *transport) recvUpdate() (topic string, body []byte, err error) {
	frames, err := t.upd.RecvMessage()
	if err != nil {
		return "", nil, err
	}
	if len(frames) != 2 {
		return "", nil, fmt.Errorf("update message has %d frames, want 2", len(frames))
	}
	return string(frames[0]), frames[1], nil
}

func (t *transport) subscribe(topic string) {
	if t.upd != nil {
		t.upd.SetSubscribe(topic)
	}
}

func (t *transport) unsubscribe(topic string) {
	if t.upd != nil {
		t.upd.SetUnsubscribe(topic)
	}
}

// destroy releases sockets and poller. The transport must not be used
// afterwards.
func (t *transport) destroy() {
	if t.poller != nil {
		t.poller.Destroy()
		t.poller = nil
	}
	if t.cmd != nil {
		t.cmd.Destroy()
		t.cmd = nil
	}
	if t.upd != nil {
		t.upd.Destroy()
		t.upd = nil
	}
	t.connected = false
}
