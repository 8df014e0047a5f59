// Package dnssd implements a long-lived mDNS/DNS-SD browser for
// locating broker endpoints. It watches for services of a given type,
// resolves their TXT records, filters by an optional installation
// UUID, and fires observers on appearance and disappearance.
package dnssd

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/machinekit/machinetalk-go/config"
	"github.com/machinekit/machinetalk-go/util"
)

const (
	defaultDomain = "local."
	// retryInterval spaces attempts to re-establish browsing after the
	// resolver dies, the in-process equivalent of waiting for the mDNS
	// daemon to come back.
	retryInterval = 5 * time.Second
)

// Options configure a ServiceDiscovery browser.
type Options struct {
	// ServiceType is the DNS-SD service type to browse for, e.g.
	// "_halrcmd._sub._machinekit._tcp".
	ServiceType string
	// UUID filters resolved records by their "uuid=" TXT value; empty
	// accepts any.
	UUID string
	// Interface restricts browsing to one network interface by name;
	// empty browses all interfaces.
	Interface string
	// Domain defaults to "local.".
	Domain string
}

// OptionsFromConfig maps the discovery section of a loaded
// configuration onto browser options.
func OptionsFromConfig(cfg config.DiscoveryConfig) Options {
	return Options{
		ServiceType: cfg.ServiceType,
		UUID:        cfg.UUID,
		Interface:   cfg.Interface,
		Domain:      cfg.Domain,
	}
}

// ServiceDiscovery browses for services of one type and keeps a map of
// the currently visible instances. Observers are registered before
// Start and fire synchronously from the browse goroutine.
type ServiceDiscovery struct {
	opts Options

	mu                sync.Mutex
	services          map[string]*ServiceData
	running           bool
	cancel            context.CancelFunc
	discoveredSignal  chan struct{}
	disappearedSignal chan struct{}

	onDiscovered  []func(*ServiceData)
	onDisappeared []func(*ServiceData)
	onError       []func(string)

	wg sync.WaitGroup
}

// NewServiceDiscovery creates a browser; it does not browse until
// Start is called.
func NewServiceDiscovery(opts Options) *ServiceDiscovery {
	if opts.Domain == "" {
		opts.Domain = defaultDomain
	}
	return &ServiceDiscovery{
		opts:              opts,
		services:          make(map[string]*ServiceData),
		discoveredSignal:  make(chan struct{}),
		disappearedSignal: make(chan struct{}),
	}
}

// OnDiscovered registers an observer for accepted service records.
func (sd *ServiceDiscovery) OnDiscovered(fn func(*ServiceData)) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.onDiscovered = append(sd.onDiscovered, fn)
}

// OnDisappeared registers an observer for removed service records.
func (sd *ServiceDiscovery) OnDisappeared(fn func(*ServiceData)) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.onDisappeared = append(sd.onDisappeared, fn)
}

// OnError registers an observer for discovery errors. Discovery errors
// are advisory; the browser recovers on its own when it can.
func (sd *ServiceDiscovery) OnError(fn func(string)) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.onError = append(sd.onError, fn)
}

// Services returns a snapshot of the currently visible instances.
func (sd *ServiceDiscovery) Services() []*ServiceData {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	services := make([]*ServiceData, 0, len(sd.services))
	for _, data := range sd.services {
		services = append(services, data)
	}
	return services
}

// Start begins browsing. A no-op when the browser is already running.
func (sd *ServiceDiscovery) Start() error {
	sd.mu.Lock()
	if sd.running {
		sd.mu.Unlock()
		log.WithFields(log.Fields{"service": sd.opts.ServiceType}).Debug("already discovering")
		return nil
	}

	var ifaces []net.Interface
	if sd.opts.Interface != "" {
		iface, err := net.InterfaceByName(sd.opts.Interface)
		if err != nil {
			sd.mu.Unlock()
			return err
		}
		ifaces = []net.Interface{*iface}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sd.cancel = cancel
	sd.running = true
	sd.mu.Unlock()

	sd.wg.Add(1)
	go sd.browseLoop(ctx, ifaces)

	log.WithFields(log.Fields{
		"service": sd.opts.ServiceType,
		"uuid":    sd.opts.UUID,
	}).Info("service discovery started")

	return nil
}

// Stop ends browsing and forgets all visible services. Idempotent; a
// browse session that is already gone is not an error.
func (sd *ServiceDiscovery) Stop() {
	sd.mu.Lock()
	if !sd.running {
		sd.mu.Unlock()
		log.Debug("discovery already stopped")
		return
	}
	sd.running = false
	cancel := sd.cancel
	sd.cancel = nil
	sd.mu.Unlock()

	cancel()
	sd.wg.Wait()

	sd.mu.Lock()
	sd.services = make(map[string]*ServiceData)
	close(sd.disappearedSignal)
	sd.disappearedSignal = make(chan struct{})
	sd.mu.Unlock()

	log.WithFields(log.Fields{"service": sd.opts.ServiceType}).Info("service discovery stopped")
}

// WaitDiscovered blocks until at least one service is visible. Timeout
// zero polls, negative waits indefinitely.
func (sd *ServiceDiscovery) WaitDiscovered(timeout time.Duration) bool {
	return util.Await(func() bool {
		sd.mu.Lock()
		defer sd.mu.Unlock()
		return len(sd.services) > 0
	}, func() <-chan struct{} {
		sd.mu.Lock()
		defer sd.mu.Unlock()
		return sd.discoveredSignal
	}, timeout)
}

// WaitDisappeared blocks until no services remain visible. Timeout
// zero polls, negative waits indefinitely.
func (sd *ServiceDiscovery) WaitDisappeared(timeout time.Duration) bool {
	return util.Await(func() bool {
		sd.mu.Lock()
		defer sd.mu.Unlock()
		return len(sd.services) == 0
	}, func() <-chan struct{} {
		sd.mu.Lock()
		defer sd.mu.Unlock()
		return sd.disappearedSignal
	}, timeout)
}

// browseLoop keeps one browse session alive, re-establishing it after
// resolver failures until the browser is stopped.
func (sd *ServiceDiscovery) browseLoop(ctx context.Context, ifaces []net.Interface) {
	defer sd.wg.Done()

	reported := false
	for ctx.Err() == nil {
		err := sd.browseSession(ctx, ifaces)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !reported {
			// report once; recovery is automatic when browsing comes
			// back
			sd.reportError(err.Error())
			reported = true
		}
		if err == nil {
			reported = false
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryInterval):
		}
	}
}

// browseSession runs a single browse until it fails or the context is
// cancelled.
func (sd *ServiceDiscovery) browseSession(ctx context.Context, ifaces []net.Interface) error {
	var opts []zeroconf.ClientOption
	if len(ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	// IPv4 only; the brokers publish A records
	opts = append(opts, zeroconf.SelectIPTraffic(zeroconf.IPv4))

	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("failed to create mDNS resolver")
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, sd.opts.ServiceType, sd.opts.Domain, entries); err != nil {
		log.WithFields(log.Fields{
			"service": sd.opts.ServiceType,
			"error":   err,
		}).Error("mDNS browse failed")
		return err
	}

	for entry := range entries {
		if entry == nil {
			continue
		}
		sd.handleEntry(entry)
	}
	// entries closed: the browse session ended
	return nil
}

// handleEntry processes one browse event. A TTL of zero is a goodbye;
// everything else is a resolve. Duplicate resolves with the same name
// overwrite the stored record and re-fire discovery observers.
func (sd *ServiceDiscovery) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry.TTL == 0 {
		sd.removeService(entry.Instance)
		return
	}

	data := newServiceData(entry.Instance, entry.Text)
	if sd.opts.UUID != "" && data.UUID != sd.opts.UUID {
		log.WithFields(log.Fields{
			"name": data.Name,
			"uuid": data.UUID,
		}).Debug("ignoring service with foreign uuid")
		return
	}

	sd.mu.Lock()
	sd.services[data.Name] = data
	close(sd.discoveredSignal)
	sd.discoveredSignal = make(chan struct{})
	obs := append([]func(*ServiceData){}, sd.onDiscovered...)
	sd.mu.Unlock()

	log.WithFields(log.Fields{
		"name": data.Name,
		"dsn":  data.DSN,
		"uuid": data.UUID,
	}).Debug("discovered")
	for _, fn := range obs {
		fn(data)
	}
}

// removeService drops a known instance and fires the disappearance
// observers with the stored record.
func (sd *ServiceDiscovery) removeService(name string) {
	sd.mu.Lock()
	data, ok := sd.services[name]
	if !ok {
		sd.mu.Unlock()
		return
	}
	delete(sd.services, name)
	close(sd.disappearedSignal)
	sd.disappearedSignal = make(chan struct{})
	obs := append([]func(*ServiceData){}, sd.onDisappeared...)
	sd.mu.Unlock()

	log.WithFields(log.Fields{"name": name}).Debug("disappeared")
	for _, fn := range obs {
		fn(data)
	}
}

func (sd *ServiceDiscovery) reportError(message string) {
	log.WithFields(log.Fields{
		"service": sd.opts.ServiceType,
		"error":   message,
	}).Error("service discovery error")

	sd.mu.Lock()
	obs := append([]func(string){}, sd.onError...)
	sd.mu.Unlock()
	for _, fn := range obs {
		fn(message)
	}
}
