// Package registry maintains identity → *actor.Actor and turns
// usbhid.Manager hotplug events into actor lifecycle transitions (spec
// §4.4). Grounded on the teacher's internal/discovery/discovery.go for
// the registered-service map shape, generalized from network service
// records to USB device identities.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/actor"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/metrics"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/usbhid"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// SettleDelay is how long the registry waits before issuing the first
// GetFeatures after a device arrives, letting USB endpoints settle on
// the FIDO-filtered platform (spec §4.4).
const SettleDelay = 800 * time.Millisecond

// SettleRetryDelay and SettleRetryCount govern the FIDO-platform
// triple-retry of that first GetFeatures (spec §4.4/§4.5).
const (
	SettleRetryDelay = 500 * time.Millisecond
	SettleRetryCount = 3
)

// TransportOpener opens a session for a descriptor over one transport
// family, satisfied by bulkusb.Transport and hidusb.Transport.
type TransportOpener interface {
	Family() keepkey.TransportFamily
	Open(ctx context.Context, desc keepkey.Descriptor) (actor.Session, error)
}

// Registry owns the identity → *actor.Actor map and reacts to
// usbhid.Manager events.
type Registry struct {
	bulk     TransportOpener
	hid      TransportOpener
	platform usbhid.Platform
	coord    actor.Coordinator
	bus      *eventbus.Bus
	metrics  *metrics.Registry
	logger   *log.Logger

	mu      sync.RWMutex
	actors  map[string]*actor.Actor
	aliased map[string]bool // identities currently inside an Aliased window
}

// New constructs a Registry. bulk and hid are the two transport
// openers; a nil one disables that family (used in tests).
func New(bulk, hid TransportOpener, platform usbhid.Platform, coord actor.Coordinator, bus *eventbus.Bus, reg *metrics.Registry, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		bulk:     bulk,
		hid:      hid,
		platform: platform,
		coord:    coord,
		bus:      bus,
		metrics:  reg,
		logger:   logger,
		actors:   make(map[string]*actor.Actor),
		aliased:  make(map[string]bool),
	}
}

// Run consumes events from mgr until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, mgr *usbhid.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-mgr.Events():
			if !ok {
				return
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Registry) handle(ctx context.Context, ev usbhid.Event) {
	switch ev.Kind {
	case usbhid.Added:
		r.onAdded(ctx, ev.Descriptor)
	case usbhid.Removed:
		r.onRemoved(ev.Identity)
	case usbhid.Aliased:
		r.onAliased(ctx, ev)
	}
}

// Handle returns the actor for a device id, or false if unknown.
func (r *Registry) Handle(deviceID string) (*actor.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[deviceID]
	return a, ok
}

// Identities lists every device id currently registered.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) onAdded(ctx context.Context, desc keepkey.Descriptor) {
	id := desc.ID()
	opener := r.openerFor(desc)

	sess, err := opener.Open(ctx, desc)
	if err != nil && opener == r.bulk && r.hid != nil {
		r.logger.Printf("registry: bulk-usb claim denied for %s, falling back to hid: %v", id, err)
		opener = r.hid
		sess, err = opener.Open(ctx, desc)
	}
	if err != nil {
		r.logger.Printf("registry: failed to open session for %s: %v", id, err)
		r.bus.Publish(eventbus.Event{Kind: eventbus.DeviceError, DeviceID: id, Message: err.Error()})
		return
	}

	a := actor.New(actor.Config{
		DeviceID:     id,
		Descriptor:   desc,
		Session:      sess,
		Opener:       opener,
		AltOpener:    r.alternateOpener(opener),
		Coordinator:  r.coord,
		Bus:          r.bus,
		Metrics:      r.metrics,
		Logger:       r.logger,
		FIDOFiltered: r.platform.FIDOFiltered(),
	})

	r.mu.Lock()
	r.actors[id] = a
	r.mu.Unlock()

	r.bus.Publish(eventbus.Event{Kind: eventbus.Connected, DeviceID: id})
	go r.settleAndFetchFeatures(ctx, id, a)
}

// settleAndFetchFeatures waits SettleDelay then issues the first
// GetFeatures, retrying up to SettleRetryCount times on the
// FIDO-filtered platform before giving up and leaving the device in a
// connected-but-not-ready state (spec §4.4).
func (r *Registry) settleAndFetchFeatures(ctx context.Context, id string, a *actor.Actor) {
	select {
	case <-time.After(SettleDelay):
	case <-ctx.Done():
		return
	}

	attempts := 1
	if r.platform.FIDOFiltered() {
		attempts = 1 + SettleRetryCount
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(SettleRetryDelay):
			case <-ctx.Done():
				return
			}
		}
		cmd := keepkey.NewCommand(id, keepkey.GetFeaturesParams{})
		resp, err := a.Submit(ctx, cmd)
		if err == nil {
			r.bus.Publish(eventbus.Event{Kind: eventbus.Ready, DeviceID: id, Features: resp.Payload})
			return
		}
		lastErr = err
	}

	r.logger.Printf("registry: initial GetFeatures for %s failed after %d attempt(s): %v", id, attempts, lastErr)
	r.bus.Publish(eventbus.Event{Kind: eventbus.DeviceError, DeviceID: id, Message: lastErr.Error()})
}

func (r *Registry) onRemoved(identity string) {
	r.mu.Lock()
	if r.aliased[identity] {
		// An Aliased event for this identity already arrived (or will
		// arrive) within the debounce window; the handle survives.
		delete(r.aliased, identity)
		r.mu.Unlock()
		return
	}
	a, ok := r.actors[identity]
	delete(r.actors, identity)
	r.mu.Unlock()

	if !ok {
		return
	}
	a.Drain(kkerr.New(identity, kkerr.KindDisconnected, errDeviceRemoved))
	r.bus.Publish(eventbus.Event{Kind: eventbus.Disconnected, DeviceID: identity})
}

func (r *Registry) onAliased(ctx context.Context, ev usbhid.Event) {
	r.mu.Lock()
	r.aliased[ev.OldID] = true
	_, stillTracked := r.actors[ev.OldID]
	r.mu.Unlock()

	if !stillTracked {
		// The old identity was already reaped before this Aliased
		// event was processed; treat it as a fresh arrival.
		r.onAdded(ctx, ev.Descriptor)
		return
	}
	// The identity (and its actor) is unchanged across a serial-stable
	// replug; nothing else to do.
}

func (r *Registry) openerFor(desc keepkey.Descriptor) TransportOpener {
	if desc.PreferredFamily == keepkey.TransportHID || r.bulk == nil {
		return r.hid
	}
	return r.bulk
}

// alternateOpener returns the transport family not in use by opener,
// or nil if that family isn't configured, giving the actor its one
// automatic fallback target on an unrecoverable error (spec §4.5/§7).
func (r *Registry) alternateOpener(opener TransportOpener) actor.Opener {
	if opener == r.bulk {
		if r.hid == nil {
			return nil
		}
		return r.hid
	}
	if r.bulk == nil {
		return nil
	}
	return r.bulk
}

var errDeviceRemoved = deviceRemovedError{}

type deviceRemovedError struct{}

func (deviceRemovedError) Error() string { return "device removed from bus" }
