// Package usbhid enumerates KeepKey devices and turns raw USB/HID
// hotplug churn into the three-event vocabulary the registry consumes
// (spec §4.3): Added, Removed, Aliased. Grounded on the teacher's
// internal/discovery/discovery.go for the enumerate-loop/debounce
// shape, generalized from its network service-discovery poll to USB
// bus enumeration via google/gousb.
package usbhid

import (
	"context"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// VendorID and the two known product ids identify a KeepKey on the bus
// (spec §6).
const (
	VendorID    = 0x2b24
	ProductIDV1 = 0x0001
	ProductIDV2 = 0x0002
)

// DebounceWindow is how long a Removed immediately followed by an
// Added of the same identity is coalesced into a single Aliased event
// instead of tearing down the owning actor (spec §4.3).
const DebounceWindow = 300 * time.Millisecond

// PollInterval governs how often the manager re-scans the bus. Hotplug
// notification APIs vary by platform; polling keeps this package
// portable, matching the teacher's discovery loop.
const PollInterval = 250 * time.Millisecond

// EventKind distinguishes the three hotplug notifications the manager
// emits.
type EventKind int

const (
	Added EventKind = iota
	Removed
	Aliased
)

// Event is one hotplug notification. For Added, Descriptor is set. For
// Removed, Identity is the removed device's id. For Aliased, OldID is
// the previous identity and Descriptor carries the new one.
type Event struct {
	Kind       EventKind
	Descriptor keepkey.Descriptor
	Identity   string
	OldID      string
}

// Manager polls the USB bus for KeepKey arrivals/departures and
// reports them through Events(), already debounced and resolved to a
// transport family per platform rules (spec §4.3/§4.4).
type Manager struct {
	ctx      *gousb.Context
	platform Platform
	enumerate func() map[string]keepkey.Descriptor

	mu       sync.Mutex
	present  map[string]keepkey.Descriptor
	pending  map[string]time.Time // identity -> time removal was first observed
	events   chan Event
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Manager bound to its own gousb context and the given
// platform's transport-selection policy.
func New(platform Platform) *Manager {
	m := &Manager{
		ctx:      gousb.NewContext(),
		platform: platform,
		present:  make(map[string]keepkey.Descriptor),
		pending:  make(map[string]time.Time),
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.enumerate = m.enumerateUSB
	return m
}

// newWithEnumerator builds a Manager whose bus scan is replaced by fn,
// used by tests to drive deterministic arrival/departure sequences
// without real hardware.
func newWithEnumerator(platform Platform, fn func() map[string]keepkey.Descriptor) *Manager {
	return &Manager{
		platform:  platform,
		enumerate: fn,
		present:   make(map[string]keepkey.Descriptor),
		pending:   make(map[string]time.Time),
		events:    make(chan Event, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Events returns the channel of hotplug notifications. Closed once Run
// returns.
func (m *Manager) Events() <-chan Event { return m.events }

// Run polls until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.events)
	defer close(m.done)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.scanOnce()
			m.flushExpiredRemovals()
		}
	}
}

// Close stops Run and releases the gousb context.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	if m.ctx != nil {
		return m.ctx.Close()
	}
	return nil
}

func (m *Manager) scanOnce() {
	found := m.enumerate()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, desc := range found {
		// A pending removal that reappears before the debounce window
		// elapses is an Aliased coalesce, even though m.present[id]
		// still holds the stale descriptor (flushExpiredRemovals only
		// clears present and pending together, on actual expiry) — so
		// this check must run before the present-already check below.
		if _, wasPending := m.pending[id]; wasPending {
			delete(m.pending, id)
			m.present[id] = desc
			m.emit(Event{Kind: Aliased, Descriptor: desc, OldID: id})
			continue
		}
		if _, ok := m.present[id]; ok {
			continue
		}
		m.present[id] = desc
		m.emit(Event{Kind: Added, Descriptor: desc})
	}

	for id := range m.present {
		if _, stillPresent := found[id]; !stillPresent {
			if _, alreadyPending := m.pending[id]; !alreadyPending {
				m.pending[id] = time.Now()
			}
		}
	}
}

// flushExpiredRemovals reports a Removed for any identity that has
// been absent for longer than DebounceWindow without a matching
// re-arrival (which scanOnce would already have turned into Aliased).
func (m *Manager) flushExpiredRemovals() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, since := range m.pending {
		if now.Sub(since) < DebounceWindow {
			continue
		}
		delete(m.pending, id)
		delete(m.present, id)
		m.emit(Event{Kind: Removed, Identity: id})
	}
}

// emit must be called with m.mu held; it never blocks the scan loop
// even if a slow consumer has not drained Events().
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Manager) enumerateUSB() map[string]keepkey.Descriptor {
	found := make(map[string]keepkey.Descriptor)

	devs, err := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == VendorID &&
			(uint16(desc.Product) == ProductIDV1 || uint16(desc.Product) == ProductIDV2)
	})
	if err != nil {
		return found
	}
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		d := keepkey.Descriptor{
			Serial:          serial,
			VendorID:        uint16(dev.Desc.Vendor),
			ProductID:       uint16(dev.Desc.Product),
			Bus:             dev.Desc.Bus,
			Address:         dev.Desc.Address,
			PreferredFamily: m.platform.PreferredFamily(),
		}
		found[d.ID()] = d
		dev.Close()
	}
	return found
}
