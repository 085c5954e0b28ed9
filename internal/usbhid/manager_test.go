package usbhid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

func descFor(serial string) keepkey.Descriptor {
	return keepkey.Descriptor{Serial: serial, VendorID: VendorID, ProductID: ProductIDV2, PreferredFamily: keepkey.TransportBulkUSB}
}

func drainEvents(t *testing.T, m *Manager) []Event {
	t.Helper()
	var got []Event
	for {
		select {
		case ev := <-m.events:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func TestManagerEmitsAddedOnFirstSeen(t *testing.T) {
	d := descFor("abc")
	m := newWithEnumerator(Fixed{Family: keepkey.TransportBulkUSB}, func() map[string]keepkey.Descriptor {
		return map[string]keepkey.Descriptor{d.ID(): d}
	})

	m.scanOnce()

	events := drainEvents(t, m)
	require.Len(t, events, 1)
	assert.Equal(t, Added, events[0].Kind)
	assert.Equal(t, d, events[0].Descriptor)
}

func TestManagerDoesNotReAddPresentDevice(t *testing.T) {
	d := descFor("abc")
	m := newWithEnumerator(Fixed{}, func() map[string]keepkey.Descriptor {
		return map[string]keepkey.Descriptor{d.ID(): d}
	})

	m.scanOnce()
	drainEvents(t, m)
	m.scanOnce()

	assert.Empty(t, drainEvents(t, m))
}

func TestManagerEmitsRemovedAfterDebounceWindow(t *testing.T) {
	d := descFor("abc")
	present := true
	m := newWithEnumerator(Fixed{}, func() map[string]keepkey.Descriptor {
		if present {
			return map[string]keepkey.Descriptor{d.ID(): d}
		}
		return map[string]keepkey.Descriptor{}
	})

	m.scanOnce()
	drainEvents(t, m)

	present = false
	m.scanOnce()
	m.flushExpiredRemovals()
	assert.Empty(t, drainEvents(t, m), "removal inside debounce window must not fire yet")

	m.pending[d.ID()] = time.Now().Add(-DebounceWindow - time.Millisecond)
	m.flushExpiredRemovals()

	events := drainEvents(t, m)
	require.Len(t, events, 1)
	assert.Equal(t, Removed, events[0].Kind)
	assert.Equal(t, d.ID(), events[0].Identity)
}

func TestManagerCoalescesQuickReplugIntoAliased(t *testing.T) {
	oldDesc := descFor("abc")
	newDesc := keepkey.Descriptor{Serial: "abc", VendorID: VendorID, ProductID: ProductIDV2, Bus: 2, Address: 5}
	present := map[string]keepkey.Descriptor{oldDesc.ID(): oldDesc}
	m := newWithEnumerator(Fixed{}, func() map[string]keepkey.Descriptor {
		out := make(map[string]keepkey.Descriptor, len(present))
		for k, v := range present {
			out[k] = v
		}
		return out
	})

	m.scanOnce()
	drainEvents(t, m)

	// Same identity (same serial => same ID) goes away and comes back
	// before the debounce window elapses.
	delete(present, oldDesc.ID())
	m.scanOnce()
	present[newDesc.ID()] = newDesc
	m.scanOnce()

	events := drainEvents(t, m)
	require.Len(t, events, 1)
	assert.Equal(t, Aliased, events[0].Kind)
	assert.Equal(t, oldDesc.ID(), events[0].OldID)
	assert.Equal(t, newDesc, events[0].Descriptor)

	m.flushExpiredRemovals()
	assert.Empty(t, drainEvents(t, m), "aliased identity must not also fire Removed")
}

func TestDetectPlatformFIDOFilterForcesHID(t *testing.T) {
	p := &defaultPlatform{fidoFiltered: true}
	assert.Equal(t, keepkey.TransportHID, p.PreferredFamily())
	assert.True(t, p.FIDOFiltered())
}
