package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/actor"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/metrics"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/usbhid"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

type fakeSession struct {
	family  keepkey.TransportFamily
	reply   protocol.Message
}

func (f *fakeSession) Write(ctx context.Context, msgType uint16, payload []byte) error { return nil }

func (f *fakeSession) Read(ctx context.Context, deadline time.Duration) (uint16, []byte, error) {
	msgType, payload := protocol.Encode(f.reply)
	return msgType, payload, nil
}

func (f *fakeSession) Close() error                        { return nil }
func (f *fakeSession) Family() keepkey.TransportFamily      { return f.family }

type fakeOpener struct {
	family keepkey.TransportFamily
	fail   bool
	reply  protocol.Message
}

func (o *fakeOpener) Family() keepkey.TransportFamily { return o.family }

func (o *fakeOpener) Open(ctx context.Context, desc keepkey.Descriptor) (actor.Session, error) {
	if o.fail {
		return nil, assertErr("claim denied")
	}
	return &fakeSession{family: o.family, reply: o.reply}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeCoordinator struct{}

func (fakeCoordinator) AwaitPinMatrix(ctx context.Context, deviceID string, req *protocol.PinMatrixRequest) (*protocol.PinMatrixAck, error) {
	return &protocol.PinMatrixAck{}, nil
}
func (fakeCoordinator) AwaitPassphrase(ctx context.Context, deviceID string, req *protocol.PassphraseRequest) (*protocol.PassphraseAck, error) {
	return &protocol.PassphraseAck{}, nil
}
func (fakeCoordinator) NotifyButtonRequest(deviceID string, req *protocol.ButtonRequest) {}

func waitForEvent(t *testing.T, ch <-chan eventbus.Event, kind eventbus.Kind, timeout time.Duration) eventbus.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

func TestRegistryOnAddedSpawnsActorAndEmitsReady(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()

	bulk := &fakeOpener{family: keepkey.TransportBulkUSB, reply: &protocol.Features{DeviceID: "abc"}}
	r := New(bulk, nil, usbhid.Fixed{Family: keepkey.TransportBulkUSB}, fakeCoordinator{}, bus, metrics.NewRegistry(), nil)

	desc := keepkey.Descriptor{Serial: "abc", PreferredFamily: keepkey.TransportBulkUSB}
	ctx := context.Background()
	r.handle(ctx, usbhid.Event{Kind: usbhid.Added, Descriptor: desc})

	waitForEvent(t, sub, eventbus.Connected, time.Second)
	waitForEvent(t, sub, eventbus.Ready, 2*time.Second)

	_, ok := r.Handle(desc.ID())
	assert.True(t, ok)
}

func TestRegistryFallsBackToHIDOnClaimDenied(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()

	bulk := &fakeOpener{family: keepkey.TransportBulkUSB, fail: true}
	hid := &fakeOpener{family: keepkey.TransportHID, reply: &protocol.Features{DeviceID: "abc"}}
	r := New(bulk, hid, usbhid.Fixed{Family: keepkey.TransportBulkUSB}, fakeCoordinator{}, bus, metrics.NewRegistry(), nil)

	desc := keepkey.Descriptor{Serial: "abc", PreferredFamily: keepkey.TransportBulkUSB}
	r.handle(context.Background(), usbhid.Event{Kind: usbhid.Added, Descriptor: desc})

	waitForEvent(t, sub, eventbus.Connected, time.Second)
	waitForEvent(t, sub, eventbus.Ready, 2*time.Second)

	a, ok := r.Handle(desc.ID())
	require.True(t, ok)
	require.NotNil(t, a)
}

func TestRegistryOnRemovedDrainsActor(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()

	bulk := &fakeOpener{family: keepkey.TransportBulkUSB, reply: &protocol.Success{Message: "ok"}}
	r := New(bulk, nil, usbhid.Fixed{}, fakeCoordinator{}, bus, metrics.NewRegistry(), nil)

	desc := keepkey.Descriptor{Serial: "abc"}
	ctx := context.Background()
	r.handle(ctx, usbhid.Event{Kind: usbhid.Added, Descriptor: desc})
	waitForEvent(t, sub, eventbus.Connected, time.Second)

	r.handle(ctx, usbhid.Event{Kind: usbhid.Removed, Identity: desc.ID()})
	waitForEvent(t, sub, eventbus.Disconnected, time.Second)

	_, ok := r.Handle(desc.ID())
	assert.False(t, ok)
}

func TestRegistryAliasedKeepsHandleAcrossReplug(t *testing.T) {
	bus := eventbus.New()
	bulk := &fakeOpener{family: keepkey.TransportBulkUSB, reply: &protocol.Features{DeviceID: "abc"}}
	r := New(bulk, nil, usbhid.Fixed{}, fakeCoordinator{}, bus, metrics.NewRegistry(), nil)

	desc := keepkey.Descriptor{Serial: "abc"}
	ctx := context.Background()
	r.handle(ctx, usbhid.Event{Kind: usbhid.Added, Descriptor: desc})
	time.Sleep(50 * time.Millisecond)

	before, ok := r.Handle(desc.ID())
	require.True(t, ok)

	r.handle(ctx, usbhid.Event{Kind: usbhid.Aliased, Descriptor: desc, OldID: desc.ID()})

	after, ok := r.Handle(desc.ID())
	require.True(t, ok)
	assert.Same(t, before, after, "aliased replug must keep the same actor handle")
}
