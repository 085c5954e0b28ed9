package update

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
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

type fakeSession struct {
	replies []protocol.Message
	i       int
}

func (f *fakeSession) Write(ctx context.Context, msgType uint16, payload []byte) error { return nil }

func (f *fakeSession) Read(ctx context.Context, deadline time.Duration) (uint16, []byte, error) {
	m := f.replies[f.i]
	if f.i < len(f.replies)-1 {
		f.i++
	}
	msgType, payload := protocol.Encode(m)
	return msgType, payload, nil
}

func (f *fakeSession) Close() error                   { return nil }
func (f *fakeSession) Family() keepkey.TransportFamily { return keepkey.TransportBulkUSB }

type fakeOpener struct{ session actor.Session }

func (o *fakeOpener) Open(ctx context.Context, desc keepkey.Descriptor) (actor.Session, error) {
	return o.session, nil
}

type fakeCoordinator struct{}

func (fakeCoordinator) AwaitPinMatrix(ctx context.Context, deviceID string, req *protocol.PinMatrixRequest) (*protocol.PinMatrixAck, error) {
	return &protocol.PinMatrixAck{}, nil
}
func (fakeCoordinator) AwaitPassphrase(ctx context.Context, deviceID string, req *protocol.PassphraseRequest) (*protocol.PassphraseAck, error) {
	return &protocol.PassphraseAck{}, nil
}
func (fakeCoordinator) NotifyButtonRequest(deviceID string, req *protocol.ButtonRequest) {}

func TestOrchestratorRunsFullHappyPath(t *testing.T) {
	bus := eventbus.New()
	sess := &fakeSession{replies: []protocol.Message{
		&protocol.Success{Message: "erased"},
		&protocol.ButtonRequest{Code: 1},
		&protocol.Success{Message: "uploaded"},
	}}
	a := actor.New(actor.Config{
		DeviceID:    "dev1",
		Session:     sess,
		Opener:      &fakeOpener{session: sess},
		Coordinator: fakeCoordinator{},
		Bus:         bus,
		Metrics:     metrics.NewRegistry(),
	})
	defer a.Drain(nil)

	o := New(bus)

	progressSub, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan error, 1)
	go func() {
		done <- o.Run(context.Background(), "dev1", a, []byte{1, 2, 3}, [32]byte{})
	}()

	// Publish a device:ready event partway through to satisfy Verify's
	// re-enumeration wait.
	go func() {
		time.Sleep(50 * time.Millisecond)
		bus.Publish(eventbus.Event{Kind: eventbus.Ready, DeviceID: "dev1"})
	}()

	var sawUploadButton bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-progressSub:
			if ev.Kind == eventbus.AwaitingButton && ev.Label == "confirm_upload" {
				sawUploadButton = true
			}
			if ev.Kind == eventbus.UpdateComplete {
				break loop
			}
		case err := <-done:
			require.NoError(t, err)
			break loop
		case <-timeout:
			t.Fatal("orchestrator did not complete in time")
		}
	}
	assert.True(t, sawUploadButton)
}

func TestOrchestratorFailsOnEraseError(t *testing.T) {
	bus := eventbus.New()
	sess := &fakeSession{replies: []protocol.Message{
		&protocol.Failure{Code: 1, Message: "erase refused"},
	}}
	a := actor.New(actor.Config{
		DeviceID:    "dev1",
		Session:     sess,
		Opener:      &fakeOpener{session: sess},
		Coordinator: fakeCoordinator{},
		Bus:         bus,
		Metrics:     metrics.NewRegistry(),
	})
	defer a.Drain(nil)

	o := New(bus)
	err := o.Run(context.Background(), "dev1", a, []byte{1}, [32]byte{})
	assert.Error(t, err)
}

func TestOrchestratorReleasesLockOnFailure(t *testing.T) {
	bus := eventbus.New()
	sess := &fakeSession{replies: []protocol.Message{
		&protocol.Failure{Code: 1, Message: "erase refused"},
	}}
	a := actor.New(actor.Config{
		DeviceID:    "dev1",
		Session:     sess,
		Opener:      &fakeOpener{session: sess},
		Coordinator: fakeCoordinator{},
		Bus:         bus,
		Metrics:     metrics.NewRegistry(),
	})
	defer a.Drain(nil)

	o := New(bus)
	_ = o.Run(context.Background(), "dev1", a, []byte{1}, [32]byte{})

	// Lock must be released after failure: a fresh request id can
	// acquire it without error.
	require.NoError(t, a.AcquireSessionLock("someone-else"))
	a.ReleaseSessionLock("someone-else")
}
