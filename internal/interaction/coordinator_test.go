package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
)

func TestAwaitPinMatrixResolvesOnSubmit(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()

	c := New(bus)
	done := make(chan struct{})
	var ack *protocol.PinMatrixAck
	var err error

	go func() {
		ack, err = c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{MatrixType: 1})
		close(done)
	}()

	var ev eventbus.Event
	select {
	case ev = <-sub:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for awaiting_pin event")
	}
	require.Equal(t, eventbus.AwaitingPin, ev.Kind)

	require.NoError(t, c.SubmitPin("dev1", ev.RequestID, []int{5, 1, 8}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitPinMatrix did not return after SubmitPin")
	}
	require.NoError(t, err)
	assert.Equal(t, "518", ack.Pin)
}

func TestSubmitPinRejectsUnknownRequestID(t *testing.T) {
	c := New(eventbus.New())
	err := c.SubmitPin("dev1", "bogus-request", []int{1})
	assert.Error(t, err)
}

func TestSubmitPinRejectsOutOfRangePositions(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()
	c := New(bus)

	go c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{})
	ev := <-sub

	err := c.SubmitPin("dev1", ev.RequestID, []int{0, 10})
	assert.Error(t, err)
}

func TestSecondPinPromptReusesRequestIDAcrossTwoStep(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()
	c := New(bus)

	firstDone := make(chan struct{})
	go func() {
		c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{MatrixType: 1})
		close(firstDone)
	}()
	ev1 := <-sub
	require.NoError(t, c.SubmitPin("dev1", ev1.RequestID, []int{1, 2, 3}))
	<-firstDone

	secondDone := make(chan struct{})
	go func() {
		c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{MatrixType: 2})
		close(secondDone)
	}()
	ev2 := <-sub
	assert.Equal(t, ev1.RequestID, ev2.RequestID, "pin confirmation step must reuse the original request id")

	require.NoError(t, c.SubmitPin("dev1", ev2.RequestID, []int{1, 2, 3}))
	<-secondDone

	_, _, ok := c.ActiveSession("dev1")
	assert.False(t, ok, "session must be closed out after the second step completes")
}

func TestCancelResumesCallerWithCancelledError(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()
	c := New(bus)

	done := make(chan error, 1)
	go func() {
		_, err := c.AwaitPassphrase(context.Background(), "dev1", &protocol.PassphraseRequest{})
		done <- err
	}()
	ev := <-sub

	require.NoError(t, c.Cancel("dev1", ev.RequestID))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitPassphrase did not return after Cancel")
	}
}

func TestStaleSessionIsDiscardedBeforeNewPrompt(t *testing.T) {
	bus := eventbus.New()
	sub, unsub := bus.Subscribe()
	defer unsub()
	c := New(bus)

	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	go c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{})
	firstEv := <-sub

	fakeNow = fakeNow.Add(StaleAfter + time.Second)

	go c.AwaitPinMatrix(context.Background(), "dev1", &protocol.PinMatrixRequest{})
	secondEv := <-sub

	assert.NotEqual(t, firstEv.RequestID, secondEv.RequestID, "a stale session must not be reused")
}
