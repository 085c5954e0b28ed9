// Package interaction owns the lifecycle of PIN, passphrase, and
// button prompts raised by a device mid-command (spec §4.6). Grounded
// on the teacher's internal/driver/device/controller.go for its
// mutex-guarded session-map shape, generalized from connection
// bookkeeping to interactive-prompt bookkeeping.
package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
)

// StaleAfter is how long an interaction session may sit unanswered
// before a new prompt on the same device discards it (spec §3's
// InteractionSession, §4.6).
const StaleAfter = 120 * time.Second

// Kind distinguishes the three interactive prompt types.
type Kind string

const (
	KindPin        Kind = "pin"
	KindPassphrase Kind = "passphrase"
	KindButton     Kind = "button"
)

// State is a PIN session's position in the two-step state machine
// (spec §4.6): Idle → AwaitingFirst → (Completed | AwaitingSecond →
// Completed) | Failed | Cancelled.
type State string

const (
	StateAwaitingFirst  State = "awaiting_first"
	StateAwaitingSecond State = "awaiting_second"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

type pinResult struct {
	ack *protocol.PinMatrixAck
	err error
}

type passphraseResult struct {
	ack *protocol.PassphraseAck
	err error
}

type session struct {
	requestID string
	kind      Kind
	openedAt  time.Time
	state     State

	pinCh        chan pinResult
	passphraseCh chan passphraseResult
}

// Coordinator implements protocol.Coordinator and the consumer-facing
// submit/cancel operations of spec §4.6. One active session per
// device; sessions of different devices are independent, so several
// devices may each be awaiting a prompt at the same time.
type Coordinator struct {
	bus *eventbus.Bus
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session // deviceID -> session
}

// New constructs a Coordinator publishing awaiting_* events on bus.
func New(bus *eventbus.Bus) *Coordinator {
	return &Coordinator{bus: bus, now: time.Now, sessions: make(map[string]*session)}
}

func (c *Coordinator) gcStale(deviceID string) {
	s, ok := c.sessions[deviceID]
	if !ok {
		return
	}
	if c.now().Sub(s.openedAt) > StaleAfter {
		delete(c.sessions, deviceID)
	}
}

// AwaitPinMatrix opens or continues a PIN session for deviceID and
// blocks until the consumer submits a PIN or cancels (spec §4.6,
// §9's bounded-depth re-entry for PIN-change's second prompt).
func (c *Coordinator) AwaitPinMatrix(ctx context.Context, deviceID string, req *protocol.PinMatrixRequest) (*protocol.PinMatrixAck, error) {
	c.mu.Lock()
	c.gcStale(deviceID)
	s, ok := c.sessions[deviceID]
	if ok && s.kind == KindPin && s.state == StateAwaitingSecond {
		// Device is re-prompting within the same PIN flow (e.g. PIN
		// creation confirmation); reuse the original request id.
	} else {
		s = &session{
			requestID: uuid.NewString(),
			kind:      KindPin,
			openedAt:  c.now(),
			state:     StateAwaitingFirst,
			pinCh:     make(chan pinResult, 1),
		}
		c.sessions[deviceID] = s
	}
	requestID := s.requestID
	resultCh := s.pinCh
	c.mu.Unlock()

	c.bus.Publish(eventbus.Event{Kind: eventbus.AwaitingPin, DeviceID: deviceID, RequestID: requestID, InteractionKind: string(KindPin)})

	select {
	case r := <-resultCh:
		return r.ack, r.err
	case <-ctx.Done():
		return nil, kkerr.New(deviceID, kkerr.KindCancelled, ctx.Err()).WithRequest(requestID)
	}
}

// AwaitPassphrase opens a passphrase session for deviceID and blocks
// until the consumer submits a passphrase or cancels (spec §4.6).
func (c *Coordinator) AwaitPassphrase(ctx context.Context, deviceID string, req *protocol.PassphraseRequest) (*protocol.PassphraseAck, error) {
	c.mu.Lock()
	c.gcStale(deviceID)
	s := &session{
		requestID:    uuid.NewString(),
		kind:         KindPassphrase,
		openedAt:     c.now(),
		state:        StateAwaitingFirst,
		passphraseCh: make(chan passphraseResult, 1),
	}
	c.sessions[deviceID] = s
	requestID := s.requestID
	resultCh := s.passphraseCh
	c.mu.Unlock()

	c.bus.Publish(eventbus.Event{Kind: eventbus.AwaitingPass, DeviceID: deviceID, RequestID: requestID, InteractionKind: string(KindPassphrase), CacheAllowed: false})

	select {
	case r := <-resultCh:
		return r.ack, r.err
	case <-ctx.Done():
		return nil, kkerr.New(deviceID, kkerr.KindCancelled, ctx.Err()).WithRequest(requestID)
	}
}

// NotifyButtonRequest publishes an awaiting_button event. Unlike PIN
// and passphrase, it never blocks: the standard handler auto-acks the
// device immediately (spec §4.2); this is purely informational.
func (c *Coordinator) NotifyButtonRequest(deviceID string, req *protocol.ButtonRequest) {
	requestID := uuid.NewString()
	c.bus.Publish(eventbus.Event{Kind: eventbus.AwaitingButton, DeviceID: deviceID, RequestID: requestID, InteractionKind: string(KindButton)})
}

// SubmitPin resolves an open PIN session with the scrambled-matrix
// positions (digits 1-9, length 1-9) the device showed. Positions are
// converted to their ASCII-digit form for the device frame (spec
// §4.6); the coordinator never sees the cleartext PIN.
func (c *Coordinator) SubmitPin(deviceID, requestID string, positions []int) error {
	if len(positions) < 1 || len(positions) > 9 {
		return kkerr.New(deviceID, kkerr.KindUnknownRequest, fmt.Errorf("pin positions length must be 1-9, got %d", len(positions))).WithRequest(requestID)
	}
	for _, p := range positions {
		if p < 1 || p > 9 {
			return kkerr.New(deviceID, kkerr.KindUnknownRequest, fmt.Errorf("pin position %d out of range 1-9", p)).WithRequest(requestID)
		}
	}

	c.mu.Lock()
	s, ok := c.sessions[deviceID]
	if !ok || s.kind != KindPin || s.requestID != requestID {
		c.mu.Unlock()
		return kkerr.New(deviceID, kkerr.KindUnknownRequest, fmt.Errorf("no open pin interaction for request %s", requestID)).WithRequest(requestID)
	}
	if s.state == StateAwaitingFirst {
		s.state = StateAwaitingSecond
	} else {
		s.state = StateCompleted
		delete(c.sessions, deviceID)
	}
	resultCh := s.pinCh
	c.mu.Unlock()

	digits := make([]byte, len(positions))
	for i, p := range positions {
		digits[i] = byte('0' + p)
	}
	resultCh <- pinResult{ack: &protocol.PinMatrixAck{Pin: string(digits)}}
	return nil
}

// SubmitPassphrase resolves an open passphrase session.
func (c *Coordinator) SubmitPassphrase(deviceID, requestID, passphrase string) error {
	c.mu.Lock()
	s, ok := c.sessions[deviceID]
	if !ok || s.kind != KindPassphrase || s.requestID != requestID {
		c.mu.Unlock()
		return kkerr.New(deviceID, kkerr.KindUnknownRequest, fmt.Errorf("no open passphrase interaction for request %s", requestID)).WithRequest(requestID)
	}
	s.state = StateCompleted
	delete(c.sessions, deviceID)
	resultCh := s.passphraseCh
	c.mu.Unlock()

	resultCh <- passphraseResult{ack: &protocol.PassphraseAck{Passphrase: passphrase}}
	return nil
}

// Cancel aborts whichever interaction (PIN or passphrase) is open for
// deviceID, resuming the suspended caller with a cancelled error. The
// adapter that suspended on this session is responsible for notifying
// the device via a Cancel frame (spec §4.6).
func (c *Coordinator) Cancel(deviceID, requestID string) error {
	c.mu.Lock()
	s, ok := c.sessions[deviceID]
	if !ok || s.requestID != requestID {
		c.mu.Unlock()
		return kkerr.New(deviceID, kkerr.KindUnknownRequest, fmt.Errorf("no open interaction for request %s", requestID)).WithRequest(requestID)
	}
	s.state = StateCancelled
	delete(c.sessions, deviceID)
	kind := s.kind
	pinCh, passCh := s.pinCh, s.passphraseCh
	c.mu.Unlock()

	cancelErr := kkerr.New(deviceID, kkerr.KindCancelled, fmt.Errorf("interaction cancelled by consumer")).WithRequest(requestID)
	switch kind {
	case KindPin:
		pinCh <- pinResult{err: cancelErr}
	case KindPassphrase:
		passCh <- passphraseResult{err: cancelErr}
	}
	return nil
}

// ActiveSession reports the open interaction for deviceID, if any.
func (c *Coordinator) ActiveSession(deviceID string) (requestID string, kind Kind, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, present := c.sessions[deviceID]
	if !present {
		return "", "", false
	}
	return s.requestID, s.kind, true
}
