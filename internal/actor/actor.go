package actor

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/metrics"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/transport"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// Session is the narrow transport surface the actor drives. It is
// satisfied by transport.Session; declared locally so this package
// does not need to import the concrete bulkusb/hidusb packages.
type Session = transport.Session

// Coordinator is the narrow interaction surface the actor's protocol
// adapter needs (satisfied by interaction.Coordinator).
type Coordinator = protocol.Coordinator

// Opener reopens a session for a device, used on transport-family
// fallback after an unrecoverable error (spec §4.5).
type Opener interface {
	Open(ctx context.Context, desc keepkey.Descriptor) (Session, error)
}

type actorMsg struct {
	cmd   keepkey.Command
	reply chan keepkey.Response
}

// cacheOpMsg routes a disk-snapshot request through the actor goroutine
// so the cache — documented as owned exclusively by that goroutine — is
// never touched from any other goroutine.
type cacheOpMsg struct {
	snapshot io.Writer
	load     io.Reader
	done     chan error
}

// Actor owns a single device's transport session and processes every
// command against it sequentially through an inbox channel (spec
// §4.5). One goroutine per device; no mutex is ever held across a
// channel send/receive.
type Actor struct {
	deviceID   string
	descriptor keepkey.Descriptor
	session    Session
	opener     Opener
	altOpener  Opener // other transport family; nil if none configured
	coord      Coordinator
	bus        *eventbus.Bus
	metrics    *metrics.Registry
	logger     *log.Logger

	cache    *cache
	inbox    chan actorMsg
	cacheOps chan cacheOpMsg
	done     chan struct{}
	closed   atomic.Bool

	sessionLockHolder string // request id holding the session lock; empty when unlocked
	lockMu            sync.Mutex

	stateMu      sync.Mutex
	state        keepkey.DeviceState
	preLockState keepkey.DeviceState // state to restore once the session lock releases
	awaiting     atomic.Bool         // true while a pin/passphrase/button prompt is outstanding

	lastResponseMu sync.Mutex
	lastResponse   *keepkey.Response

	fidoFiltered bool
}

// Config bundles an Actor's constructor dependencies.
type Config struct {
	DeviceID     string
	Descriptor   keepkey.Descriptor
	Session      Session
	Opener       Opener
	AltOpener    Opener // alternate transport family, used for the one automatic fallback on an unrecoverable error (spec §4.5/§7)
	Coordinator  Coordinator
	Bus          *eventbus.Bus
	Metrics      *metrics.Registry
	Logger       *log.Logger
	FIDOFiltered bool
	InboxDepth   int
	CacheCap     int
	CacheTTL     time.Duration
}

// New constructs and starts an Actor's processing goroutine.
func New(cfg Config) *Actor {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.InboxDepth <= 0 {
		cfg.InboxDepth = 64
	}
	if cfg.CacheCap <= 0 {
		cfg.CacheCap = DefaultCacheCap
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	a := &Actor{
		deviceID:     cfg.DeviceID,
		descriptor:   cfg.Descriptor,
		session:      cfg.Session,
		opener:       cfg.Opener,
		altOpener:    cfg.AltOpener,
		coord:        cfg.Coordinator,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		cache:        newCache(cfg.CacheCap, cfg.CacheTTL),
		inbox:        make(chan actorMsg, cfg.InboxDepth),
		cacheOps:     make(chan cacheOpMsg),
		done:         make(chan struct{}),
		fidoFiltered: cfg.FIDOFiltered,
		state:        keepkey.StateDiscovered,
	}

	go a.run()
	go a.watchInteractionEvents()
	return a
}

// watchInteractionEvents overlays State() with StateAwaitingInteraction
// for as long as a pin/passphrase/button prompt for this device is
// outstanding. It subscribes to the same bus the interaction
// coordinator publishes on rather than hooking the protocol adapter
// directly, keeping the actor's state tracking decoupled from the
// adapter's call stack.
func (a *Actor) watchInteractionEvents() {
	sub, unsub := a.bus.Subscribe()
	defer unsub()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.DeviceID != a.deviceID {
				continue
			}
			switch ev.Kind {
			case eventbus.AwaitingPin, eventbus.AwaitingPass, eventbus.AwaitingButton:
				a.awaiting.Store(true)
			}
		case <-a.done:
			return
		}
	}
}

// Submit enqueues cmd and blocks until its Response is ready or ctx is
// cancelled. The caller's cancellation does not stop the command from
// executing against the device — it only stops the caller from
// waiting for its result, since device I/O cannot be safely aborted
// mid-flight.
func (a *Actor) Submit(ctx context.Context, cmd keepkey.Command) (keepkey.Response, error) {
	reply := make(chan keepkey.Response, 1)
	msg := actorMsg{cmd: cmd, reply: reply}

	select {
	case a.inbox <- msg:
	case <-a.done:
		return keepkey.Response{}, kkerr.New(a.deviceID, kkerr.KindActorTerminated, fmt.Errorf("actor for device %s has terminated", a.deviceID))
	case <-ctx.Done():
		return keepkey.Response{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, resp.Err
	case <-ctx.Done():
		return keepkey.Response{}, ctx.Err()
	case <-a.done:
		return keepkey.Response{}, kkerr.New(a.deviceID, kkerr.KindActorTerminated, fmt.Errorf("actor for device %s terminated mid-request", a.deviceID))
	}
}

// QueueStatus reports the current inbox depth and last response,
// satisfying spec §6's get_queue_status.
func (a *Actor) QueueStatus() keepkey.QueueStatus {
	return keepkey.QueueStatus{
		QueueLength:  len(a.inbox),
		Processing:   len(a.inbox) > 0,
		LastResponse: a.getLastResponse(),
	}
}

// State returns a snapshot of this actor's current device state. Only
// the actor goroutine (or the session-lock calls guarding an update
// flow) ever writes it; external observers only ever read a snapshot
// (spec §3, §4.5).
func (a *Actor) State() keepkey.DeviceState {
	if a.awaiting.Load() {
		return keepkey.StateAwaitingInteraction
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *Actor) setState(s keepkey.DeviceState) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

func (a *Actor) getLastResponse() *keepkey.Response {
	a.lastResponseMu.Lock()
	defer a.lastResponseMu.Unlock()
	return a.lastResponse
}

func (a *Actor) setLastResponse(resp keepkey.Response) {
	a.lastResponseMu.Lock()
	a.lastResponse = &resp
	a.lastResponseMu.Unlock()
}

// reply records resp as the actor's last response and delivers it to
// the waiting caller.
func (a *Actor) reply(msg actorMsg, resp keepkey.Response) {
	a.setLastResponse(resp)
	msg.reply <- resp
}

// Drain terminates the actor, failing every still-queued command with
// a disconnected error (spec §4.4's Removed handling).
func (a *Actor) Drain(reason error) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.setState(keepkey.StateDisconnected)
	close(a.done)
	for {
		select {
		case msg := <-a.inbox:
			a.reply(msg, keepkey.Response{
				RequestID: msg.cmd.RequestID,
				DeviceID:  a.deviceID,
				Success:   false,
				Err:       kkerr.New(a.deviceID, kkerr.KindDisconnected, reason),
			})
		default:
			if a.session != nil {
				a.session.Close()
			}
			return
		}
	}
}

func (a *Actor) run() {
	for {
		select {
		case msg := <-a.inbox:
			a.process(msg)
		case op := <-a.cacheOps:
			a.processCacheOp(op)
		case <-a.done:
			return
		}
	}
}

func (a *Actor) processCacheOp(op cacheOpMsg) {
	if op.snapshot != nil {
		op.done <- a.cache.SnapshotTo(op.snapshot)
		return
	}
	op.done <- a.cache.LoadFrom(op.load)
}

func (a *Actor) process(msg actorMsg) {
	start := time.Now()
	queueWait := start.Sub(msg.cmd.EnqueuedAt)

	held := a.currentLockHolder()
	if held != "" && held != msg.cmd.RequestID {
		a.reply(msg, keepkey.Response{
			RequestID: msg.cmd.RequestID,
			DeviceID:  a.deviceID,
			Err:       kkerr.New(a.deviceID, kkerr.KindBusy, fmt.Errorf("session lock held by request %s", held)),
		})
		return
	}
	// A command running under its own session lock (the update
	// orchestrator's erase/upload) leaves the coarse Updating state set
	// by AcquireSessionLock alone rather than cycling it through
	// Busy/Firmware/Error each round trip.
	locked := held != ""

	op := msg.cmd.Params.Tag()

	if !op.Mutating() {
		if cached, ok := a.cache.get(msg.cmd.Params); ok {
			a.metrics.RecordCacheHit(a.deviceID)
			a.reply(msg, keepkey.Response{RequestID: msg.cmd.RequestID, DeviceID: a.deviceID, Success: true, Payload: cached})
			return
		}
		a.metrics.RecordCacheMiss(a.deviceID)
	}

	if !locked {
		a.setState(keepkey.StateBusy)
	}
	roundTripStart := time.Now()
	resp, err := a.dispatch(msg.cmd)
	a.awaiting.Store(false)
	roundTrip := time.Since(roundTripStart)

	if err != nil {
		resp = keepkey.Response{RequestID: msg.cmd.RequestID, DeviceID: a.deviceID, Success: false, Err: err}
		if !locked {
			a.setState(keepkey.StateError)
		}
	} else if op.Mutating() {
		a.cache.purge()
		if !locked {
			a.setState(keepkey.StateFirmware)
		}
	} else {
		a.cache.put(msg.cmd.Params, resp.Payload)
		if !locked {
			a.setState(a.readyStateFor(op, resp))
		}
	}

	total := time.Since(start)
	a.metrics.RecordCommand(a.deviceID, string(op), queueWait, roundTrip, total)
	a.metrics.SetQueueDepth(a.deviceID, len(a.inbox))

	a.reply(msg, resp)
}

// readyStateFor reports the steady-state DeviceState a successful,
// non-mutating response leaves the actor in: Bootloader when a
// GetFeatures response reports bootloader mode, Firmware otherwise.
func (a *Actor) readyStateFor(op keepkey.OperationTag, resp keepkey.Response) keepkey.DeviceState {
	if op == keepkey.OpGetFeatures {
		if features, ok := resp.Payload.(*protocol.Features); ok && features.BootloaderMode {
			return keepkey.StateBootloader
		}
	}
	return keepkey.StateFirmware
}

// dispatch performs the actual device round-trip for cmd, applying the
// single-retry-on-transient-error policy and, on an unrecoverable
// error, a single automatic reopen via the alternate transport family
// before surfacing the error (spec §4.5, §7).
func (a *Actor) dispatch(cmd keepkey.Command) (keepkey.Response, error) {
	ctx := context.Background()
	if !cmd.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, cmd.Deadline)
		defer cancel()
	}

	reply, err := a.exchange(ctx, cmd)
	if err != nil && isTransient(err) {
		a.logger.Printf("device %s: transient error on %s, retrying once: %v", a.deviceID, cmd.Params.Tag(), err)
		reply, err = a.exchange(ctx, cmd)
	}
	if err != nil && isUnrecoverable(err) && a.altOpener != nil {
		a.logger.Printf("device %s: unrecoverable error on %s, reopening via alternate transport: %v", a.deviceID, cmd.Params.Tag(), err)
		if reconnErr := a.reconnectAlternate(ctx); reconnErr == nil {
			reply, err = a.exchange(ctx, cmd)
		}
	}
	if err != nil {
		return keepkey.Response{}, a.classify(err)
	}

	payload, err := messageToPayload(reply)
	if err != nil {
		return keepkey.Response{}, a.classify(err)
	}
	return keepkey.Response{RequestID: cmd.RequestID, DeviceID: a.deviceID, Success: true, Payload: payload}, nil
}

// exchange performs one request/response round trip against the
// actor's current session, re-read at call time so a reconnect between
// attempts is picked up.
func (a *Actor) exchange(ctx context.Context, cmd keepkey.Command) (protocol.Message, error) {
	req := paramsToMessage(cmd.Params)
	deadline := transport.DefaultReadDeadline
	switch cmd.Params.(type) {
	case keepkey.FirmwareEraseParams, keepkey.FirmwareUploadParams:
		deadline = transport.FirmwareReadDeadline
	}
	ex := &sessionExchanger{session: a.session, deadline: deadline}
	adapter := protocol.NewAdapter(a.deviceID, a.coord)
	return adapter.Handle(ctx, ex, req)
}

// reconnectAlternate closes the current session and reopens it via the
// alternate transport family, swapping opener and altOpener so a
// further unrecoverable error falls back the other way. The cache is
// purged since a different transport family can imply a different
// underlying device state assumption.
func (a *Actor) reconnectAlternate(ctx context.Context) error {
	if a.session != nil {
		a.session.Close()
	}
	sess, err := a.altOpener.Open(ctx, a.descriptor)
	if err != nil {
		a.bus.Publish(eventbus.Event{Kind: eventbus.NeedsReconnect, DeviceID: a.deviceID, Reason: err.Error()})
		return err
	}
	a.session = sess
	a.opener, a.altOpener = a.altOpener, a.opener
	a.cache.purge()
	return nil
}

func (a *Actor) classify(err error) error {
	if _, ok := err.(*kkerr.Error); ok {
		return err
	}
	return kkerr.New(a.deviceID, kkerr.KindDeviceFailure, err)
}

func isTransient(err error) bool {
	switch kkerr.KindOf(err) {
	case kkerr.KindTimeout, kkerr.KindFraming:
		return true
	default:
		return false
	}
}

func isUnrecoverable(err error) bool {
	switch kkerr.KindOf(err) {
	case kkerr.KindClaimDenied, kkerr.KindDisconnected:
		return true
	default:
		return false
	}
}

// AcquireSessionLock grants requestID exclusive use of the actor,
// refusing every other command with KindBusy until released (spec
// §4.5's session lock, used by the update orchestrator).
func (a *Actor) AcquireSessionLock(requestID string) error {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	if a.sessionLockHolder != "" && a.sessionLockHolder != requestID {
		return kkerr.New(a.deviceID, kkerr.KindBusy, fmt.Errorf("session lock already held by request %s", a.sessionLockHolder))
	}
	if a.sessionLockHolder == "" {
		a.stateMu.Lock()
		a.preLockState = a.state
		a.state = keepkey.StateUpdating
		a.stateMu.Unlock()
	}
	a.sessionLockHolder = requestID
	return nil
}

// ReleaseSessionLock releases a lock previously acquired by requestID,
// restoring the device state that was current before the lock was
// acquired.
func (a *Actor) ReleaseSessionLock(requestID string) {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	if a.sessionLockHolder == requestID {
		a.sessionLockHolder = ""
		a.stateMu.Lock()
		a.state = a.preLockState
		a.stateMu.Unlock()
	}
}

func (a *Actor) currentLockHolder() string {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	return a.sessionLockHolder
}

// SubscribeEvents returns a channel of device lifecycle events scoped
// to this actor's bus, plus an unsubscribe function (spec §4.5).
func (a *Actor) SubscribeEvents() (<-chan eventbus.Event, func()) {
	return a.bus.Subscribe()
}

// ForceReconnect closes and reopens the underlying session via the
// configured Opener, used after an unrecoverable transport error or on
// operator request (spec §6's force_reconnect).
func (a *Actor) ForceReconnect(ctx context.Context) error {
	if a.session != nil {
		a.session.Close()
	}
	sess, err := a.opener.Open(ctx, a.descriptor)
	if err != nil {
		a.bus.Publish(eventbus.Event{Kind: eventbus.NeedsReconnect, DeviceID: a.deviceID, Reason: err.Error()})
		return kkerr.New(a.deviceID, kkerr.KindDisconnected, err)
	}
	a.session = sess
	a.cache.purge()
	return nil
}

// SnapshotCache writes this device's cache to w, the optional
// disk-backed cache snapshot named in spec §1.
func (a *Actor) SnapshotCache(ctx context.Context, w io.Writer) error {
	return a.runCacheOp(ctx, cacheOpMsg{snapshot: w})
}

// LoadCache replaces this device's cache with the snapshot read from
// r, typically called once at startup before the first command.
func (a *Actor) LoadCache(ctx context.Context, r io.Reader) error {
	return a.runCacheOp(ctx, cacheOpMsg{load: r})
}

func (a *Actor) runCacheOp(ctx context.Context, op cacheOpMsg) error {
	op.done = make(chan error, 1)
	select {
	case a.cacheOps <- op:
	case <-a.done:
		return kkerr.New(a.deviceID, kkerr.KindActorTerminated, fmt.Errorf("actor for device %s has terminated", a.deviceID))
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return kkerr.New(a.deviceID, kkerr.KindActorTerminated, fmt.Errorf("actor for device %s terminated mid-request", a.deviceID))
	}
}

// sessionExchanger adapts a transport.Session to protocol.Exchanger.
type sessionExchanger struct {
	session  Session
	deadline time.Duration
}

func (e *sessionExchanger) Exchange(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	msgType, payload := protocol.Encode(m)
	if err := e.session.Write(ctx, msgType, payload); err != nil {
		return nil, err
	}
	gotType, gotPayload, err := e.session.Read(ctx, e.deadline)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(gotType, gotPayload)
}
