// Package update drives bootloader/firmware update flows as a
// privileged consumer that takes exclusive control of a device actor
// for the duration of a flash (spec §4.7). Grounded on the teacher's
// internal/driver/device/controller.go for its phased,
// lock-then-release operation shape (there: connect/configure/mine;
// here: prepare/erase/upload/verify/release).
package update

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/actor"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// VerifyTimeout is how long the orchestrator waits for the device to
// self-restart and re-enumerate after a successful upload (spec §4.7
// phase 4).
const VerifyTimeout = 30 * time.Second

// Phase identifies the orchestrator's current step, reported in
// device:update_progress events.
type Phase string

const (
	PhasePrepareSession Phase = "prepare_session"
	PhaseErase          Phase = "erase"
	PhaseUpload         Phase = "upload"
	PhaseVerify         Phase = "verify"
	PhaseRelease        Phase = "release"
)

// progressPct gives each phase a coarse percentage for
// device:update_progress, in phase order.
var progressPct = map[Phase]int{
	PhasePrepareSession: 5,
	PhaseErase:          20,
	PhaseUpload:         60,
	PhaseVerify:         90,
	PhaseRelease:        100,
}

// Orchestrator runs one firmware update session at a time against a
// single device actor.
type Orchestrator struct {
	bus *eventbus.Bus
}

// New constructs an Orchestrator publishing progress on bus.
func New(bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{bus: bus}
}

// Run drives PrepareSession → Erase → Upload → Verify → Release
// against handle for the given firmware payload and expected hash
// (spec §4.7). The device must already be in bootloader mode
// (GetFeatures.BootloaderMode == true); the caller is responsible for
// having verified that before calling Run.
func (o *Orchestrator) Run(ctx context.Context, deviceID string, handle *actor.Actor, payload []byte, expectedHash [32]byte) error {
	requestID := uuid.NewString()

	if err := o.prepareSession(ctx, deviceID, handle, requestID); err != nil {
		return o.fail(deviceID, err)
	}
	defer handle.ReleaseSessionLock(requestID)

	if err := o.erase(ctx, deviceID, handle, requestID); err != nil {
		return o.fail(deviceID, err)
	}

	if err := o.upload(ctx, deviceID, handle, requestID, payload, expectedHash); err != nil {
		return o.fail(deviceID, err)
	}

	if err := o.verify(ctx, deviceID); err != nil {
		return o.fail(deviceID, err)
	}

	o.progress(deviceID, PhaseRelease)
	o.bus.Publish(eventbus.Event{Kind: eventbus.UpdateComplete, DeviceID: deviceID})
	return nil
}

func (o *Orchestrator) prepareSession(ctx context.Context, deviceID string, handle *actor.Actor, requestID string) error {
	o.progress(deviceID, PhasePrepareSession)
	if err := handle.AcquireSessionLock(requestID); err != nil {
		return err
	}
	// Purge cache: any cached read from before the flash is invalid
	// once firmware changes. A Ping round trip tagged with this
	// session's request id purges nothing by itself, so the actor's
	// erase/upload mutating commands below purge the cache themselves
	// once they run; no separate purge call is needed here.
	return nil
}

func (o *Orchestrator) erase(ctx context.Context, deviceID string, handle *actor.Actor, requestID string) error {
	o.progress(deviceID, PhaseErase)
	cmd := keepkey.NewCommand(deviceID, keepkey.FirmwareEraseParams{})
	cmd.RequestID = requestID
	_, err := handle.Submit(ctx, cmd)
	if err != nil {
		return kkerr.New(deviceID, kkerr.KindEraseFailed, err).WithRequest(requestID)
	}
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, deviceID string, handle *actor.Actor, requestID string, payload []byte, expectedHash [32]byte) error {
	o.progress(deviceID, PhaseUpload)
	o.bus.Publish(eventbus.Event{Kind: eventbus.AwaitingButton, DeviceID: deviceID, RequestID: requestID, Label: "confirm_upload"})

	cmd := keepkey.NewCommand(deviceID, keepkey.FirmwareUploadParams{Payload: payload, ExpectedHash: expectedHash})
	cmd.RequestID = requestID
	_, err := handle.Submit(ctx, cmd)
	if err != nil {
		return kkerr.New(deviceID, kkerr.KindUploadFailed, err).WithRequest(requestID)
	}
	return nil
}

// verify waits for the device to self-restart and re-enumerate,
// observed as a fresh device:ready or device:connected event on the
// shared bus within VerifyTimeout (spec §4.7 phase 4).
func (o *Orchestrator) verify(ctx context.Context, deviceID string) error {
	o.progress(deviceID, PhaseVerify)

	sub, unsub := o.bus.Subscribe()
	defer unsub()

	deadline := time.After(VerifyTimeout)
	for {
		select {
		case ev := <-sub:
			if ev.DeviceID == deviceID && (ev.Kind == eventbus.Ready || ev.Kind == eventbus.Connected) {
				return nil
			}
		case <-deadline:
			return kkerr.New(deviceID, kkerr.KindReconnectTimeout, fmt.Errorf("device did not re-enumerate within %s after upload", VerifyTimeout))
		case <-ctx.Done():
			return kkerr.New(deviceID, kkerr.KindReconnectTimeout, ctx.Err())
		}
	}
}

func (o *Orchestrator) progress(deviceID string, phase Phase) {
	o.bus.Publish(eventbus.Event{Kind: eventbus.UpdateProgress, DeviceID: deviceID, Phase: string(phase), Pct: progressPct[phase]})
}

// fail emits device:update_failed and returns a categorized error. The
// orchestrator never auto-retries an update flow (spec §4.7); the
// caller decides whether to start a fresh Run.
func (o *Orchestrator) fail(deviceID string, err error) error {
	o.bus.Publish(eventbus.Event{Kind: eventbus.UpdateFailed, DeviceID: deviceID, Reason: err.Error()})
	return err
}
