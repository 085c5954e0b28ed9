// Package kkerr defines the machine-readable error taxonomy shared by
// every layer of the device access kernel. Every error that crosses a
// package boundary is a *kkerr.Error carrying a device id, an optional
// request id, and a stable Kind a caller can switch on.
package kkerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind is the stable, machine-readable category of an Error. Callers
// should switch on Kind, never on the error string.
type Kind string

const (
	// Transport kinds.
	KindTimeout     Kind = "transport.timeout"
	KindFraming     Kind = "transport.framing"
	KindClaimDenied Kind = "transport.claim_denied"
	KindDisconnected Kind = "transport.disconnected"

	// Protocol kinds.
	KindUnexpectedMessage Kind = "protocol.unexpected_message"
	KindLengthMismatch    Kind = "protocol.length_mismatch"
	KindDeviceFailure     Kind = "protocol.device_failure"

	// Interaction kinds.
	KindCancelled         Kind = "interaction.cancelled"
	KindStaleSession      Kind = "interaction.stale_session"
	KindUnsolicitedPrompt Kind = "interaction.unsolicited_prompt"
	KindUnknownRequest    Kind = "interaction.unknown_request"

	// State kinds.
	KindWrongMode Kind = "state.wrong_mode"
	KindBusy      Kind = "state.busy"
	KindLocked    Kind = "state.locked"

	// Update kinds.
	KindEraseFailed      Kind = "update.erase_failed"
	KindUploadFailed     Kind = "update.upload_failed"
	KindVerifyFailed     Kind = "update.verify_failed"
	KindReconnectTimeout Kind = "update.reconnect_timeout"

	// Internal kinds.
	KindActorTerminated Kind = "internal.actor_terminated"
	KindChannelClosed   Kind = "internal.channel_closed"
	KindNoDevice        Kind = "internal.no_device"
	KindUnspecified     Kind = "internal.unspecified"
)

// Error is the wire-level error type returned by every public operation
// in this module.
type Error struct {
	DeviceID  string
	RequestID string // optional; empty when not applicable
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("device %s request %s: %s: %v", e.DeviceID, e.RequestID, e.Kind, e.Err)
	}
	return fmt.Sprintf("device %s: %s: %v", e.DeviceID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind, wrapping cause.
func New(deviceID string, kind Kind, cause error) *Error {
	return &Error{DeviceID: deviceID, Kind: kind, Err: cause}
}

// WithRequest attaches a request id, returning a new Error (the
// receiver is not mutated so a shared sentinel cannot be corrupted by
// callers racing to tag it).
func (e *Error) WithRequest(requestID string) *Error {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// KindOf extracts the Kind of err, or KindUnspecified if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnspecified
}

// GRPCCode maps a Kind onto the nearest grpc/codes.Code, used only as a
// stable, ecosystem-standard vocabulary for categorizing errors — this
// module never starts a gRPC server.
func GRPCCode(k Kind) codes.Code {
	switch k {
	case KindTimeout, KindReconnectTimeout:
		return codes.DeadlineExceeded
	case KindClaimDenied, KindLocked, KindBusy:
		return codes.ResourceExhausted
	case KindDisconnected, KindNoDevice:
		return codes.Unavailable
	case KindCancelled:
		return codes.Canceled
	case KindUnknownRequest, KindWrongMode, KindFraming, KindLengthMismatch:
		return codes.InvalidArgument
	case KindUnsolicitedPrompt, KindStaleSession, KindDeviceFailure:
		return codes.FailedPrecondition
	case KindActorTerminated, KindChannelClosed:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ExitCode maps a Kind to the CLI façade exit codes from the
// specification: 0 success (not an error), 1 unspecified, 2 no device,
// 3 busy, 4 interaction cancelled, 5 timeout.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindNoDevice, KindDisconnected:
		return 2
	case KindBusy, KindLocked:
		return 3
	case KindCancelled:
		return 4
	case KindTimeout, KindReconnectTimeout:
		return 5
	default:
		return 1
	}
}
