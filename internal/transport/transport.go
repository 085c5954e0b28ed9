// Package transport defines the framed message-exchange contract
// shared by the bulk-USB and HID transport families (spec §4.1) and
// the packet-layout machinery both of them reassemble frames with
// (spec §6's bit-exact wire framing).
package transport

import (
	"context"
	"time"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// DefaultReadDeadline is the default per-call read timeout (spec §4.1).
const DefaultReadDeadline = 10 * time.Second

// FirmwareReadDeadline overrides DefaultReadDeadline for firmware
// operations, which can legitimately take much longer.
const FirmwareReadDeadline = 90 * time.Second

// Session is an exclusive handle to one open device interface. A
// Session guarantees single-writer/single-reader use; it is owned by
// exactly one device actor for its entire lifetime (spec §3).
type Session interface {
	// Write packetizes and sends one complete logical frame.
	Write(ctx context.Context, msgType uint16, payload []byte) error
	// Read assembles and returns the next complete logical frame,
	// waiting up to deadline for it.
	Read(ctx context.Context, deadline time.Duration) (msgType uint16, payload []byte, err error)
	// Family reports which transport family this session belongs to.
	Family() keepkey.TransportFamily
	// Close releases the OS-level interface claim.
	Close() error
}

// Transport opens sessions for a given transport family.
type Transport interface {
	Family() keepkey.TransportFamily
	Open(ctx context.Context, desc keepkey.Descriptor) (Session, error)
}
