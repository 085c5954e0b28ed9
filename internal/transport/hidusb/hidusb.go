// Package hidusb implements the HID transport family (spec §4.1). It
// is used either because the registry could not claim the bulk-USB
// interface (an OS-level FIDO/HID filter owns it) or because the
// current platform forces HID for every KeepKey device.
//
// Grounded on github.com/flynn/hid (vendored, platform-specific, in
// other_examples/..._gravitational-teleport__...hid_darwin.go): its
// Devices()/DeviceInfo.Open()/Device.Write/Device.ReadCh() surface is
// used here at the package's public API level rather than its cgo
// internals, since those internals are platform-specific and this
// transport only needs the cross-platform Go contract.
package hidusb

import (
	"context"
	"fmt"
	"time"

	"github.com/flynn/hid"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/transport"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// Transport opens HID sessions via flynn/hid.
type Transport struct {
	// FIDOFiltered selects the report-id-less packet layout used on
	// platforms whose OS HID filter already strips it (spec §4.1/§6).
	FIDOFiltered bool
}

// New creates an HID transport. fidoFiltered is supplied by
// usbhid.DetectPlatform's FIDOFiltered report.
func New(fidoFiltered bool) *Transport {
	return &Transport{FIDOFiltered: fidoFiltered}
}

func (t *Transport) Family() keepkey.TransportFamily { return keepkey.TransportHID }

func (t *Transport) layout() transport.Layout {
	if t.FIDOFiltered {
		return transport.HIDFidoLayout
	}
	return transport.HIDStandardLayout
}

// Open finds and opens the HID device identified by desc.
func (t *Transport) Open(ctx context.Context, desc keepkey.Descriptor) (transport.Session, error) {
	infos, err := hid.Devices()
	if err != nil {
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("enumerate hid devices: %w", err))
	}

	var match *hid.DeviceInfo
	for _, info := range infos {
		if info.VendorID == desc.VendorID && info.ProductID == desc.ProductID {
			match = info
			break
		}
	}
	if match == nil {
		return nil, kkerr.New(desc.ID(), kkerr.KindDisconnected, fmt.Errorf("hid device not found vid=%#04x pid=%#04x", desc.VendorID, desc.ProductID))
	}

	dev, err := match.Open()
	if err != nil {
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("open hid device: %w", err))
	}

	return &session{deviceID: desc.ID(), dev: dev, layout: t.layout()}, nil
}

type session struct {
	deviceID string
	dev      hid.Device
	layout   transport.Layout
}

func (s *session) Family() keepkey.TransportFamily { return keepkey.TransportHID }

func (s *session) Write(ctx context.Context, msgType uint16, payload []byte) error {
	for _, pkt := range transport.Pack(s.layout, msgType, payload) {
		if err := s.dev.Write(pkt); err != nil {
			return kkerr.New(s.deviceID, kkerr.KindDisconnected, fmt.Errorf("hid write: %w", err))
		}
	}
	return nil
}

func (s *session) Read(ctx context.Context, deadline time.Duration) (uint16, []byte, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	readPacket := func() ([]byte, error) {
		select {
		case pkt, ok := <-s.dev.ReadCh():
			if !ok {
				if err := s.dev.ReadError(); err != nil {
					return nil, kkerr.New(s.deviceID, kkerr.KindDisconnected, fmt.Errorf("hid read: %w", err))
				}
				return nil, kkerr.New(s.deviceID, kkerr.KindDisconnected, fmt.Errorf("hid read channel closed"))
			}
			return pkt, nil
		case <-timer.C:
			return nil, kkerr.New(s.deviceID, kkerr.KindTimeout, fmt.Errorf("hid read timeout after %s", deadline))
		case <-ctx.Done():
			return nil, kkerr.New(s.deviceID, kkerr.KindTimeout, ctx.Err())
		}
	}

	msgType, payload, err := transport.Unpack(s.layout, readPacket)
	if err != nil {
		if ke, ok := err.(*kkerr.Error); ok {
			return 0, nil, ke
		}
		return 0, nil, kkerr.New(s.deviceID, kkerr.KindFraming, err)
	}
	return msgType, payload, nil
}

func (s *session) Close() error {
	s.dev.Close()
	return nil
}
