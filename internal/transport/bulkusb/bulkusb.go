// Package bulkusb implements the bulk-USB transport family (spec
// §4.1): interface 0, endpoint OUT 0x01 / IN 0x81, 64-byte packets.
// Grounded on the teacher's internal/driver/device/usb_device.go
// (OpenDeviceWithVIDPID, Config(1), Interface(0,0), endpoint lookup),
// generalized from a single fixed-size packet read into full frame
// reassembly per internal/transport's packet layout.
package bulkusb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/transport"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

const (
	usbInterfaceNum = 0
	endpointOut     = 0x01
	endpointIn      = 0x81
)

// Transport opens bulk-USB sessions via gousb.
type Transport struct {
	ctx *gousb.Context
}

// New creates a bulk-USB transport bound to its own gousb context.
func New() *Transport {
	return &Transport{ctx: gousb.NewContext()}
}

func (t *Transport) Family() keepkey.TransportFamily { return keepkey.TransportBulkUSB }

// Close releases the underlying gousb context.
func (t *Transport) Close() error { return t.ctx.Close() }

// Open claims interface 0 of the device identified by desc and returns
// a ready-to-use Session. A denied claim (e.g. an OS-level HID/FIDO
// filter already owns the interface) is reported with kkerr.KindClaimDenied
// so the caller (the registry) can fall back to the HID transport.
func (t *Transport) Open(ctx context.Context, desc keepkey.Descriptor) (transport.Session, error) {
	dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(desc.VendorID), gousb.ID(desc.ProductID))
	if err != nil {
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("open device: %w", err))
	}
	if dev == nil {
		return nil, kkerr.New(desc.ID(), kkerr.KindDisconnected, fmt.Errorf("device not found vid=%#04x pid=%#04x", desc.VendorID, desc.ProductID))
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("set config: %w", err))
	}

	intf, err := cfg.Interface(usbInterfaceNum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("claim interface: %w", err))
	}

	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("open OUT endpoint: %w", err))
	}
	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, kkerr.New(desc.ID(), kkerr.KindClaimDenied, fmt.Errorf("open IN endpoint: %w", err))
	}

	return &session{deviceID: desc.ID(), dev: dev, cfg: cfg, intf: intf, epOut: epOut, epIn: epIn}, nil
}

type session struct {
	deviceID string
	dev      *gousb.Device
	cfg      *gousb.Config
	intf     *gousb.Interface
	epOut    *gousb.OutEndpoint
	epIn     *gousb.InEndpoint
}

func (s *session) Family() keepkey.TransportFamily { return keepkey.TransportBulkUSB }

func (s *session) Write(ctx context.Context, msgType uint16, payload []byte) error {
	for _, pkt := range transport.Pack(transport.BulkUSBLayout, msgType, payload) {
		if _, err := s.epOut.WriteContext(ctx, pkt); err != nil {
			return kkerr.New(s.deviceID, kkerr.KindDisconnected, fmt.Errorf("bulk-usb write: %w", err))
		}
	}
	return nil
}

func (s *session) Read(ctx context.Context, deadline time.Duration) (uint16, []byte, error) {
	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	readPacket := func() ([]byte, error) {
		buf := make([]byte, transport.PacketSize)
		n, err := s.epIn.ReadContext(rctx, buf)
		if err != nil {
			if rctx.Err() != nil {
				return nil, kkerr.New(s.deviceID, kkerr.KindTimeout, fmt.Errorf("bulk-usb read timeout: %w", err))
			}
			return nil, kkerr.New(s.deviceID, kkerr.KindDisconnected, fmt.Errorf("bulk-usb read: %w", err))
		}
		return buf[:n], nil
	}

	msgType, payload, err := transport.Unpack(transport.BulkUSBLayout, readPacket)
	if err != nil {
		if ke, ok := err.(*kkerr.Error); ok {
			return 0, nil, ke
		}
		return 0, nil, kkerr.New(s.deviceID, kkerr.KindFraming, err)
	}
	return msgType, payload, nil
}

func (s *session) Close() error {
	s.intf.Close()
	s.cfg.Close()
	return s.dev.Close()
}
