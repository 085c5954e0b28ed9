package transport

import (
	"encoding/binary"
	"fmt"
)

// PacketSize is the fixed size of every USB/HID packet this module
// exchanges with a device (spec §6).
const PacketSize = 64

// magic is the fixed two-byte prefix following the leading 0x3f on the
// first packet of every frame (spec §6).
var magic = [2]byte{0x23, 0x23}

// Layout describes how one transport family lays a frame's header
// across its first packet and its continuation packets. Bulk-USB and
// both HID variants (FIDO-filtered and standard) share the same frame
// assembly algorithm below and differ only in this layout.
type Layout struct {
	// Name identifies the layout for error messages.
	Name string
	// FirstPrefixLen is how many non-payload bytes prefix the first
	// packet (report-id byte, if any, plus 0x3f, plus 0x23 0x23, plus
	// the 2-byte type and 4-byte length).
	FirstPrefixLen int
	// ContinuationPrefixLen is how many non-payload bytes prefix every
	// continuation packet (report-id byte, if any, plus 0x3f).
	ContinuationPrefixLen int
	// HasReportID is true when a 0x00 report-id byte precedes 0x3f.
	HasReportID bool
}

// BulkUSBLayout is the bulk-USB first-packet layout: 0x3f 0x23 0x23 TT
// TT LL LL LL LL, continuation 0x3f (spec §6).
var BulkUSBLayout = Layout{Name: "bulk_usb", FirstPrefixLen: 9, ContinuationPrefixLen: 1, HasReportID: false}

// HIDFidoLayout is the HID layout on the FIDO-filtered platform: same
// as bulk-USB, no report-id byte (spec §4.1, §6).
var HIDFidoLayout = Layout{Name: "hid_fido", FirstPrefixLen: 9, ContinuationPrefixLen: 1, HasReportID: false}

// HIDStandardLayout is the HID layout elsewhere: a leading 0x00
// report-id byte on every packet (spec §6).
var HIDStandardLayout = Layout{Name: "hid_standard", FirstPrefixLen: 10, ContinuationPrefixLen: 2, HasReportID: true}

// Pack splits a logical frame (msgType, payload) into PacketSize-byte
// packets per layout, zero-padding the final packet.
func Pack(layout Layout, msgType uint16, payload []byte) [][]byte {
	header := make([]byte, 0, layout.FirstPrefixLen)
	if layout.HasReportID {
		header = append(header, 0x00)
	}
	header = append(header, 0x3f, magic[0], magic[1])
	var typeLen [6]byte
	binary.BigEndian.PutUint16(typeLen[0:2], msgType)
	binary.BigEndian.PutUint32(typeLen[2:6], uint32(len(payload)))
	header = append(header, typeLen[:]...)

	contPrefix := make([]byte, 0, layout.ContinuationPrefixLen)
	if layout.HasReportID {
		contPrefix = append(contPrefix, 0x00)
	}
	contPrefix = append(contPrefix, 0x3f)

	var packets [][]byte
	firstCap := PacketSize - len(header)
	n := len(payload)
	take := n
	if take > firstCap {
		take = firstCap
	}
	first := make([]byte, PacketSize)
	copy(first, header)
	copy(first[len(header):], payload[:take])
	packets = append(packets, first)

	rest := payload[take:]
	contCap := PacketSize - len(contPrefix)
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > contCap {
			chunk = rest[:contCap]
		}
		pkt := make([]byte, PacketSize)
		copy(pkt, contPrefix)
		copy(pkt[len(contPrefix):], chunk)
		packets = append(packets, pkt)
		rest = rest[len(chunk):]
	}
	return packets
}

// PacketReader supplies one raw PacketSize-byte packet per call. Its
// concrete implementation is transport-family specific (a gousb bulk
// read, or a value off an hid.Device's ReadCh()).
type PacketReader func() ([]byte, error)

// Unpack reassembles one logical frame from packets produced by read.
// It returns a framing error (never a partial frame) if the magic is
// missing or a continuation packet is truncated before the declared
// length is reached. No upper bound is enforced on the declared
// length; a length the packets never reach ends with the error that
// read returns (for example a read timeout).
func Unpack(layout Layout, read PacketReader) (msgType uint16, payload []byte, err error) {
	first, err := read()
	if err != nil {
		return 0, nil, err
	}
	if len(first) != PacketSize {
		return 0, nil, fmt.Errorf("%s: short first packet: %d bytes", layout.Name, len(first))
	}
	off := 0
	if layout.HasReportID {
		if first[0] != 0x00 {
			return 0, nil, fmt.Errorf("%s: missing report-id prefix", layout.Name)
		}
		off++
	}
	if first[off] != 0x3f {
		return 0, nil, fmt.Errorf("%s: missing 0x3f marker", layout.Name)
	}
	off++
	if first[off] != magic[0] || first[off+1] != magic[1] {
		return 0, nil, fmt.Errorf("%s: missing 0x23 0x23 magic", layout.Name)
	}
	off += 2
	msgType = binary.BigEndian.Uint16(first[off : off+2])
	off += 2
	length := binary.BigEndian.Uint32(first[off : off+4])
	off += 4

	payload = make([]byte, 0, length)
	chunk := first[off:]
	if uint32(len(chunk)) > length {
		chunk = chunk[:length]
	}
	payload = append(payload, chunk...)

	contPrefixLen := layout.ContinuationPrefixLen
	for uint32(len(payload)) < length {
		pkt, err := read()
		if err != nil {
			return 0, nil, err
		}
		if len(pkt) != PacketSize {
			return 0, nil, fmt.Errorf("%s: short continuation packet: %d bytes", layout.Name, len(pkt))
		}
		if layout.HasReportID {
			if pkt[0] != 0x00 {
				return 0, nil, fmt.Errorf("%s: continuation missing report-id prefix", layout.Name)
			}
		}
		markerOff := 0
		if layout.HasReportID {
			markerOff = 1
		}
		if pkt[markerOff] != 0x3f {
			return 0, nil, fmt.Errorf("%s: continuation missing 0x3f marker", layout.Name)
		}
		body := pkt[contPrefixLen:]
		remaining := length - uint32(len(payload))
		if uint32(len(body)) > remaining {
			body = body[:remaining]
		}
		payload = append(payload, body...)
	}
	if uint32(len(payload)) != length {
		return 0, nil, fmt.Errorf("%s: length mismatch: declared %d, assembled %d", layout.Name, length, len(payload))
	}
	return msgType, payload, nil
}
