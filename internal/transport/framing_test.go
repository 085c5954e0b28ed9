package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packetReaderFrom(packets [][]byte) PacketReader {
	i := 0
	return func() ([]byte, error) {
		if i >= len(packets) {
			return nil, errors.New("no more packets")
		}
		p := packets[i]
		i++
		return p, nil
	}
}

func TestRoundTripAllLayouts(t *testing.T) {
	layouts := []Layout{BulkUSBLayout, HIDFidoLayout, HIDStandardLayout}
	for _, layout := range layouts {
		t.Run(layout.Name, func(t *testing.T) {
			payload := make([]byte, 500)
			for i := range payload {
				payload[i] = byte(i)
			}
			packets := Pack(layout, 0x0017, payload)
			msgType, got, err := Unpack(layout, packetReaderFrom(packets))
			require.NoError(t, err)
			assert.Equal(t, uint16(0x0017), msgType)
			assert.Equal(t, payload, got)
		})
	}
}

func TestZeroLengthPayload(t *testing.T) {
	packets := Pack(BulkUSBLayout, 1, nil)
	require.Len(t, packets, 1)
	msgType, payload, err := Unpack(BulkUSBLayout, packetReaderFrom(packets))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), msgType)
	assert.Empty(t, payload)
}

func TestMaxPayloadSpansManyPackets(t *testing.T) {
	payload := make([]byte, 10*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	packets := Pack(BulkUSBLayout, 5, payload)
	assert.Greater(t, len(packets), 1)
	_, got, err := Unpack(BulkUSBLayout, packetReaderFrom(packets))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnpackRejectsMissingMagic(t *testing.T) {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x3f
	pkt[1] = 0x00 // wrong magic
	pkt[2] = 0x00
	_, _, err := Unpack(BulkUSBLayout, packetReaderFrom([][]byte{pkt}))
	assert.Error(t, err)
}

func TestUnpackRejectsTruncatedContinuation(t *testing.T) {
	payload := make([]byte, 200)
	packets := Pack(BulkUSBLayout, 1, payload)
	require.Greater(t, len(packets), 1)
	truncated := packets[:len(packets)-1] // drop the final continuation packet
	_, _, err := Unpack(BulkUSBLayout, packetReaderFrom(truncated))
	assert.Error(t, err)
}

func TestUnpackRejectsLengthOverrun(t *testing.T) {
	// Declare a length far larger than any packet will ever supply, and
	// starve the reader so assembly cannot complete.
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x3f
	pkt[1] = magic[0]
	pkt[2] = magic[1]
	pkt[3] = 0x00
	pkt[4] = 0x01
	pkt[5] = 0xff
	pkt[6] = 0xff
	pkt[7] = 0xff
	pkt[8] = 0xff
	_, _, err := Unpack(BulkUSBLayout, packetReaderFrom([][]byte{pkt}))
	assert.Error(t, err)
}

func TestHIDStandardReportIDPrefix(t *testing.T) {
	packets := Pack(HIDStandardLayout, 9, []byte("hello"))
	assert.Equal(t, byte(0x00), packets[0][0])
	assert.Equal(t, byte(0x3f), packets[0][1])
}

func TestHIDFidoNoReportIDPrefix(t *testing.T) {
	packets := Pack(HIDFidoLayout, 9, []byte("hello"))
	assert.Equal(t, byte(0x3f), packets[0][0])
}
