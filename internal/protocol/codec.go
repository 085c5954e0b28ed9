// Package protocol encodes and decodes the device's "protobuf-like"
// message schema (spec §3, §4.2) and implements the standard handler
// that auto-acks asynchronous device prompts.
//
// Wire encoding is built directly on google.golang.org/protobuf's
// protowire leaf package (grounded on the teacher's go.mod dependency
// on google.golang.org/protobuf) rather than full protoc codegen,
// since this module's message set is small, fixed, and known at
// compile time — there is no .proto source to generate from.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType is the 16-bit wire type code carried in every frame
// header (spec §3, §6).
type MessageType uint16

const (
	TypeSuccess           MessageType = 2
	TypeFailure           MessageType = 3
	TypePing              MessageType = 1
	TypeButtonRequest     MessageType = 26
	TypeButtonAck         MessageType = 27
	TypePinMatrixRequest  MessageType = 18
	TypePinMatrixAck      MessageType = 19
	TypePassphraseRequest MessageType = 41
	TypePassphraseAck     MessageType = 42
	TypeCancel            MessageType = 20
	TypeGetFeatures       MessageType = 55
	TypeFeatures          MessageType = 17
	TypeGetAddress        MessageType = 29
	TypeAddress           MessageType = 30
	TypeGetPublicKey      MessageType = 11
	TypePublicKey         MessageType = 12
	TypeSignTx            MessageType = 15
	TypeTxSigned          MessageType = 16
	TypeWipeDevice        MessageType = 5
	TypeResetDevice       MessageType = 14
	TypeLoadDevice        MessageType = 13
	TypeRecoveryDevice    MessageType = 45
	TypeApplySettings     MessageType = 25
	TypeChangePin         MessageType = 4
	TypeFirmwareErase     MessageType = 6
	TypeFirmwareUpload    MessageType = 7
	TypeRawMessage        MessageType = 9999
)

// Message is any decodable/encodable protocol message.
type Message interface {
	Type() MessageType
	Marshal() []byte
}

// Unmarshaler is implemented by the pointer receiver of each concrete
// message type so the registry can decode into a fresh zero value.
type Unmarshaler interface {
	Message
	Unmarshal([]byte) error
}

// factories maps a wire type code to a constructor producing a fresh,
// zero-valued message ready for Unmarshal.
var factories = map[MessageType]func() Unmarshaler{
	TypeSuccess:           func() Unmarshaler { return &Success{} },
	TypeFailure:           func() Unmarshaler { return &Failure{} },
	TypePing:              func() Unmarshaler { return &Ping{} },
	TypeButtonRequest:     func() Unmarshaler { return &ButtonRequest{} },
	TypeButtonAck:         func() Unmarshaler { return &ButtonAck{} },
	TypePinMatrixRequest:  func() Unmarshaler { return &PinMatrixRequest{} },
	TypePinMatrixAck:      func() Unmarshaler { return &PinMatrixAck{} },
	TypePassphraseRequest: func() Unmarshaler { return &PassphraseRequest{} },
	TypePassphraseAck:     func() Unmarshaler { return &PassphraseAck{} },
	TypeCancel:            func() Unmarshaler { return &Cancel{} },
	TypeGetFeatures:       func() Unmarshaler { return &GetFeatures{} },
	TypeFeatures:          func() Unmarshaler { return &Features{} },
	TypeGetAddress:        func() Unmarshaler { return &GetAddress{} },
	TypeAddress:           func() Unmarshaler { return &Address{} },
	TypeGetPublicKey:      func() Unmarshaler { return &GetPublicKey{} },
	TypePublicKey:         func() Unmarshaler { return &PublicKey{} },
	TypeSignTx:            func() Unmarshaler { return &SignTx{} },
	TypeTxSigned:          func() Unmarshaler { return &TxSigned{} },
	TypeWipeDevice:        func() Unmarshaler { return &WipeDevice{} },
	TypeResetDevice:       func() Unmarshaler { return &ResetDevice{} },
	TypeLoadDevice:        func() Unmarshaler { return &LoadDevice{} },
	TypeRecoveryDevice:    func() Unmarshaler { return &RecoveryDevice{} },
	TypeApplySettings:     func() Unmarshaler { return &ApplySettings{} },
	TypeChangePin:         func() Unmarshaler { return &ChangePin{} },
	TypeFirmwareErase:     func() Unmarshaler { return &FirmwareErase{} },
	TypeFirmwareUpload:    func() Unmarshaler { return &FirmwareUpload{} },
	TypeRawMessage:        func() Unmarshaler { return &RawMessage{} },
}

// Encode converts a typed Message into the (msgType, payload) pair a
// transport.Session writes as one frame.
func Encode(m Message) (uint16, []byte) {
	return uint16(m.Type()), m.Marshal()
}

// Decode reconstructs a typed Message from a frame's (msgType, payload).
func Decode(msgType uint16, payload []byte) (Message, error) {
	factory, ok := factories[MessageType(msgType)]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown message type %d", msgType)
	}
	m := factory()
	if err := m.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("protocol: decode type %d: %w", msgType, err)
	}
	return m, nil
}

// --- shared field encode/decode helpers over protowire ---

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendUint32Slice(b []byte, num protowire.Number, vs []uint32) []byte {
	for _, v := range vs {
		b = appendVarint(b, num, uint64(v))
	}
	return b
}

// fieldVisitor is called once per field encountered while walking a
// message's wire-encoded payload.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (advance int, err error)

// walkFields consumes every tag/value pair in b, in order, until
// exhausted or an error occurs.
func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		adv, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		b = b[adv:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("protocol: expected bytes wire type, got %v", typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("protocol: expected bytes wire type, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("protocol: expected varint wire type, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
