package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		&Success{Message: "ok"},
		&Failure{Code: 7, Message: "bad"},
		&Ping{Message: "hi"},
		&ButtonRequest{Code: 3},
		&ButtonAck{},
		&PinMatrixRequest{MatrixType: 1},
		&PinMatrixAck{Pin: "1234"},
		&PassphraseRequest{},
		&PassphraseAck{Passphrase: "s3cr3t"},
		&Cancel{},
		&GetFeatures{},
		&Features{
			VendorStr:     "keepkey.com",
			MajorVersion:  7,
			MinorVersion:  10,
			PatchVersion:  0,
			DeviceID:      "abc123",
			Label:         "main",
			PinProtection: true,
			Initialized:   true,
		},
		&GetAddress{AddressN: []uint32{44, 0, 0, 0, 0}, Coin: "Bitcoin", ScriptType: "SPENDADDRESS", Display: true},
		&Address{Address: "1BitcoinAddress"},
		&GetPublicKey{AddressN: []uint32{44, 0, 0}, Coin: "Bitcoin"},
		&PublicKey{Xpub: "xpub6D..."},
		&SignTx{Coin: "Bitcoin", InputsCount: 1, OutputsCount: 2, SerializedTx: []byte{0x01, 0x02, 0x03}},
		&TxSigned{SerializedTx: []byte{0xde, 0xad, 0xbe, 0xef}},
		&WipeDevice{},
		&ResetDevice{StrengthBits: 256, Label: "newdevice"},
		&LoadDevice{Mnemonic: "abandon abandon about", Pin: "1111"},
		&RecoveryDevice{WordCount: 24, Label: "recovered"},
		&ApplySettings{Label: "renamed", AutoLockDelayMs: 60000},
		&ChangePin{Remove: true},
		&FirmwareErase{},
		&FirmwareUpload{Payload: []byte{1, 2, 3, 4}, ExpectedHash: []byte{5, 6, 7, 8}},
		&RawMessage{Payload: []byte{0xff, 0x00, 0xab}},
	}

	for _, m := range cases {
		m := m
		t.Run(typeName(m), func(t *testing.T) {
			msgType, payload := Encode(m)
			assert.Equal(t, uint16(m.Type()), msgType)

			decoded, err := Decode(msgType, payload)
			require.NoError(t, err)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestDecodeUnknownTypeErrors(t *testing.T) {
	_, err := Decode(0xbeef, nil)
	assert.Error(t, err)
}

func TestEmptyStringAndZeroFieldsOmitted(t *testing.T) {
	_, payload := Encode(&Success{Message: ""})
	assert.Empty(t, payload)
}

func typeName(m Message) string {
	switch m.(type) {
	case *Success:
		return "Success"
	case *Failure:
		return "Failure"
	case *Ping:
		return "Ping"
	case *ButtonRequest:
		return "ButtonRequest"
	case *ButtonAck:
		return "ButtonAck"
	case *PinMatrixRequest:
		return "PinMatrixRequest"
	case *PinMatrixAck:
		return "PinMatrixAck"
	case *PassphraseRequest:
		return "PassphraseRequest"
	case *PassphraseAck:
		return "PassphraseAck"
	case *Cancel:
		return "Cancel"
	case *GetFeatures:
		return "GetFeatures"
	case *Features:
		return "Features"
	case *GetAddress:
		return "GetAddress"
	case *Address:
		return "Address"
	case *GetPublicKey:
		return "GetPublicKey"
	case *PublicKey:
		return "PublicKey"
	case *SignTx:
		return "SignTx"
	case *TxSigned:
		return "TxSigned"
	case *WipeDevice:
		return "WipeDevice"
	case *ResetDevice:
		return "ResetDevice"
	case *LoadDevice:
		return "LoadDevice"
	case *RecoveryDevice:
		return "RecoveryDevice"
	case *ApplySettings:
		return "ApplySettings"
	case *ChangePin:
		return "ChangePin"
	case *FirmwareErase:
		return "FirmwareErase"
	case *FirmwareUpload:
		return "FirmwareUpload"
	case *RawMessage:
		return "RawMessage"
	default:
		return "unknown"
	}
}
