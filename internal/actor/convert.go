package actor

import (
	"fmt"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// paramsToMessage converts a public Params value into the protocol
// message sent over the wire for it.
func paramsToMessage(p keepkey.Params) protocol.Message {
	switch v := p.(type) {
	case keepkey.PingParams:
		return &protocol.Ping{Message: v.Message}
	case keepkey.GetFeaturesParams:
		return &protocol.GetFeatures{}
	case keepkey.GetAddressParams:
		return &protocol.GetAddress{AddressN: v.Path, Coin: v.Coin, ScriptType: v.ScriptType, Display: v.Display}
	case keepkey.GetPublicKeyParams:
		return &protocol.GetPublicKey{AddressN: v.Path, Coin: v.Coin, ScriptType: v.ScriptType, ECDSACurveName: v.ECDSACurve}
	case keepkey.SignTxParams:
		return &protocol.SignTx{Coin: v.Coin, InputsCount: v.InputCount, OutputsCount: v.OutputCount, SerializedTx: v.SerializedTx}
	case keepkey.WipeDeviceParams:
		return &protocol.WipeDevice{}
	case keepkey.ResetDeviceParams:
		return &protocol.ResetDevice{
			DisplayRandom:        v.DisplayRandom,
			StrengthBits:         v.StrengthBits,
			PassphraseProtection: v.PassphraseProtection,
			PinProtection:        v.PinProtection,
			Label:                v.Label,
		}
	case keepkey.LoadDeviceParams:
		return &protocol.LoadDevice{Mnemonic: v.Mnemonic, Pin: v.Pin, PassphraseProtection: v.PassphraseProtection, Label: v.Label}
	case keepkey.RecoveryDeviceParams:
		return &protocol.RecoveryDevice{WordCount: v.WordCount, PassphraseProtection: v.PassphraseProtection, PinProtection: v.PinProtection, Label: v.Label}
	case keepkey.ApplySettingsParams:
		usePass := false
		if v.UsePassphrase != nil {
			usePass = *v.UsePassphrase
		}
		return &protocol.ApplySettings{Label: v.Label, Language: v.Language, UsePassphrase: usePass, AutoLockDelayMs: v.AutoLockDelayMs}
	case keepkey.ChangePinParams:
		return &protocol.ChangePin{Remove: v.Remove}
	case keepkey.FirmwareEraseParams:
		return &protocol.FirmwareErase{}
	case keepkey.FirmwareUploadParams:
		return &protocol.FirmwareUpload{Payload: v.Payload, ExpectedHash: v.ExpectedHash[:]}
	case keepkey.SendMessageParams:
		return &protocol.RawMessage{Payload: v.Payload}
	default:
		return &protocol.RawMessage{}
	}
}

// messageToPayload extracts the public-facing payload from a device's
// terminal protocol response, or an error for Failure replies.
func messageToPayload(m protocol.Message) (interface{}, error) {
	switch v := m.(type) {
	case *protocol.Success:
		return v.Message, nil
	case *protocol.Failure:
		return nil, fmt.Errorf("device reported failure (code %d): %s", v.Code, v.Message)
	case *protocol.Features:
		return v, nil
	case *protocol.Address:
		return v.Address, nil
	case *protocol.PublicKey:
		return v.Xpub, nil
	case *protocol.TxSigned:
		return v.SerializedTx, nil
	case *protocol.RawMessage:
		return v.Payload, nil
	default:
		return v, nil
	}
}
