package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Success carries the device's generic acknowledgement.
type Success struct{ Message string }

func (*Success) Type() MessageType { return TypeSuccess }
func (m *Success) Marshal() []byte { return appendString(nil, 1, m.Message) }
func (m *Success) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Message = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// Failure is a device-reported failure with a machine-readable code.
type Failure struct {
	Code    uint32
	Message string
}

func (*Failure) Type() MessageType { return TypeFailure }
func (m *Failure) Marshal() []byte {
	b := appendVarint(nil, 1, uint64(m.Code))
	return appendString(b, 2, m.Message)
}
func (m *Failure) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			m.Code = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, rest)
			m.Message = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// Ping is the keepalive/liveness probe (spec §3 Command variants).
type Ping struct{ Message string }

func (*Ping) Type() MessageType { return TypePing }
func (m *Ping) Marshal() []byte { return appendString(nil, 1, m.Message) }
func (m *Ping) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Message = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// ButtonRequest asks the caller to wait for a physical button press;
// Code is the device's numeric identifier for the prompt shown.
type ButtonRequest struct{ Code uint32 }

func (*ButtonRequest) Type() MessageType { return TypeButtonRequest }
func (m *ButtonRequest) Marshal() []byte { return appendVarint(nil, 1, uint64(m.Code)) }
func (m *ButtonRequest) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, rest)
			m.Code = uint32(v)
			return n, err
		}
		return skip(typ, rest)
	})
}

// ButtonAck is the standard handler's automatic response to ButtonRequest.
type ButtonAck struct{}

func (*ButtonAck) Type() MessageType          { return TypeButtonAck }
func (m *ButtonAck) Marshal() []byte          { return nil }
func (m *ButtonAck) Unmarshal(b []byte) error { return nil }

// PinMatrixRequest asks for a PIN entered as scrambled-matrix positions.
type PinMatrixRequest struct{ MatrixType uint32 }

func (*PinMatrixRequest) Type() MessageType { return TypePinMatrixRequest }
func (m *PinMatrixRequest) Marshal() []byte { return appendVarint(nil, 1, uint64(m.MatrixType)) }
func (m *PinMatrixRequest) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, rest)
			m.MatrixType = uint32(v)
			return n, err
		}
		return skip(typ, rest)
	})
}

// PinMatrixAck carries the ASCII-digit positions the coordinator
// converts from submit_pin's 1-9 position sequence (spec §4.6).
type PinMatrixAck struct{ Pin string }

func (*PinMatrixAck) Type() MessageType { return TypePinMatrixAck }
func (m *PinMatrixAck) Marshal() []byte { return appendString(nil, 1, m.Pin) }
func (m *PinMatrixAck) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Pin = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// PassphraseRequest asks for a BIP-39 passphrase.
type PassphraseRequest struct{}

func (*PassphraseRequest) Type() MessageType          { return TypePassphraseRequest }
func (m *PassphraseRequest) Marshal() []byte          { return nil }
func (m *PassphraseRequest) Unmarshal(b []byte) error { return nil }

// PassphraseAck carries the caller-supplied passphrase.
type PassphraseAck struct{ Passphrase string }

func (*PassphraseAck) Type() MessageType { return TypePassphraseAck }
func (m *PassphraseAck) Marshal() []byte { return appendString(nil, 1, m.Passphrase) }
func (m *PassphraseAck) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Passphrase = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// Cancel aborts the interaction currently in progress on the device.
type Cancel struct{}

func (*Cancel) Type() MessageType          { return TypeCancel }
func (m *Cancel) Marshal() []byte          { return nil }
func (m *Cancel) Unmarshal(b []byte) error { return nil }

// GetFeatures requests the device's feature report.
type GetFeatures struct{}

func (*GetFeatures) Type() MessageType          { return TypeGetFeatures }
func (m *GetFeatures) Marshal() []byte          { return nil }
func (m *GetFeatures) Unmarshal(b []byte) error { return nil }

// Features is the device's feature report (spec §3 Device state; the
// actor reads BootloaderMode from it to pick the ready state).
type Features struct {
	VendorStr            string
	MajorVersion          uint32
	MinorVersion          uint32
	PatchVersion          uint32
	BootloaderMode        bool
	DeviceID              string
	PinProtection         bool
	PassphraseProtection  bool
	Label                 string
	Initialized           bool
}

func (*Features) Type() MessageType { return TypeFeatures }
func (m *Features) Marshal() []byte {
	b := appendString(nil, 1, m.VendorStr)
	b = appendVarint(b, 2, uint64(m.MajorVersion))
	b = appendVarint(b, 3, uint64(m.MinorVersion))
	b = appendVarint(b, 4, uint64(m.PatchVersion))
	b = appendBool(b, 5, m.BootloaderMode)
	b = appendString(b, 6, m.DeviceID)
	b = appendBool(b, 7, m.PinProtection)
	b = appendBool(b, 8, m.PassphraseProtection)
	b = appendString(b, 9, m.Label)
	b = appendBool(b, 10, m.Initialized)
	return b
}
func (m *Features) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, rest)
			m.VendorStr = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, rest)
			m.MajorVersion = uint32(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.MinorVersion = uint32(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, rest)
			m.PatchVersion = uint32(v)
			return n, err
		case 5:
			v, n, err := consumeVarint(typ, rest)
			m.BootloaderMode = v != 0
			return n, err
		case 6:
			v, n, err := consumeString(typ, rest)
			m.DeviceID = v
			return n, err
		case 7:
			v, n, err := consumeVarint(typ, rest)
			m.PinProtection = v != 0
			return n, err
		case 8:
			v, n, err := consumeVarint(typ, rest)
			m.PassphraseProtection = v != 0
			return n, err
		case 9:
			v, n, err := consumeString(typ, rest)
			m.Label = v
			return n, err
		case 10:
			v, n, err := consumeVarint(typ, rest)
			m.Initialized = v != 0
			return n, err
		}
		return skip(typ, rest)
	})
}

// GetAddress requests a derived address, optionally displayed on-device.
type GetAddress struct {
	AddressN   []uint32
	Coin       string
	ScriptType string
	Display    bool
}

func (*GetAddress) Type() MessageType { return TypeGetAddress }
func (m *GetAddress) Marshal() []byte {
	b := appendUint32Slice(nil, 1, m.AddressN)
	b = appendString(b, 2, m.Coin)
	b = appendString(b, 3, m.ScriptType)
	b = appendBool(b, 4, m.Display)
	return b
}
func (m *GetAddress) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			m.AddressN = append(m.AddressN, uint32(v))
			return n, err
		case 2:
			v, n, err := consumeString(typ, rest)
			m.Coin = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, rest)
			m.ScriptType = v
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, rest)
			m.Display = v != 0
			return n, err
		}
		return skip(typ, rest)
	})
}

// Address is the device's derived-address response.
type Address struct{ Address string }

func (*Address) Type() MessageType { return TypeAddress }
func (m *Address) Marshal() []byte { return appendString(nil, 1, m.Address) }
func (m *Address) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Address = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// GetPublicKey requests an extended public key for a derivation path.
type GetPublicKey struct {
	AddressN       []uint32
	Coin           string
	ScriptType     string
	ECDSACurveName string
}

func (*GetPublicKey) Type() MessageType { return TypeGetPublicKey }
func (m *GetPublicKey) Marshal() []byte {
	b := appendUint32Slice(nil, 1, m.AddressN)
	b = appendString(b, 2, m.Coin)
	b = appendString(b, 3, m.ScriptType)
	b = appendString(b, 4, m.ECDSACurveName)
	return b
}
func (m *GetPublicKey) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			m.AddressN = append(m.AddressN, uint32(v))
			return n, err
		case 2:
			v, n, err := consumeString(typ, rest)
			m.Coin = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, rest)
			m.ScriptType = v
			return n, err
		case 4:
			v, n, err := consumeString(typ, rest)
			m.ECDSACurveName = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// PublicKey is the device's extended-public-key response.
type PublicKey struct{ Xpub string }

func (*PublicKey) Type() MessageType { return TypePublicKey }
func (m *PublicKey) Marshal() []byte { return appendString(nil, 1, m.Xpub) }
func (m *PublicKey) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, rest)
			m.Xpub = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// SignTx begins a transaction-signing flow. The kernel forwards the
// already-serialized transaction verbatim; it never parses or builds
// PSBTs/UTXOs itself (spec §1 non-goals).
type SignTx struct {
	Coin         string
	InputsCount  uint32
	OutputsCount uint32
	SerializedTx []byte
}

func (*SignTx) Type() MessageType { return TypeSignTx }
func (m *SignTx) Marshal() []byte {
	b := appendString(nil, 1, m.Coin)
	b = appendVarint(b, 2, uint64(m.InputsCount))
	b = appendVarint(b, 3, uint64(m.OutputsCount))
	b = appendBytes(b, 4, m.SerializedTx)
	return b
}
func (m *SignTx) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, rest)
			m.Coin = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, rest)
			m.InputsCount = uint32(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.OutputsCount = uint32(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, rest)
			m.SerializedTx = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// TxSigned is the device's fully-signed transaction response.
type TxSigned struct{ SerializedTx []byte }

func (*TxSigned) Type() MessageType { return TypeTxSigned }
func (m *TxSigned) Marshal() []byte { return appendBytes(nil, 1, m.SerializedTx) }
func (m *TxSigned) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			m.SerializedTx = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// WipeDevice erases all secrets from the device.
type WipeDevice struct{}

func (*WipeDevice) Type() MessageType          { return TypeWipeDevice }
func (m *WipeDevice) Marshal() []byte          { return nil }
func (m *WipeDevice) Unmarshal(b []byte) error { return nil }

// ResetDevice initializes a new wallet on the device.
type ResetDevice struct {
	DisplayRandom        bool
	StrengthBits         uint32
	PassphraseProtection bool
	PinProtection        bool
	Label                string
}

func (*ResetDevice) Type() MessageType { return TypeResetDevice }
func (m *ResetDevice) Marshal() []byte {
	b := appendBool(nil, 1, m.DisplayRandom)
	b = appendVarint(b, 2, uint64(m.StrengthBits))
	b = appendBool(b, 3, m.PassphraseProtection)
	b = appendBool(b, 4, m.PinProtection)
	b = appendString(b, 5, m.Label)
	return b
}
func (m *ResetDevice) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			m.DisplayRandom = v != 0
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, rest)
			m.StrengthBits = uint32(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.PassphraseProtection = v != 0
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, rest)
			m.PinProtection = v != 0
			return n, err
		case 5:
			v, n, err := consumeString(typ, rest)
			m.Label = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// LoadDevice restores a wallet from a known mnemonic (testing/recovery
// tooling only — never used for a caller's real funds in production).
type LoadDevice struct {
	Mnemonic             string
	Pin                  string
	PassphraseProtection bool
	Label                string
}

func (*LoadDevice) Type() MessageType { return TypeLoadDevice }
func (m *LoadDevice) Marshal() []byte {
	b := appendString(nil, 1, m.Mnemonic)
	b = appendString(b, 2, m.Pin)
	b = appendBool(b, 3, m.PassphraseProtection)
	b = appendString(b, 4, m.Label)
	return b
}
func (m *LoadDevice) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, rest)
			m.Mnemonic = v
			return n, err
		case 2:
			v, n, err := consumeString(typ, rest)
			m.Pin = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.PassphraseProtection = v != 0
			return n, err
		case 4:
			v, n, err := consumeString(typ, rest)
			m.Label = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// RecoveryDevice restores a wallet from a mnemonic entered on-device.
type RecoveryDevice struct {
	WordCount            uint32
	PassphraseProtection bool
	PinProtection        bool
	Label                string
}

func (*RecoveryDevice) Type() MessageType { return TypeRecoveryDevice }
func (m *RecoveryDevice) Marshal() []byte {
	b := appendVarint(nil, 1, uint64(m.WordCount))
	b = appendBool(b, 2, m.PassphraseProtection)
	b = appendBool(b, 3, m.PinProtection)
	b = appendString(b, 4, m.Label)
	return b
}
func (m *RecoveryDevice) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			m.WordCount = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, rest)
			m.PassphraseProtection = v != 0
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.PinProtection = v != 0
			return n, err
		case 4:
			v, n, err := consumeString(typ, rest)
			m.Label = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// ApplySettings updates device-level settings in place.
type ApplySettings struct {
	Label           string
	Language        string
	UsePassphrase   bool
	AutoLockDelayMs uint32
}

func (*ApplySettings) Type() MessageType { return TypeApplySettings }
func (m *ApplySettings) Marshal() []byte {
	b := appendString(nil, 1, m.Label)
	b = appendString(b, 2, m.Language)
	b = appendBool(b, 3, m.UsePassphrase)
	b = appendVarint(b, 4, uint64(m.AutoLockDelayMs))
	return b
}
func (m *ApplySettings) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, rest)
			m.Label = v
			return n, err
		case 2:
			v, n, err := consumeString(typ, rest)
			m.Language = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			m.UsePassphrase = v != 0
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, rest)
			m.AutoLockDelayMs = uint32(v)
			return n, err
		}
		return skip(typ, rest)
	})
}

// ChangePin creates, changes, or removes the device PIN.
type ChangePin struct{ Remove bool }

func (*ChangePin) Type() MessageType { return TypeChangePin }
func (m *ChangePin) Marshal() []byte { return appendBool(nil, 1, m.Remove) }
func (m *ChangePin) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, rest)
			m.Remove = v != 0
			return n, err
		}
		return skip(typ, rest)
	})
}

// FirmwareErase begins the update orchestrator's Erase phase (spec §4.7).
type FirmwareErase struct{}

func (*FirmwareErase) Type() MessageType          { return TypeFirmwareErase }
func (m *FirmwareErase) Marshal() []byte          { return nil }
func (m *FirmwareErase) Unmarshal(b []byte) error { return nil }

// FirmwareUpload carries the new firmware image and its expected hash
// (spec §4.7's Upload phase).
type FirmwareUpload struct {
	Payload      []byte
	ExpectedHash []byte
}

func (*FirmwareUpload) Type() MessageType { return TypeFirmwareUpload }
func (m *FirmwareUpload) Marshal() []byte {
	b := appendBytes(nil, 1, m.Payload)
	return appendBytes(b, 2, m.ExpectedHash)
}
func (m *FirmwareUpload) Unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			m.Payload = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			m.ExpectedHash = v
			return n, err
		}
		return skip(typ, rest)
	})
}

// RawMessage is the SendMessage escape hatch: an arbitrary payload
// under a caller-chosen type code, bypassing typed messages entirely.
type RawMessage struct{ Payload []byte }

func (*RawMessage) Type() MessageType { return TypeRawMessage }
func (m *RawMessage) Marshal() []byte { return append([]byte(nil), m.Payload...) }
func (m *RawMessage) Unmarshal(b []byte) error {
	m.Payload = append([]byte(nil), b...)
	return nil
}

// skip discards one field's value without interpreting it, used when
// walkFields encounters a field number this message doesn't know
// about (forward compatibility with a newer device firmware).
func skip(typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
