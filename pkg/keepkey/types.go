// Package keepkey holds the public types of the device access kernel's
// command surface: descriptors, commands, parameters and responses.
// The in-process client that a GUI shell, RPC server, or CLI links
// against lives in pkg/keepkey/client and uses these types instead of
// exposing transports, registries, or actors directly.
package keepkey

import (
	"time"

	"github.com/google/uuid"
)

// TransportFamily identifies which physical interface a device is
// reachable over.
type TransportFamily string

const (
	TransportBulkUSB TransportFamily = "bulk_usb"
	TransportHID     TransportFamily = "hid"
)

// Descriptor is a device's stable identity as seen by the USB/HID
// manager. Identity prefers the device-reported serial; when the
// device has none, (VendorID, ProductID, Bus, Address) is used instead
// and such devices lose identity across a replug (spec §9).
type Descriptor struct {
	Serial          string // empty when unavailable
	VendorID        uint16
	ProductID       uint16
	Bus             int
	Address         int
	PreferredFamily TransportFamily
}

// ID returns the stable device identity string used as the registry
// and cache key: the serial when present, else a vid/pid/bus/address
// composite.
func (d Descriptor) ID() string {
	if d.Serial != "" {
		return "serial:" + d.Serial
	}
	return fallbackID(d.VendorID, d.ProductID, d.Bus, d.Address)
}

func fallbackID(vid, pid uint16, bus, addr int) string {
	return fmtID(vid, pid, bus, addr)
}

// DeviceState is a snapshot of a device actor's state machine (spec §3).
type DeviceState int

const (
	StateDiscovered DeviceState = iota
	StateFirmware
	StateBootloader
	StateBusy
	StateAwaitingInteraction
	StateUpdating
	StateDisconnected
	StateError
)

func (s DeviceState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateFirmware:
		return "firmware"
	case StateBootloader:
		return "bootloader"
	case StateBusy:
		return "busy"
	case StateAwaitingInteraction:
		return "awaiting_interaction"
	case StateUpdating:
		return "updating"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// OperationTag is a closed, stable label for each command variant. It
// is used both as the cache key component (spec §3's CacheEntry) and
// as the metrics label, so it never needs to be re-derived from a Go
// type name via reflection.
type OperationTag string

const (
	OpPing           OperationTag = "ping"
	OpGetFeatures    OperationTag = "get_features"
	OpGetAddress     OperationTag = "get_address"
	OpGetPublicKey   OperationTag = "get_public_key"
	OpSignTx         OperationTag = "sign_tx"
	OpWipeDevice     OperationTag = "wipe_device"
	OpResetDevice    OperationTag = "reset_device"
	OpLoadDevice     OperationTag = "load_device"
	OpRecoveryDevice OperationTag = "recovery_device"
	OpApplySettings  OperationTag = "apply_settings"
	OpChangePin      OperationTag = "change_pin"
	OpFirmwareErase  OperationTag = "firmware_erase"
	OpFirmwareUpload OperationTag = "firmware_upload"
	OpSendMessage    OperationTag = "send_message"
)

// Mutating reports whether op bypasses the cache and purges it on
// success (spec §3's CacheEntry invariant).
func (op OperationTag) Mutating() bool {
	switch op {
	case OpSignTx, OpWipeDevice, OpResetDevice, OpLoadDevice, OpRecoveryDevice,
		OpApplySettings, OpChangePin, OpFirmwareErase, OpFirmwareUpload:
		return true
	default:
		return false
	}
}

// Params is the parameter payload of a Command. Each operation defines
// its own concrete params type; Command carries it as an interface{}
// so a single queue and a single Response type can serve every variant.
type Params interface {
	// Tag identifies which OperationTag this Params value belongs to.
	Tag() OperationTag
}

type PingParams struct{ Message string }

func (PingParams) Tag() OperationTag { return OpPing }

type GetFeaturesParams struct{}

func (GetFeaturesParams) Tag() OperationTag { return OpGetFeatures }

type GetAddressParams struct {
	Path       []uint32
	Coin       string
	ScriptType string
	Display    bool
}

func (GetAddressParams) Tag() OperationTag { return OpGetAddress }

type GetPublicKeyParams struct {
	Path        []uint32
	Coin        string
	ScriptType  string
	ECDSACurve  string
}

func (GetPublicKeyParams) Tag() OperationTag { return OpGetPublicKey }

type SignTxParams struct {
	Coin         string
	InputCount   uint32
	OutputCount  uint32
	SerializedTx []byte // opaque to the kernel; forwarded verbatim to the device
}

func (SignTxParams) Tag() OperationTag { return OpSignTx }

type WipeDeviceParams struct{}

func (WipeDeviceParams) Tag() OperationTag { return OpWipeDevice }

type ResetDeviceParams struct {
	DisplayRandom bool
	StrengthBits  uint32
	PassphraseProtection bool
	PinProtection        bool
	Label                string
}

func (ResetDeviceParams) Tag() OperationTag { return OpResetDevice }

type LoadDeviceParams struct {
	Mnemonic             string
	Pin                  string
	PassphraseProtection bool
	Label                string
}

func (LoadDeviceParams) Tag() OperationTag { return OpLoadDevice }

type RecoveryDeviceParams struct {
	WordCount            uint32
	PassphraseProtection bool
	PinProtection        bool
	Label                string
}

func (RecoveryDeviceParams) Tag() OperationTag { return OpRecoveryDevice }

type ApplySettingsParams struct {
	Label            string
	Language          string
	UsePassphrase     *bool
	AutoLockDelayMs   uint32
}

func (ApplySettingsParams) Tag() OperationTag { return OpApplySettings }

type ChangePinParams struct{ Remove bool }

func (ChangePinParams) Tag() OperationTag { return OpChangePin }

type FirmwareEraseParams struct{}

func (FirmwareEraseParams) Tag() OperationTag { return OpFirmwareErase }

type FirmwareUploadParams struct {
	Payload      []byte
	ExpectedHash [32]byte
}

func (FirmwareUploadParams) Tag() OperationTag { return OpFirmwareUpload }

// SendMessageParams is the raw escape hatch: a caller-supplied message
// type and payload, bypassing typed params entirely.
type SendMessageParams struct {
	MessageType uint16
	Payload     []byte
}

func (SendMessageParams) Tag() OperationTag { return OpSendMessage }

// Command is a tagged request carrying its parameters and an enqueue
// timestamp. The one-shot reply channel used to deliver its Response is
// an implementation detail owned by the device actor that accepts it,
// not part of this public type.
type Command struct {
	RequestID  string
	DeviceID   string
	Params     Params
	EnqueuedAt time.Time
	Deadline   time.Time // zero means "use the transport's default deadline"
}

// NewCommand builds a Command for deviceID with a fresh request id.
func NewCommand(deviceID string, params Params) Command {
	return Command{
		RequestID:  uuid.NewString(),
		DeviceID:   deviceID,
		Params:     params,
		EnqueuedAt: time.Now(),
	}
}

// Response mirrors Command: (request_id, device_id, success,
// payload|error).
type Response struct {
	RequestID string
	DeviceID  string
	Success   bool
	Payload   interface{}
	Err       error
}

// QueueStatus answers get_queue_status(device_id).
type QueueStatus struct {
	QueueLength  int
	Processing   bool
	LastResponse *Response
}
