package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/metrics"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey/client"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/cmd/keepkeyctl/tui"
)

// CLI flags, `flag`-based exactly as cmd/driver/hasher-server/main.go
// and the original cmd/cli/main.go do it.
var (
	deviceFlag     = flag.String("device", "", "device id to target (see 'keepkeyctl devices')")
	opFlag         = flag.String("op", "", "operation: devices|ping|get-features|get-address|get-public-key|sign-tx|wipe|reset|load|recovery|apply-settings|change-pin|firmware-update|queue-status|force-reconnect|cache-snapshot|cache-load|id|host-metrics")
	pathFlag       = flag.String("path", "", "comma-separated BIP-32 derivation path, e.g. 2147483692,2147483648,2147483648,0,0")
	coinFlag       = flag.String("coin", "Bitcoin", "coin name")
	scriptTypeFlag = flag.String("script-type", "p2pkh", "address script type")
	displayFlag    = flag.Bool("display", false, "require on-device confirmation of the address")
	messageFlag    = flag.String("message", "", "ping message / raw payload (hex for sign-tx, load-device mnemonic, etc.)")
	labelFlag      = flag.String("label", "", "device label (reset-device, load-device, apply-settings)")
	pinFlag        = flag.String("pin", "", "PIN (load-device only; interactive PIN entry is used everywhere else)")
	firmwarePath   = flag.String("firmware", "", "path to firmware image (firmware-update)")
	snapshotPath   = flag.String("snapshot", "", "path to cache snapshot file (cache-snapshot, cache-load)")
	copyFlag       = flag.Bool("copy", false, "copy the device id to the clipboard (id)")
	timeoutFlag    = flag.Duration("timeout", 30*time.Second, "per-command timeout")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	c, err := client.New(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "keepkeyctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := run(ctx, c); err != nil {
		fmt.Fprintf(os.Stderr, "keepkeyctl: %v\n", err)
		os.Exit(kkerr.ExitCode(err))
	}
}

func run(ctx context.Context, c *client.Client) error {
	switch *opFlag {
	case "devices":
		return cmdDevices(c)
	case "id":
		return cmdID(c)
	case "queue-status":
		return cmdQueueStatus(c)
	case "force-reconnect":
		return c.ForceReconnect(ctx, *deviceFlag)
	case "cache-snapshot":
		return c.SnapshotCache(ctx, *deviceFlag, *snapshotPath)
	case "cache-load":
		return c.LoadCache(ctx, *deviceFlag, *snapshotPath)
	case "firmware-update":
		return cmdFirmwareUpdate(ctx, c)
	case "host-metrics":
		return cmdHostMetrics(ctx)
	}

	if *deviceFlag == "" {
		return fmt.Errorf("-device is required for -op=%s", *opFlag)
	}

	stopInteractions := driveInteractions(ctx, c, *deviceFlag)
	defer stopInteractions()

	resp, err := dispatch(ctx, c)
	if err != nil {
		return err
	}
	printResponse(resp)
	return nil
}

func dispatch(ctx context.Context, c *client.Client) (keepkey.Response, error) {
	switch *opFlag {
	case "ping":
		return c.Ping(ctx, *deviceFlag, *messageFlag)
	case "get-features":
		return c.GetFeatures(ctx, *deviceFlag)
	case "get-address":
		path, err := parsePath(*pathFlag)
		if err != nil {
			return keepkey.Response{}, err
		}
		return c.GetAddress(ctx, *deviceFlag, keepkey.GetAddressParams{Path: path, Coin: *coinFlag, ScriptType: *scriptTypeFlag, Display: *displayFlag})
	case "get-public-key":
		path, err := parsePath(*pathFlag)
		if err != nil {
			return keepkey.Response{}, err
		}
		return c.GetPublicKey(ctx, *deviceFlag, keepkey.GetPublicKeyParams{Path: path, Coin: *coinFlag, ScriptType: *scriptTypeFlag})
	case "sign-tx":
		raw, err := hex.DecodeString(*messageFlag)
		if err != nil {
			return keepkey.Response{}, fmt.Errorf("-message must be hex-encoded serialized tx: %w", err)
		}
		return c.SignTx(ctx, *deviceFlag, keepkey.SignTxParams{Coin: *coinFlag, SerializedTx: raw})
	case "wipe":
		return c.WipeDevice(ctx, *deviceFlag)
	case "reset":
		return c.ResetDevice(ctx, *deviceFlag, keepkey.ResetDeviceParams{Label: *labelFlag, StrengthBits: 256, PinProtection: true})
	case "load":
		return c.LoadDevice(ctx, *deviceFlag, keepkey.LoadDeviceParams{Mnemonic: *messageFlag, Pin: *pinFlag, Label: *labelFlag})
	case "recovery":
		return c.RecoveryDevice(ctx, *deviceFlag, keepkey.RecoveryDeviceParams{WordCount: 24, PinProtection: true, Label: *labelFlag})
	case "apply-settings":
		return c.ApplySettings(ctx, *deviceFlag, keepkey.ApplySettingsParams{Label: *labelFlag})
	case "change-pin":
		return c.ChangePin(ctx, *deviceFlag, keepkey.ChangePinParams{})
	default:
		return keepkey.Response{}, fmt.Errorf("unknown -op=%q", *opFlag)
	}
}

func cmdDevices(c *client.Client) error {
	for _, id := range c.Devices() {
		fmt.Println(id)
	}
	return nil
}

func cmdID(c *client.Client) error {
	if *deviceFlag == "" {
		return fmt.Errorf("-device is required for -op=id")
	}
	fmt.Println(*deviceFlag)
	if *copyFlag {
		if err := clipboard.WriteAll(*deviceFlag); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
	}
	return nil
}

func cmdQueueStatus(c *client.Client) error {
	if *deviceFlag == "" {
		return fmt.Errorf("-device is required for -op=queue-status")
	}
	status, err := c.GetQueueStatus(*deviceFlag)
	if err != nil {
		return err
	}
	fmt.Printf("queue_length=%d processing=%v\n", status.QueueLength, status.Processing)
	return nil
}

// cmdHostMetrics prints an on-demand host CPU/mem snapshot (spec §6:
// "metric snapshots may be emitted on demand"). It is process-wide, not
// per-device, so it needs no -device flag.
func cmdHostMetrics(ctx context.Context) error {
	snap, err := metrics.SampleHost(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cpu_percent=%.1f mem_used_bytes=%d mem_total_bytes=%d\n", snap.CPUPercent, snap.MemUsedBytes, snap.MemTotalBytes)
	return nil
}

func cmdFirmwareUpdate(ctx context.Context, c *client.Client) error {
	if *deviceFlag == "" || *firmwarePath == "" {
		return fmt.Errorf("-device and -firmware are required for -op=firmware-update")
	}
	payload, err := os.ReadFile(*firmwarePath)
	if err != nil {
		return fmt.Errorf("read firmware image: %w", err)
	}
	var expected [32]byte
	if *messageFlag != "" {
		sum, err := hex.DecodeString(*messageFlag)
		if err != nil || len(sum) != 32 {
			return fmt.Errorf("-message must be a 32-byte hex sha256 for firmware-update")
		}
		copy(expected[:], sum)
	}

	stopInteractions := driveInteractions(ctx, c, *deviceFlag)
	defer stopInteractions()

	return c.FirmwareUpdate(ctx, *deviceFlag, payload, expected)
}

// driveInteractions subscribes to the kernel-wide event bus and, for
// every pin/passphrase prompt addressed to deviceID, renders the tui
// prompt and resolves it; a button prompt gets a one-line console
// notice instead. The returned func unsubscribes and must be called
// once the command has returned.
func driveInteractions(ctx context.Context, c *client.Client, deviceID string) func() {
	events, unsub := c.SubscribeEvents()
	go func() {
		for ev := range events {
			if ev.DeviceID != deviceID {
				continue
			}
			switch ev.Kind {
			case eventbus.AwaitingPin:
				result, err := tui.RunPrompt(tui.NewPinPrompt(deviceID))
				if err != nil {
					continue
				}
				if result.Cancelled {
					c.PinCancel(deviceID, ev.RequestID)
					continue
				}
				c.PinSubmit(deviceID, ev.RequestID, result.Positions)
			case eventbus.AwaitingPass:
				result, err := tui.RunPrompt(tui.NewPassphrasePrompt(deviceID))
				if err != nil {
					continue
				}
				if result.Cancelled {
					c.PassphraseCancel(deviceID, ev.RequestID)
					continue
				}
				c.PassphraseSubmit(deviceID, ev.RequestID, result.Passphrase)
			case eventbus.AwaitingButton:
				// Button confirmation is a fire-and-forget notice
				// (the adapter auto-acks ButtonRequest on the wire; the
				// physical press the operator makes isn't something
				// this process can observe), so it gets a one-line
				// console notice rather than a blocking tui screen.
				fmt.Printf("confirm on device %s: %s\n", deviceID, ev.Label)
			}
		}
	}()
	return unsub
}

func printResponse(resp keepkey.Response) {
	switch v := resp.Payload.(type) {
	case string:
		fmt.Println(v)
	case []byte:
		fmt.Println(hex.EncodeToString(v))
	default:
		fmt.Printf("%+v\n", v)
	}
}

func parsePath(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	path := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -path component %q: %w", p, err)
		}
		path = append(path, uint32(n))
	}
	return path, nil
}
