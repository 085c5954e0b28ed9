// Package client is the in-process Go client surface of the device
// access kernel (spec §6's "Command surface exposed to consumers"). It
// lives in its own package, separate from pkg/keepkey's public types,
// because the kernel's internal packages (registry, actor, usbhid)
// import pkg/keepkey for those types — wiring them together here
// instead of inside pkg/keepkey itself avoids an import cycle while
// keeping the same public surface the specification describes.
package client

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/actor"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/config"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/eventbus"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/interaction"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/kkerr"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/metrics"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/registry"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/transport/bulkusb"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/transport/hidusb"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/update"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/usbhid"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

// Client is the single entry point a GUI shell, RPC server, or CLI
// links against instead of touching transports, registries, or actors
// directly (spec §1).
type Client struct {
	cfg      config.KernelConfig
	bus      *eventbus.Bus
	coord    *interaction.Coordinator
	registry *registry.Registry
	manager  *usbhid.Manager
	updater  *update.Orchestrator
	bulk     *bulkusb.Transport
	logger   *log.Logger

	cancel context.CancelFunc
}

// New constructs a Client wired with the real bulk-USB and HID
// transports and starts its hotplug manager and registry loop.
func New(ctx context.Context) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("client: load config: %w", err)
	}

	logger := log.Default()
	bus := eventbus.New()
	coord := interaction.New(bus)
	metricsReg := metrics.NewRegistry()

	platform := usbhid.DetectPlatform()
	bulkT := bulkusb.New()
	hidT := hidusb.New(platform.FIDOFiltered())

	reg := registry.New(bulkT, hidT, platform, coord, bus, metricsReg, logger)
	mgr := usbhid.New(platform)

	runCtx, cancel := context.WithCancel(ctx)
	go mgr.Run(runCtx)
	go reg.Run(runCtx, mgr)

	c := &Client{
		cfg:      *cfg,
		bus:      bus,
		coord:    coord,
		registry: reg,
		manager:  mgr,
		updater:  update.New(bus),
		bulk:     bulkT,
		logger:   logger,
		cancel:   cancel,
	}
	return c, nil
}

// Close stops the hotplug manager and registry loop and releases the
// bulk-USB context.
func (c *Client) Close() error {
	c.cancel()
	c.bus.Close()
	return c.bulk.Close()
}

// SubscribeEvents returns the kernel-wide event stream (spec §6).
func (c *Client) SubscribeEvents() (<-chan eventbus.Event, func()) {
	return c.bus.Subscribe()
}

// Devices lists the ids of every currently registered device.
func (c *Client) Devices() []string {
	return c.registry.Identities()
}

func (c *Client) handle(deviceID string) (*actor.Actor, error) {
	h, ok := c.registry.Handle(deviceID)
	if !ok {
		return nil, kkerr.New(deviceID, kkerr.KindNoDevice, fmt.Errorf("no such device: %s", deviceID))
	}
	return h, nil
}

// Submit enqueues any typed Params against deviceID and returns its
// Response, the generic form every typed helper below delegates to.
func (c *Client) Submit(ctx context.Context, deviceID string, params keepkey.Params) (keepkey.Response, error) {
	h, err := c.handle(deviceID)
	if err != nil {
		return keepkey.Response{}, err
	}
	return h.Submit(ctx, keepkey.NewCommand(deviceID, params))
}

func (c *Client) Ping(ctx context.Context, deviceID, message string) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, keepkey.PingParams{Message: message})
}

func (c *Client) GetFeatures(ctx context.Context, deviceID string) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, keepkey.GetFeaturesParams{})
}

func (c *Client) GetAddress(ctx context.Context, deviceID string, p keepkey.GetAddressParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) GetPublicKey(ctx context.Context, deviceID string, p keepkey.GetPublicKeyParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) SignTx(ctx context.Context, deviceID string, p keepkey.SignTxParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) WipeDevice(ctx context.Context, deviceID string) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, keepkey.WipeDeviceParams{})
}

func (c *Client) ResetDevice(ctx context.Context, deviceID string, p keepkey.ResetDeviceParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) LoadDevice(ctx context.Context, deviceID string, p keepkey.LoadDeviceParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) RecoveryDevice(ctx context.Context, deviceID string, p keepkey.RecoveryDeviceParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) ApplySettings(ctx context.Context, deviceID string, p keepkey.ApplySettingsParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) ChangePin(ctx context.Context, deviceID string, p keepkey.ChangePinParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

func (c *Client) SendMessage(ctx context.Context, deviceID string, p keepkey.SendMessageParams) (keepkey.Response, error) {
	return c.Submit(ctx, deviceID, p)
}

// PinSubmit answers an open PIN interaction with scrambled-matrix
// positions (spec §6's pin_submit).
func (c *Client) PinSubmit(deviceID, requestID string, positions []int) error {
	return c.coord.SubmitPin(deviceID, requestID, positions)
}

// PinCancel aborts an open PIN interaction (spec §6's pin_cancel).
func (c *Client) PinCancel(deviceID, requestID string) error {
	return c.coord.Cancel(deviceID, requestID)
}

// PassphraseSubmit answers an open passphrase interaction (spec §6's
// passphrase_submit).
func (c *Client) PassphraseSubmit(deviceID, requestID, passphrase string) error {
	return c.coord.SubmitPassphrase(deviceID, requestID, passphrase)
}

// PassphraseCancel aborts an open passphrase interaction (spec §6's
// passphrase_cancel).
func (c *Client) PassphraseCancel(deviceID, requestID string) error {
	return c.coord.Cancel(deviceID, requestID)
}

// ForceReconnect closes and reopens deviceID's transport session
// (spec §6's force_reconnect).
func (c *Client) ForceReconnect(ctx context.Context, deviceID string) error {
	h, err := c.handle(deviceID)
	if err != nil {
		return err
	}
	return h.ForceReconnect(ctx)
}

// GetQueueStatus reports deviceID's current queue depth (spec §6's
// get_queue_status).
func (c *Client) GetQueueStatus(deviceID string) (keepkey.QueueStatus, error) {
	h, err := c.handle(deviceID)
	if err != nil {
		return keepkey.QueueStatus{}, err
	}
	return h.QueueStatus(), nil
}

// SnapshotCache writes deviceID's in-memory response cache to path,
// the optional disk-backed cache snapshot named in spec §1.
func (c *Client) SnapshotCache(ctx context.Context, deviceID, path string) error {
	h, err := c.handle(deviceID)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("client: create cache snapshot: %w", err)
	}
	defer f.Close()
	return h.SnapshotCache(ctx, f)
}

// LoadCache restores deviceID's response cache from a snapshot
// previously written by SnapshotCache.
func (c *Client) LoadCache(ctx context.Context, deviceID, path string) error {
	h, err := c.handle(deviceID)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("client: open cache snapshot: %w", err)
	}
	defer f.Close()
	return h.LoadCache(ctx, f)
}

// FirmwareUpdate drives a full bootloader/firmware update against
// deviceID (spec §4.7). The device must already report
// Features.BootloaderMode == true.
func (c *Client) FirmwareUpdate(ctx context.Context, deviceID string, payload []byte, expectedHash [32]byte) error {
	h, err := c.handle(deviceID)
	if err != nil {
		return err
	}
	return c.updater.Run(ctx, deviceID, h, payload, expectedHash)
}
