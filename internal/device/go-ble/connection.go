package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// BLELink is a live connection to one peripheral. Characteristics are resolved
// once at dial time from the discovered profile.
type BLELink struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	connMutex   sync.RWMutex
	writeMutex  sync.Mutex
	isConnected bool

	chars      map[string]*ble.Characteristic // normalized UUID -> characteristic
	subscribed map[string]bool                // normalized UUID -> indicate mode

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func dialLink(ctx context.Context, dev ble.Device, address string, logger *logrus.Logger) (*BLELink, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := discoverProfile(ctx, client)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	l := &BLELink{
		client:      client,
		address:     address,
		logger:      logger,
		isConnected: true,
		chars:       make(map[string]*ble.Characteristic),
		subscribed:  make(map[string]bool),
	}
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			l.chars[device.NormalizeUUID(char.UUID.String())] = char
		}
	}

	// The link context is independent of the dial context: ctx only bounds the dial.
	l.ctx, l.cancel = context.WithCancelCause(context.Background())

	// Monitor go-ble client Disconnected() channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(l.ctx, "ble-link-monitor", func(monitorCtx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", address).Warn("Peripheral reported disconnection")
				l.markDisconnected(device.ErrNotConnected)
			case <-monitorCtx.Done():
			}
		})
	} else {
		l.logger.Debug("Client does not expose Disconnected(); link drops surface through I/O errors only")
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(l.chars),
	}).Info("BLE device connected")
	return l, nil
}

type discovery struct {
	profile *ble.Profile
	err     error
}

// discoverProfile bounds profile discovery by ctx; go-ble offers no cancellation
// for it, so a stalled discovery is abandoned and released by CancelConnection.
func discoverProfile(ctx context.Context, client ble.Client) (*ble.Profile, error) {
	result := make(chan discovery, 1)
	groutine.Go(ctx, "ble-profile-discovery", func(context.Context) {
		p, err := client.DiscoverProfile(true)
		result <- discovery{profile: p, err: err}
	})

	select {
	case r := <-result:
		return r.profile, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", device.ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (l *BLELink) markDisconnected(cause error) {
	l.connMutex.Lock()
	l.isConnected = false
	l.connMutex.Unlock()
	l.cancel(cause)
}

func (l *BLELink) Address() string { return l.address }

func (l *BLELink) IsConnected() bool {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return l.isConnected && l.client != nil
}

// ConnectionContext is cancelled when the link drops or is disconnected.
func (l *BLELink) ConnectionContext() context.Context {
	return l.ctx
}

func (l *BLELink) liveClient() (ble.Client, error) {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	if !l.isConnected || l.client == nil {
		return nil, device.ErrNotConnected
	}
	return l.client, nil
}

func (l *BLELink) characteristic(uuid string) (*ble.Characteristic, error) {
	char, ok := l.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return char, nil
}

// Subscribe enables notifications (or indications when notify is not supported).
func (l *BLELink) Subscribe(charUUID string, handler func([]byte)) error {
	client, err := l.liveClient()
	if err != nil {
		return err
	}
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications: %w", charUUID, device.ErrUnsupported)
	}

	indicate := char.Property&ble.CharNotify == 0
	if err := client.Subscribe(char, indicate, handler); err != nil {
		err = NormalizeError(err)
		l.dropIfGone(err)
		return err
	}

	l.connMutex.Lock()
	l.subscribed[device.NormalizeUUID(charUUID)] = indicate
	l.connMutex.Unlock()

	l.logger.WithFields(logrus.Fields{
		"char_uuid": charUUID,
		"indicate":  indicate,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

func (l *BLELink) Unsubscribe(charUUID string) error {
	key := device.NormalizeUUID(charUUID)

	l.connMutex.Lock()
	indicate, ok := l.subscribed[key]
	delete(l.subscribed, key)
	client := l.client
	l.connMutex.Unlock()

	if !ok {
		return nil
	}
	if client == nil {
		return device.ErrNotConnected
	}
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	return NormalizeError(client.Unsubscribe(char, indicate))
}

// Write sends data in a single ATT operation. Payloads in this protocol are far below
// the 20-byte minimum MTU so no chunking is done.
func (l *BLELink) Write(charUUID string, data []byte, withResponse bool) error {
	client, err := l.liveClient()
	if err != nil {
		return err
	}
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	if err := client.WriteCharacteristic(char, data, !withResponse); err != nil {
		err = NormalizeError(err)
		l.dropIfGone(err)
		return fmt.Errorf("failed to write to characteristic %s: %w", charUUID, err)
	}

	l.logger.WithFields(logrus.Fields{
		"char_uuid": charUUID,
		"bytes":     len(data),
		"ack":       withResponse,
	}).Debug("Wrote characteristic")
	return nil
}

func (l *BLELink) dropIfGone(err error) {
	if device.IsConnectionState(err, device.NotConnected) {
		l.markDisconnected(err)
	}
}

// Disconnect cancels the link context and closes the connection. Safe to call twice.
func (l *BLELink) Disconnect() error {
	l.connMutex.Lock()
	client := l.client
	l.client = nil
	l.isConnected = false
	l.connMutex.Unlock()

	l.cancel(nil)

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected")
	return nil
}
