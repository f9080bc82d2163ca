package goble

import (
	"context"
	"fmt"
	"sync"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/device"
)

// Adapter owns the platform radio and serves both scanning and dialing.
// The radio is created on first use so that commands which never touch
// Bluetooth do not need it.
type Adapter struct {
	logger *logrus.Logger

	once sync.Once
	dev  ble.Device
	err  error
}

// NewAdapter creates an Adapter backed by DeviceFactory.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) radio() (ble.Device, error) {
	a.once.Do(func() {
		a.dev, a.err = DeviceFactory()
		if a.err != nil {
			a.err = fmt.Errorf("failed to create BLE device: %w", NormalizeError(a.err))
		}
	})
	return a.dev, a.err
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := a.radio()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	if err := dev.Scan(ctx, allowDup, bleHandler); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to address, discovers its profile and returns a live link.
// ctx bounds the connect and discovery phase only; the link outlives it.
func (a *Adapter) Dial(ctx context.Context, address string) (device.Link, error) {
	dev, err := a.radio()
	if err != nil {
		return nil, err
	}
	link, err := dialLink(ctx, dev, address, a.logger)
	if err != nil {
		return nil, err
	}
	return link, nil
}
