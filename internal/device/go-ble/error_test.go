package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/glmlink/internal/device"
	"github.com/stretchr/testify/suite"
)

type NormalizeErrorTestSuite struct {
	suite.Suite
}

func (suite *NormalizeErrorTestSuite) TestNormalizeError_MapsKnownMessages() {
	// GOAL: Verify platform-specific go-ble errors are normalized to standard sentinel errors
	//
	// TEST SCENARIO: raw error text → NormalizeError → error chain carries sentinel and original text

	tests := []struct {
		name          string
		raw           error
		expectIsError error
		expectMessage string
	}{
		{
			name:          "normalizes darwin Bluetooth off error",
			raw:           fmt.Errorf("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectIsError: device.ErrBluetoothOff,
			expectMessage: "bluetooth is turned off",
		},
		{
			name:          "normalizes linux hci init failure",
			raw:           fmt.Errorf("can't init hci: no devices available"),
			expectIsError: device.ErrBluetoothOff,
			expectMessage: "can't init hci",
		},
		{
			name:          "normalizes device not connected",
			raw:           fmt.Errorf("device not connected"),
			expectIsError: device.ErrNotConnected,
			expectMessage: "not_connected",
		},
		{
			name:          "normalizes disconnected",
			raw:           fmt.Errorf("peripheral disconnected"),
			expectIsError: device.ErrNotConnected,
			expectMessage: "peripheral disconnected",
		},
		{
			name:          "normalizes already connected",
			raw:           fmt.Errorf("device already connected"),
			expectIsError: device.ErrAlreadyConnected,
			expectMessage: "already_connected",
		},
		{
			name:          "passes through context canceled",
			raw:           context.Canceled,
			expectIsError: context.Canceled,
			expectMessage: "context canceled",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := NormalizeError(tt.raw)
			suite.Error(err)
			suite.Contains(err.Error(), tt.expectMessage, "error message MUST contain expected text")
			suite.ErrorIs(err, tt.expectIsError, "error chain MUST contain expected sentinel error")
		})
	}
}

func (suite *NormalizeErrorTestSuite) TestNormalizeError_PassThrough() {
	suite.NoError(NormalizeError(nil), "nil MUST stay nil")

	other := errors.New("some other error")
	err := NormalizeError(other)
	suite.Same(other, err, "unknown errors MUST be returned unchanged")
	suite.NotErrorIs(err, device.ErrBluetoothOff)
	suite.NotErrorIs(err, device.ErrNotConnected)
}

func TestNormalizeErrorTestSuite(t *testing.T) {
	suite.Run(t, new(NormalizeErrorTestSuite))
}
