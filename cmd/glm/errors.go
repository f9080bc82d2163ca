package main

import (
	"errors"
	"fmt"

	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/locator"
)

// Command-level errors
var (
	// ErrOutputStalled means the terminal stopped draining events and the printer
	// was dropped by the broadcaster.
	ErrOutputStalled = errors.New("output fell behind the event stream")
)

// FormatUserError turns internal errors into a one-line message with a hint where
// one helps.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var notFound *locator.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable; enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (Bluetooth LE is supported on Linux and macOS only)", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v; make sure the rangefinder is on and Bluetooth is enabled on it", notFound)
	default:
		return err.Error()
	}
}
