// Package device defines the transport capabilities the rangefinder link is built on.
//
// Nothing here talks to a radio. The package provides:
//   - Scanner: advertisement discovery
//   - Connector and Link: one open connection with notify, acknowledged write and teardown
//   - Connection-state errors shared by every transport implementation
//   - UUID normalization so characteristic lookups are format-independent
//
// The go-ble subpackage implements these interfaces on top of github.com/go-ble/ble.
package device
