package device

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError represents an error when a GATT resource is not found on the peer
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [charUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth is turned off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the subset of a BLE advertisement the locator needs.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// Scanner discovers nearby devices. Scan blocks until ctx is done or the radio fails;
// handler may be invoked from transport goroutines.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Connector opens links to devices by address.
type Connector interface {
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is one open connection to a peripheral.
//
// ConnectionContext is cancelled when the link drops; context.Cause reports why.
type Link interface {
	Address() string
	IsConnected() bool
	ConnectionContext() context.Context

	// Subscribe enables notifications on charUUID. handler is called on a transport
	// goroutine and must not block.
	Subscribe(charUUID string, handler func([]byte)) error
	Unsubscribe(charUUID string) error

	// Write sends data to charUUID; withResponse selects an acknowledged write.
	Write(charUUID string, data []byte, withResponse bool) error

	Disconnect() error
}

// Descriptor is a located device. Name may be empty: some platforms never
// surface the advertised name.
type Descriptor struct {
	Name    string
	Address string
}

func (d Descriptor) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}
