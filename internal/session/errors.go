package session

import "fmt"

// ConnectError means the link could not be opened, or the transport claimed success
// but the link reports itself as not connected.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StreamError is any failure raised by the link after it was opened: subscribe,
// activation write or an unsolicited link drop.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s failed: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
