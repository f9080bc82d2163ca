package testutils

import (
	"context"
	"sync"

	"github.com/srg/glmlink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockConnector is a testify mock for device.Connector.
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Dial(ctx context.Context, address string) (device.Link, error) {
	args := m.Called(ctx, address)
	link, _ := args.Get(0).(device.Link)
	return link, args.Error(1)
}

// MockLink is a testify mock for device.Link. The notification handler passed to
// Subscribe is captured so tests can push payloads with Notify, and Drop simulates
// the peripheral going away.
type MockLink struct {
	mock.Mock

	address string
	ctx     context.Context
	cancel  context.CancelCauseFunc

	mu      sync.Mutex
	handler func([]byte)
}

func NewMockLink(address string) *MockLink {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &MockLink{address: address, ctx: ctx, cancel: cancel}
}

func (m *MockLink) Address() string { return m.address }

func (m *MockLink) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockLink) ConnectionContext() context.Context { return m.ctx }

func (m *MockLink) Subscribe(charUUID string, handler func([]byte)) error {
	args := m.Called(charUUID, handler)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MockLink) Unsubscribe(charUUID string) error {
	return m.Called(charUUID).Error(0)
}

func (m *MockLink) Write(charUUID string, data []byte, withResponse bool) error {
	return m.Called(charUUID, data, withResponse).Error(0)
}

func (m *MockLink) Disconnect() error {
	m.cancel(nil)
	return m.Called().Error(0)
}

// Notify delivers payload to the subscribed handler. It reports false when nothing
// is subscribed yet.
func (m *MockLink) Notify(payload []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Subscribed reports whether a handler has been captured.
func (m *MockLink) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// Drop cancels the connection context as if the peripheral disconnected.
func (m *MockLink) Drop(cause error) {
	if cause == nil {
		cause = device.ErrNotConnected
	}
	m.cancel(cause)
}
