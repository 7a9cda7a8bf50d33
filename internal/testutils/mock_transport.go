package testutils

import (
	"context"
	"time"

	"github.com/srg/myoctl/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport.
//
// Scan windows are scripted with On("Scan", ...). When Connect is expected to
// succeed, return a *FakeConnection; the notification handler passed to Connect
// is attached to it so tests can inject notifications.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Scan(ctx context.Context, window time.Duration) ([]device.Advertisement, error) {
	args := m.Called(ctx, window)
	advs, _ := args.Get(0).([]device.Advertisement)
	if err := args.Error(1); err != nil {
		return nil, err
	}

	// Like a real backend, a window lasts until it elapses or ctx ends.
	if window > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(window):
		}
	}
	return advs, nil
}

func (m *MockTransport) Connect(ctx context.Context, address string, handler device.NotificationHandler) (device.Connection, error) {
	args := m.Called(ctx, address, handler)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	conn := args.Get(0).(device.Connection)
	if fake, ok := conn.(*FakeConnection); ok {
		fake.attach(address, handler)
	}
	return conn, nil
}

// ScanReturning is a helper for the common "each window returns advs" expectation.
func (m *MockTransport) ScanReturning(advs ...device.Advertisement) *mock.Call {
	return m.On("Scan", mock.Anything, mock.Anything).Return(advs, nil)
}
