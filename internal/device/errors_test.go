package device_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/bleuart/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      *device.NotFoundError
		expected string
	}{
		{name: "bare", err: &device.NotFoundError{Resource: "service"}, expected: "service not found"},
		{name: "service", err: &device.NotFoundError{Resource: "service", UUIDs: []string{"ffe0"}}, expected: `service "ffe0" not found`},
		{
			name:     "rx characteristic in service",
			err:      &device.NotFoundError{Resource: "characteristic", Role: device.RoleRx, UUIDs: []string{"ffe0", "ffe1"}},
			expected: `rx characteristic "ffe1" not found in service "ffe0"`,
		},
		{
			name:     "descriptor in characteristic",
			err:      &device.NotFoundError{Resource: "descriptor", UUIDs: []string{"ffe1", "2902"}},
			expected: `descriptor "2902" not found in characteristic "ffe1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}

	assert.True(t, device.IsNotFound(fmt.Errorf("wrap: %w", &device.NotFoundError{Resource: "service"}), "service"))
	assert.False(t, device.IsNotFound(&device.NotFoundError{Resource: "service"}, "descriptor"))
}

func TestConnectionError_IsByState(t *testing.T) {
	err := fmt.Errorf("write: %w", &device.ConnectionError{State: device.NotReady, Msg: "phase connecting"})

	assert.ErrorIs(t, err, device.ErrNotReady, "ConnectionError MUST match sentinel by state")
	assert.NotErrorIs(t, err, device.ErrNotConnected)
	assert.True(t, device.IsConnectionState(err, device.NotReady))
	assert.Equal(t, "write: not_ready: phase connecting", err.Error())
}

func TestClassifyScanError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected device.ScanErrorKind
		isErr    error
	}{
		{
			name:     "darwin radio off",
			err:      errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expected: device.ScanRadioPoweredOff,
			isErr:    device.ErrBluetoothOff,
		},
		{name: "generic radio off", err: errors.New("Bluetooth is turned off"), expected: device.ScanRadioPoweredOff, isErr: device.ErrBluetoothOff},
		{name: "bluez not ready", err: errors.New("org.bluez.Error.NotReady: Resource Not Ready"), expected: device.ScanRadioPoweredOff},
		{name: "hci io error", err: errors.New("can't init hci: write: input/output error"), expected: device.ScanIoError},
		{name: "permission", err: errors.New("can't init hci: operation not permitted"), expected: device.ScanIoError},
		{name: "unknown", err: context.Canceled, expected: device.ScanUnknown, isErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := device.ClassifyScanError(tt.err)
			assert.Equal(t, tt.expected, se.Kind)
			if tt.isErr != nil {
				assert.ErrorIs(t, se, tt.isErr, "classification MUST preserve the error chain")
			}
		})
	}

	assert.Nil(t, device.ClassifyScanError(nil))
	already := &device.ScanError{Kind: device.ScanIoError}
	assert.Same(t, already, device.ClassifyScanError(fmt.Errorf("wrap: %w", already)), "ScanError MUST be returned unchanged")
}
