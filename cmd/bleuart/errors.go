package main

import (
	"errors"
	"fmt"

	"github.com/srg/bleuart/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError renders err for the terminal, adding a hint for the
// conditions a user can fix.
func FormatUserError(err error) string {
	var se *device.ScanError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v\nHint: turn Bluetooth on and make sure the adapter is not blocked (rfkill list)", err)
	case errors.Is(err, device.ErrConnectTimeout):
		return fmt.Sprintf("%v\nHint: the device may be out of range or connected to another host", err)
	case device.IsNotFound(err, "service"), device.IsNotFound(err, "characteristic"):
		return fmt.Sprintf("%v\nHint: check the UART profile (--preset, --service, --rx, --tx)", err)
	case device.IsNotFound(err, "device"):
		return fmt.Sprintf("%v\nHint: run 'bleuart scan' to list nearby devices", err)
	case errors.As(err, &se) && se.Kind == device.ScanIoError:
		return fmt.Sprintf("%v\nHint: scanning may require elevated privileges (CAP_NET_ADMIN)", err)
	case errors.Is(err, ErrConnectionLost), errors.Is(err, device.ErrRemoteClosed):
		return fmt.Sprintf("%v\nHint: the device closed the connection or went out of range", err)
	}
	return err.Error()
}
