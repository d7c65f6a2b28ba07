//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/bleuart/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return darwin.NewDevice()
}

// CoreBluetooth addresses peripherals by identifier, the address type is not used.
func dialAddr(address string, _ device.AddressType) ble.Addr {
	return ble.NewAddr(address)
}
