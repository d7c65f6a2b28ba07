//go:build !darwin && !linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/bleuart/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("go-ble backend: %w on this platform", device.ErrUnsupported)
}

func dialAddr(address string, _ device.AddressType) ble.Addr {
	return ble.NewAddr(address)
}
