//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci"
	"github.com/srg/bleuart/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice()
}

func dialAddr(address string, addrType device.AddressType) ble.Addr {
	addr := ble.NewAddr(address)
	if addrType == device.RandomAddress {
		return hci.RandomAddress{Addr: addr}
	}
	return addr
}
