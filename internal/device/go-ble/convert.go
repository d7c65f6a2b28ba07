package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleuart/internal/device"
)

// toUUID converts a go-ble UUID (little-endian bytes) into a device.UUID.
// 16- and 32-bit forms are expanded onto the Bluetooth base UUID.
func toUUID(u ble.UUID) device.UUID {
	id, err := device.ParseUUID(u.String())
	if err != nil {
		return device.UUID{}
	}
	return id
}

func toProperties(p ble.Property) device.Property {
	var out device.Property
	if p&ble.CharBroadcast != 0 {
		out |= device.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= device.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= device.PropWriteWithoutResponse
	}
	if p&ble.CharWrite != 0 {
		out |= device.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= device.PropIndicate
	}
	return out
}

// toCharacteristic snapshots c. A characteristic that can notify or indicate
// always carries a CCCD entry, even when the platform did not report one.
func toCharacteristic(c *ble.Characteristic) device.Characteristic {
	uuid := toUUID(c.UUID)
	out := device.Characteristic{
		UUID:       uuid,
		Handle:     c.ValueHandle,
		Properties: toProperties(c.Property),
	}

	hasCCCD := false
	for _, d := range c.Descriptors {
		du := toUUID(d.UUID)
		out.Descriptors = append(out.Descriptors, device.Descriptor{UUID: du, Handle: d.Handle, Characteristic: uuid})
		hasCCCD = hasCCCD || du == device.CCCDUUID
	}
	if !hasCCCD && c.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
		var handle uint16
		if c.CCCD != nil {
			handle = c.CCCD.Handle
		}
		out.Descriptors = append(out.Descriptors, device.Descriptor{UUID: device.CCCDUUID, Handle: handle, Characteristic: uuid})
	}
	return out
}
