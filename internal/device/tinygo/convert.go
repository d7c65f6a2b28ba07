package tinygo

import (
	"github.com/srg/bleuart/internal/device"
	"tinygo.org/x/bluetooth"
)

func toUUID(u bluetooth.UUID) device.UUID {
	id, err := device.ParseUUID(u.String())
	if err != nil {
		return device.UUID{}
	}
	return id
}

// assumedProperties stands in for the property bits tinygo does not expose.
// The state machine only needs to know that the characteristic can notify
// and be written.
const assumedProperties = device.PropRead | device.PropWrite | device.PropWriteWithoutResponse | device.PropNotify

// toCharacteristic describes a tinygo characteristic. Descriptors are never
// enumerated by tinygo, so the CCCD entry is synthesized with handle 0.
func toCharacteristic(uuid device.UUID) device.Characteristic {
	return device.Characteristic{
		UUID:       uuid,
		Properties: assumedProperties,
		Descriptors: []device.Descriptor{
			{UUID: device.CCCDUUID, Characteristic: uuid},
		},
	}
}
