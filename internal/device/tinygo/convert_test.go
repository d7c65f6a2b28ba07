package tinygo

import (
	"testing"

	"github.com/srg/bleuart/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestToUUID(t *testing.T) {
	u, err := bluetooth.ParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, device.NordicUARTProfile.Service, toUUID(u))

	assert.Equal(t, device.UUID16(0xffe0), toUUID(bluetooth.New16BitUUID(0xffe0)))
}

func TestToCharacteristic_SynthesizesCCCD(t *testing.T) {
	c := toCharacteristic(device.UUID16(0xffe1))

	cccd, ok := c.Descriptor(device.CCCDUUID)
	require.True(t, ok, "every tinygo characteristic MUST expose a CCCD")
	assert.Equal(t, device.UUID16(0xffe1), cccd.Characteristic)
	assert.NotZero(t, c.Properties&device.PropNotify)
}
