package device_test

import (
	"testing"

	"github.com/srg/bleuart/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "16-bit short form", input: "ffe0", expected: "0000ffe0-0000-1000-8000-00805f9b34fb"},
		{name: "16-bit with 0x prefix", input: "0x2902", expected: "00002902-0000-1000-8000-00805f9b34fb"},
		{name: "32-bit short form", input: "0001ffe0", expected: "0001ffe0-0000-1000-8000-00805f9b34fb"},
		{name: "full dashed", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "full undashed", input: "6e400001b5a3f393e0a9e50e24dcca9e", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "braces", input: "{0000ffe1-0000-1000-8000-00805f9b34fb}", expected: "0000ffe1-0000-1000-8000-00805f9b34fb"},
		{name: "invalid hex", input: "zzzz", wantErr: true},
		{name: "wrong length", input: "12345", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := device.ParseUUID(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "malformed UUID MUST be rejected")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestUUID_ShortAndKnownName(t *testing.T) {
	assert.Equal(t, "2902", device.CCCDUUID.Short())
	assert.Equal(t, "Client Characteristic Configuration", device.CCCDUUID.KnownName())
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", device.NordicUARTProfile.Service.Short())
	assert.True(t, device.UUID{}.IsZero())
	assert.False(t, device.CCCDUUID.IsZero())
}

func TestUUID_TextRoundTrip(t *testing.T) {
	var u device.UUID
	require.NoError(t, u.UnmarshalText([]byte("ffe1")))
	assert.Equal(t, device.UUID16(0xffe1), u)

	b, err := u.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0000ffe1-0000-1000-8000-00805f9b34fb", string(b))
}

func TestRoleTable(t *testing.T) {
	t.Run("shared rx and tx", func(t *testing.T) {
		table := device.NewRoleTable(device.HM10Profile)

		assert.True(t, device.HM10Profile.SharedRxTx())
		assert.Equal(t, device.RoleTargetService, table.Roles(device.UUID16(0xffe0)))
		assert.Equal(t, device.RoleRx|device.RoleTx, table.Roles(device.UUID16(0xffe1)), "shared characteristic MUST carry both roles")
		assert.Equal(t, device.Role(0), table.Roles(device.UUID16(0x2a00)))
	})

	t.Run("distinct rx and tx", func(t *testing.T) {
		table := device.NewRoleTable(device.NordicUARTProfile)

		assert.False(t, device.NordicUARTProfile.SharedRxTx())
		assert.True(t, table.Is(device.NordicUARTProfile.Rx, device.RoleRx))
		assert.False(t, table.Is(device.NordicUARTProfile.Rx, device.RoleTx), "rx MUST NOT be treated as tx")
		assert.True(t, table.Is(device.NordicUARTProfile.Tx, device.RoleTx))
		assert.Equal(t, "rx", table.Roles(device.NordicUARTProfile.Rx).String())
	})
}
