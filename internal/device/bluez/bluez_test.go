package bluez

import (
	"context"
	"errors"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/bleuart/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapterProps(addr string, powered bool) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Address": dbus.MakeVariant(addr),
		"Alias":   dbus.MakeVariant("hci"),
		"Powered": dbus.MakeVariant(powered),
	}
}

func TestAdaptersFrom_SkipsNonAdapters(t *testing.T) {
	objs := managedObjects{
		"/org/bluez/hci1": {adapterIface: adapterProps("00:00:00:00:00:02", true)},
		"/org/bluez/hci0": {adapterIface: adapterProps("00:00:00:00:00:01", false)},
		"/org/bluez/hci0/dev_AA": {
			"org.bluez.Device1": {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
		},
	}

	adapters := adaptersFrom(objs)

	require.Len(t, adapters, 2, "device objects MUST NOT be reported as adapters")
	assert.Equal(t, "/org/bluez/hci0", adapters[0].Path, "adapters MUST be sorted by path")
	assert.Equal(t, "00:00:00:00:00:01", adapters[0].Address)
	assert.False(t, adapters[0].Powered)
	assert.True(t, adapters[1].Powered)
}

func TestCheckPowered(t *testing.T) {
	assert.True(t, device.IsNotFound(checkPowered(nil), "adapter"))
	assert.NoError(t, checkPowered([]Adapter{{Path: "a"}, {Path: "b", Powered: true}}))

	err := checkPowered([]Adapter{{Path: "/org/bluez/hci0"}})
	assert.ErrorIs(t, err, device.ErrBluetoothOff)
	assert.Contains(t, err.Error(), "hci0")
}

func TestRefine_KeepsErrorWhenBusUnavailable(t *testing.T) {
	orig := BusFactory
	BusFactory = func() (*dbus.Conn, error) { return nil, errors.New("no system bus") }
	defer func() { BusFactory = orig }()

	cause := errors.New("hci: opaque failure")
	assert.Same(t, cause, Refine(context.Background(), cause), "probe failure MUST leave the error untouched")
	assert.NoError(t, Refine(context.Background(), nil))
}
