// Package bluez asks BlueZ over the D-Bus system bus whether a Bluetooth
// adapter is present and powered. The platform backends report a powered-off
// radio as an opaque error on Linux; the probe turns that into ErrBluetoothOff.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/bleuart/internal/device"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// Adapter is the subset of org.bluez.Adapter1 the probe reads.
type Adapter struct {
	Path    string
	Address string
	Name    string
	Powered bool
}

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BusFactory opens the system bus (can be overridden in tests)
//
//nolint:revive // BusFactory name is intentional for test mocking
var BusFactory = dbus.SystemBus

// Adapters lists the BlueZ adapters sorted by object path.
func Adapters(ctx context.Context) ([]Adapter, error) {
	bus, err := BusFactory()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	var objs managedObjects
	call := bus.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return adaptersFrom(objs), nil
}

func adaptersFrom(objs managedObjects) []Adapter {
	var out []Adapter
	for path, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		a := Adapter{Path: string(path)}
		if v, ok := props["Address"].Value().(string); ok {
			a.Address = v
		}
		if v, ok := props["Alias"].Value().(string); ok {
			a.Name = v
		}
		if v, ok := props["Powered"].Value().(bool); ok {
			a.Powered = v
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CheckPowered returns nil when at least one adapter is powered,
// ErrBluetoothOff when adapters exist but none is, and a NotFoundError
// when BlueZ knows no adapter at all.
func CheckPowered(ctx context.Context) error {
	adapters, err := Adapters(ctx)
	if err != nil {
		return err
	}
	return checkPowered(adapters)
}

func checkPowered(adapters []Adapter) error {
	if len(adapters) == 0 {
		return &device.NotFoundError{Resource: "adapter"}
	}
	for _, a := range adapters {
		if a.Powered {
			return nil
		}
	}
	return fmt.Errorf("%w: adapter %s is powered off", device.ErrBluetoothOff, adapters[0].Path)
}

// Refine replaces an unclassified platform error with ErrBluetoothOff when
// the probe confirms the radio is off. Any probe failure leaves err as is.
func Refine(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if probe := CheckPowered(ctx); errors.Is(probe, device.ErrBluetoothOff) {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return err
}
