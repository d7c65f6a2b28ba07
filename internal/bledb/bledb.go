// Package bledb holds a small table of well-known Bluetooth SIG and vendor UUIDs
// used to give services, characteristics and descriptors readable names in logs
// and CLI output.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// Kind is the category of a known UUID.
type Kind string

const (
	Service        Kind = "Service"
	Characteristic Kind = "Characteristic"
	Descriptor     Kind = "Descriptor"
)

type entry struct {
	name string
	kind Kind
}

var known = map[string]entry{
	// Services
	"1800": {"Generic Access", Service},
	"1801": {"Generic Attribute", Service},
	"180a": {"Device Information", Service},
	"180f": {"Battery Service", Service},
	"180d": {"Heart Rate", Service},
	"ffe0": {"HM-10 Serial", Service},
	"6e400001b5a3f393e0a9e50e24dcca9e": {"Nordic UART Service", Service},

	// Characteristics
	"2a00": {"Device Name", Characteristic},
	"2a01": {"Appearance", Characteristic},
	"2a05": {"Service Changed", Characteristic},
	"2a19": {"Battery Level", Characteristic},
	"2a24": {"Model Number String", Characteristic},
	"2a29": {"Manufacturer Name String", Characteristic},
	"2a37": {"Heart Rate Measurement", Characteristic},
	"ffe1": {"HM-10 Serial Data", Characteristic},
	"6e400002b5a3f393e0a9e50e24dcca9e": {"Nordic UART RX", Characteristic},
	"6e400003b5a3f393e0a9e50e24dcca9e": {"Nordic UART TX", Characteristic},

	// Descriptors
	"2900": {"Characteristic Extended Properties", Descriptor},
	"2901": {"Characteristic User Description", Descriptor},
	"2902": {"Client Characteristic Configuration", Descriptor},
	"2903": {"Server Characteristic Configuration", Descriptor},
	"2904": {"Characteristic Presentation Format", Descriptor},
}

// NormalizeUUID converts a UUID string to the lookup form: lowercase, no dashes,
// braces or 0x prefix. Full UUIDs on the SIG base are reduced to their 16-bit form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes every UUID in the slice.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// Lookup returns the known name of a UUID regardless of its kind, or "".
func Lookup(uuid string) string {
	return known[NormalizeUUID(uuid)].name
}

func lookupKind(uuid string, kind Kind) string {
	e, ok := known[NormalizeUUID(uuid)]
	if !ok || e.kind != kind {
		return ""
	}
	return e.name
}

// LookupService returns the name of a known service UUID.
func LookupService(uuid string) string { return lookupKind(uuid, Service) }

// LookupCharacteristic returns the name of a known characteristic UUID.
func LookupCharacteristic(uuid string) string { return lookupKind(uuid, Characteristic) }

// LookupDescriptor returns the name of a known descriptor UUID.
func LookupDescriptor(uuid string) string { return lookupKind(uuid, Descriptor) }
