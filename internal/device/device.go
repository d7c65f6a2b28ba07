package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tag identifies one scan pass or one connection context. Tags are issued in
// increasing order and an event carrying an older tag than the current one is stale.
type Tag uint64

// Capability is the set of advertised transport flags of a peripheral.
type Capability uint8

const (
	CapLowEnergy Capability = 1 << iota
	CapClassic
)

func (c Capability) String() string {
	var parts []string
	if c&CapLowEnergy != 0 {
		parts = append(parts, "le")
	}
	if c&CapClassic != 0 {
		parts = append(parts, "classic")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Record is an immutable snapshot of one discovered peripheral.
type Record struct {
	name         string
	address      string
	rssi         int
	capabilities Capability
}

// NewRecord creates a Record.
func NewRecord(name, address string, rssi int, caps Capability) Record {
	return Record{name: name, address: address, rssi: rssi, capabilities: caps}
}

func (r Record) Name() string             { return r.name }
func (r Record) Address() string          { return r.address }
func (r Record) RSSI() int                { return r.rssi }
func (r Record) Capabilities() Capability { return r.capabilities }
func (r Record) IsLowEnergy() bool        { return r.capabilities&CapLowEnergy != 0 }

func (r Record) String() string {
	return fmt.Sprintf("%s [%s] rssi=%d", r.name, r.address, r.rssi)
}

// MarshalJSON renders the record for `bleuart scan --format json`.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string `json:"name"`
		Address   string `json:"address"`
		RSSI      int    `json:"rssi"`
		LowEnergy bool   `json:"low_energy"`
	}{r.name, r.address, r.rssi, r.IsLowEnergy()})
}

// AddressType selects the LE address type used when dialling a peripheral.
type AddressType int

const (
	PublicAddress AddressType = iota
	RandomAddress
)

func (t AddressType) String() string {
	if t == RandomAddress {
		return "random"
	}
	return "public"
}

// Property is the GATT characteristic property bitfield as sent on the wire.
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

func (p Property) String() string {
	var parts []string
	for _, n := range propertyNames {
		if p&n.p != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Descriptor identifies one GATT descriptor. Descriptors are compared by value.
type Descriptor struct {
	UUID           UUID
	Handle         uint16
	Characteristic UUID
}

// Characteristic is a discovered characteristic of an opened service.
type Characteristic struct {
	UUID        UUID
	Handle      uint16
	Properties  Property
	Descriptors []Descriptor
}

// Descriptor returns the first descriptor with the given UUID.
func (c Characteristic) Descriptor(uuid UUID) (Descriptor, bool) {
	for _, d := range c.Descriptors {
		if d.UUID == uuid {
			return d, true
		}
	}
	return Descriptor{}, false
}

// WriteMode selects between acknowledged and fire-and-forget characteristic writes.
type WriteMode int

const (
	WriteWithoutResponse WriteMode = iota
	WriteWithResponse
)

// ScanOptions bounds one discovery pass.
type ScanOptions struct {
	Timeout       time.Duration
	LowEnergyOnly bool
}

// Emitter posts a platform event onto the client event loop. It must be safe to
// call from any goroutine and must not block for long.
type Emitter func(Event)

// Central is the platform radio. Every method returns immediately; outcomes are
// reported through the Emitter the Central was created with.
type Central interface {
	// Scan starts a discovery pass. DeviceDiscovered events follow, then exactly
	// one ScanFinished or ScanFailed, all carrying tag.
	Scan(tag Tag, opts ScanOptions)
	// StopScan cancels the pass identified by tag, if still running.
	StopScan(tag Tag)
	// Connect dials address and reports Connected, LinkFailed or Disconnected under tag.
	Connect(tag Tag, address string, addrType AddressType) Link
	// Close releases the radio.
	Close() error
}

// Link is one connection attempt or established connection.
type Link interface {
	Tag() Tag
	// DiscoverServices reports ServiceFound for each primary service followed
	// by ServiceDiscoveryFinished.
	DiscoverServices()
	// OpenService instantiates the platform object for a discovered service.
	OpenService(uuid UUID) (Service, error)
	// Close disconnects. A Disconnected event follows if the link was up.
	Close()
}

// Service is an opened GATT service on a Link.
type Service interface {
	UUID() UUID
	// DiscoverDetails reports ServiceDetailsDiscovered or ServiceDetailsFailed.
	DiscoverDetails()
	// Characteristic looks up a characteristic after details were discovered.
	Characteristic(uuid UUID) (Characteristic, bool)
	// WriteDescriptor reports DescriptorWritten or DescriptorWriteFailed.
	WriteDescriptor(d Descriptor, value []byte)
	// WriteCharacteristic queues a write. Without-response writes report nothing.
	WriteCharacteristic(c Characteristic, value []byte, mode WriteMode)
}
