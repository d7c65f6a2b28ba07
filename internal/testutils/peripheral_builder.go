package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/bleuart/internal/device"
)

// CharacteristicConfig represents a GATT characteristic configuration for faking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify,write-without-response"
	NoCCCD     bool   `json:"no_cccd,omitempty"`    // omit the 0x2902 descriptor
}

// ServiceConfig represents a GATT service configuration for faking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig represents the complete fake peripheral
type PeripheralConfig struct {
	Name         string          `json:"name"`
	Address      string          `json:"address"`
	RSSI         int             `json:"rssi,omitempty"`
	Capabilities string          `json:"capabilities,omitempty"` // "le", "classic" or "le,classic"; default "le"
	Services     []ServiceConfig `json:"services,omitempty"`
}

// Peripheral is a built fake peripheral: advertised identity, GATT layout and
// behaviour knobs consulted by FakeCentral.
type Peripheral struct {
	Record   device.Record
	Services []PeripheralService

	ConnectErr         error
	DetailsErr         error
	DescriptorWriteErr error
	IgnoreDisable      bool // never confirm a disable write
	Echo               bool // loop Tx writes back as Rx notifications
	EchoTo             device.UUID
}

// PeripheralService is one service of a fake peripheral.
type PeripheralService struct {
	UUID            device.UUID
	Characteristics []device.Characteristic
}

// PeripheralBuilder builds fake peripherals with a fluent API.
type PeripheralBuilder struct {
	config PeripheralConfig
	knobs  Peripheral
}

// NewPeripheralBuilder creates a builder for an LE-capable peripheral with no services.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{config: PeripheralConfig{RSSI: -50, Capabilities: "le"}}
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	return b
}

func (b *PeripheralBuilder) WithAddress(addr string) *PeripheralBuilder {
	b.config.Address = addr
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

// WithCapabilities sets the advertised capability flags, e.g. "le", "classic", "le,classic".
func (b *PeripheralBuilder) WithCapabilities(caps string) *PeripheralBuilder {
	b.config.Capabilities = caps
	return b
}

// WithService adds a service to the peripheral
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic with a CCCD to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	return b.addCharacteristic(CharacteristicConfig{UUID: uuid, Properties: properties})
}

// WithCharacteristicNoCCCD adds a characteristic without a CCCD to the last added service
func (b *PeripheralBuilder) WithCharacteristicNoCCCD(uuid, properties string) *PeripheralBuilder {
	return b.addCharacteristic(CharacteristicConfig{UUID: uuid, Properties: properties, NoCCCD: true})
}

func (b *PeripheralBuilder) addCharacteristic(c CharacteristicConfig) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics, c)
	return b
}

func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.knobs.ConnectErr = err
	return b
}

func (b *PeripheralBuilder) WithDetailsError(err error) *PeripheralBuilder {
	b.knobs.DetailsErr = err
	return b
}

func (b *PeripheralBuilder) WithDescriptorWriteError(err error) *PeripheralBuilder {
	b.knobs.DescriptorWriteErr = err
	return b
}

// IgnoringDisable makes the peripheral swallow CCCD disable writes.
func (b *PeripheralBuilder) IgnoringDisable() *PeripheralBuilder {
	b.knobs.IgnoreDisable = true
	return b
}

// WithEcho makes every write come back as a notification on rx.
func (b *PeripheralBuilder) WithEcho(rx string) *PeripheralBuilder {
	b.knobs.Echo = true
	b.knobs.EchoTo = device.MustParseUUID(rx)
	return b
}

// FromJSON fills the peripheral from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Capabilities == "" {
		config.Capabilities = "le"
	}

	b.config = config
	return b
}

// Build creates the Peripheral. Handles are assigned sequentially per attribute.
func (b *PeripheralBuilder) Build() *Peripheral {
	p := b.knobs
	p.Record = device.NewRecord(b.config.Name, b.config.Address, b.config.RSSI, parseCapabilities(b.config.Capabilities))

	handle := uint16(1)
	for _, sc := range b.config.Services {
		svc := PeripheralService{UUID: device.MustParseUUID(sc.UUID)}
		handle++
		for _, cc := range sc.Characteristics {
			ch := device.Characteristic{
				UUID:       device.MustParseUUID(cc.UUID),
				Handle:     handle,
				Properties: parseProperties(cc.Properties),
			}
			handle += 2
			if !cc.NoCCCD {
				ch.Descriptors = append(ch.Descriptors, device.Descriptor{
					UUID:           device.CCCDUUID,
					Handle:         handle,
					Characteristic: ch.UUID,
				})
				handle++
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		p.Services = append(p.Services, svc)
	}
	return &p
}

func parseCapabilities(s string) device.Capability {
	var caps device.Capability
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "le":
			caps |= device.CapLowEnergy
		case "classic":
			caps |= device.CapClassic
		}
	}
	return caps
}

func parseProperties(s string) device.Property {
	if s == "" {
		return device.PropRead | device.PropNotify
	}
	var p device.Property
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", part))
		}
	}
	return p
}
