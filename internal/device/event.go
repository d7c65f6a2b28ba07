package device

import "fmt"

// Event is a platform completion posted onto the client event loop.
type Event interface {
	EventTag() Tag
}

// DeviceDiscovered reports one advertisement seen during a scan pass.
type DeviceDiscovered struct {
	Tag          Tag
	Name         string
	Address      string
	RSSI         int
	Capabilities Capability
}

// ScanFinished reports that the scan pass ran to its timeout.
type ScanFinished struct{ Tag Tag }

// ScanFailed reports that the scan pass aborted.
type ScanFailed struct {
	Tag Tag
	Err error
}

// Connected reports the link is up.
type Connected struct{ Tag Tag }

// Disconnected reports the link went down, locally or remotely.
type Disconnected struct{ Tag Tag }

// LinkFailed reports a controller-level error on the link.
type LinkFailed struct {
	Tag Tag
	Err error
}

// ServiceFound reports one primary service during enumeration.
type ServiceFound struct {
	Tag  Tag
	UUID UUID
}

// ServiceDiscoveryFinished ends service enumeration.
type ServiceDiscoveryFinished struct{ Tag Tag }

// ServiceDetailsDiscovered reports that characteristics and descriptors of an opened service are known.
type ServiceDetailsDiscovered struct {
	Tag  Tag
	UUID UUID
}

// ServiceDetailsFailed reports that detail discovery of an opened service failed.
type ServiceDetailsFailed struct {
	Tag  Tag
	UUID UUID
	Err  error
}

// CharacteristicChanged carries a notification or indication value.
type CharacteristicChanged struct {
	Tag   Tag
	UUID  UUID
	Value []byte
}

// DescriptorWritten confirms a descriptor write with the value that was written.
type DescriptorWritten struct {
	Tag        Tag
	Descriptor Descriptor
	Value      []byte
}

// DescriptorWriteFailed reports a rejected descriptor write.
type DescriptorWriteFailed struct {
	Tag        Tag
	Descriptor Descriptor
	Err        error
}

func (e DeviceDiscovered) EventTag() Tag         { return e.Tag }
func (e ScanFinished) EventTag() Tag             { return e.Tag }
func (e ScanFailed) EventTag() Tag               { return e.Tag }
func (e Connected) EventTag() Tag                { return e.Tag }
func (e Disconnected) EventTag() Tag             { return e.Tag }
func (e LinkFailed) EventTag() Tag               { return e.Tag }
func (e ServiceFound) EventTag() Tag             { return e.Tag }
func (e ServiceDiscoveryFinished) EventTag() Tag { return e.Tag }
func (e ServiceDetailsDiscovered) EventTag() Tag { return e.Tag }
func (e ServiceDetailsFailed) EventTag() Tag     { return e.Tag }
func (e CharacteristicChanged) EventTag() Tag    { return e.Tag }
func (e DescriptorWritten) EventTag() Tag        { return e.Tag }
func (e DescriptorWriteFailed) EventTag() Tag    { return e.Tag }

// EventName returns a short name for logging.
func EventName(ev Event) string {
	switch ev.(type) {
	case DeviceDiscovered:
		return "device_discovered"
	case ScanFinished:
		return "scan_finished"
	case ScanFailed:
		return "scan_failed"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case LinkFailed:
		return "link_failed"
	case ServiceFound:
		return "service_found"
	case ServiceDiscoveryFinished:
		return "service_discovery_finished"
	case ServiceDetailsDiscovered:
		return "service_details_discovered"
	case ServiceDetailsFailed:
		return "service_details_failed"
	case CharacteristicChanged:
		return "characteristic_changed"
	case DescriptorWritten:
		return "descriptor_written"
	case DescriptorWriteFailed:
		return "descriptor_write_failed"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// IsScanEvent reports whether ev belongs to the discovery feed.
func IsScanEvent(ev Event) bool {
	switch ev.(type) {
	case DeviceDiscovered, ScanFinished, ScanFailed:
		return true
	}
	return false
}
