package goble

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
)

// Service is a GATT service opened on a Link.
type Service struct {
	link *Link
	svc  *ble.Service
	uuid device.UUID

	mu    sync.RWMutex
	chars map[device.UUID]*ble.Characteristic
}

func (s *Service) UUID() device.UUID { return s.uuid }

// DiscoverDetails discovers characteristics and their descriptors.
func (s *Service) DiscoverDetails() {
	l := s.link
	l.enqueue("discover-details", func(client ble.Client) {
		chars, err := client.DiscoverCharacteristics(nil, s.svc)
		if err != nil {
			l.emit(device.ServiceDetailsFailed{Tag: l.tag, UUID: s.uuid, Err: device.NormalizeError(err)})
			return
		}

		resolved := make(map[device.UUID]*ble.Characteristic, len(chars))
		for _, c := range chars {
			uuid := toUUID(c.UUID)
			if _, err := client.DiscoverDescriptors(nil, c); err != nil {
				// CoreBluetooth may refuse descriptor discovery; the CCCD is synthesized.
				l.logger.WithError(err).WithField("char_uuid", uuid.Short()).Debug("Descriptor discovery failed")
			}
			resolved[uuid] = c
			l.logger.WithFields(logrus.Fields{
				"service_uuid": s.uuid.Short(),
				"char_uuid":    uuid.Short(),
				"properties":   toProperties(c.Property).String(),
			}).Debug("Found characteristic")
		}

		s.mu.Lock()
		s.chars = resolved
		s.mu.Unlock()
		l.emit(device.ServiceDetailsDiscovered{Tag: l.tag, UUID: s.uuid})
	})
}

func (s *Service) lookup(uuid device.UUID) *ble.Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chars[uuid]
}

// Characteristic returns the discovered characteristic with uuid.
func (s *Service) Characteristic(uuid device.UUID) (device.Characteristic, bool) {
	c := s.lookup(uuid)
	if c == nil {
		return device.Characteristic{}, false
	}
	return toCharacteristic(c), true
}

// WriteDescriptor writes value to d. CCCD writes are carried out as go-ble
// subscribe and unsubscribe calls so notifications are routed back as events.
func (s *Service) WriteDescriptor(d device.Descriptor, value []byte) {
	l := s.link
	v := append([]byte(nil), value...)
	l.enqueue("write-descriptor", func(client ble.Client) {
		if err := s.writeDescriptor(client, d, v); err != nil {
			l.emit(device.DescriptorWriteFailed{Tag: l.tag, Descriptor: d, Err: device.NormalizeError(err)})
			return
		}
		l.emit(device.DescriptorWritten{Tag: l.tag, Descriptor: d, Value: v})
	})
}

func (s *Service) writeDescriptor(client ble.Client, d device.Descriptor, v []byte) error {
	c := s.lookup(d.Characteristic)
	if c == nil {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid.Short(), d.Characteristic.Short()}}
	}

	if d.UUID != device.CCCDUUID {
		for _, bd := range c.Descriptors {
			if toUUID(bd.UUID) == d.UUID {
				return client.WriteDescriptor(bd, v)
			}
		}
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{d.Characteristic.Short(), d.UUID.Short()}}
	}

	indicateOnly := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	switch {
	case bytes.Equal(v, []byte{0x00, 0x00}):
		return client.Unsubscribe(c, indicateOnly)
	case len(v) == 2 && v[1] == 0x00 && v[0]&0x03 != 0:
		ind := v[0]&0x01 == 0 || indicateOnly
		uuid := d.Characteristic
		l := s.link
		return client.Subscribe(c, ind, func(data []byte) {
			l.emit(device.CharacteristicChanged{Tag: l.tag, UUID: uuid, Value: append([]byte(nil), data...)})
		})
	default:
		return fmt.Errorf("unsupported CCCD value % x", v)
	}
}

// WriteCharacteristic writes value to c in chunks of the configured size.
// A failed write is reported as a controller error.
func (s *Service) WriteCharacteristic(ch device.Characteristic, value []byte, mode device.WriteMode) {
	l := s.link
	data := append([]byte(nil), value...)
	l.enqueue("write-characteristic", func(client ble.Client) {
		c := s.lookup(ch.UUID)
		if c == nil {
			l.emit(device.LinkFailed{Tag: l.tag, Err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid.Short(), ch.UUID.Short()}}})
			return
		}

		chunk := l.central.opts.WriteChunkSize
		noRsp := mode == device.WriteWithoutResponse
		for len(data) > 0 {
			n := min(len(data), chunk)
			if err := client.WriteCharacteristic(c, data[:n], noRsp); err != nil {
				l.emit(device.LinkFailed{Tag: l.tag, Err: fmt.Errorf("failed to write to characteristic %s: %w", ch.UUID.Short(), device.NormalizeError(err))})
				return
			}
			data = data[n:]
			if len(data) > 0 && l.central.opts.WriteDelay > 0 {
				time.Sleep(l.central.opts.WriteDelay)
			}
		}
	})
}
