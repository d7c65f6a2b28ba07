package tinygo

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
	"tinygo.org/x/bluetooth"
)

type job struct {
	name string
	fn   func()
}

// Link serializes the blocking tinygo calls of one connection on a worker goroutine.
type Link struct {
	central *Central
	tag     device.Tag
	address string
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan job

	dev       *bluetooth.Device // owned by the worker
	connected bool
	services  *hashmap.Map[string, bluetooth.DeviceService]
}

func newLink(c *Central, tag device.Tag, address string) *Link {
	l := &Link{
		central:  c,
		tag:      tag,
		address:  address,
		logger:   c.logger,
		jobs:     make(chan job, jobQueue),
		services: hashmap.New[string, bluetooth.DeviceService](),
	}
	groutine.Go(context.Background(), "tinygo-link-worker", l.run)
	return l
}

func (l *Link) Tag() device.Tag { return l.tag }

func (l *Link) emit(ev device.Event) { l.central.emit(ev) }

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) run(context.Context) {
	defer l.teardown()
	for j := range l.jobs {
		if l.isClosed() {
			continue
		}
		if l.dev == nil && j.name != "dial" {
			l.logger.WithField("job", j.name).Debug("Skipping GATT job, link is not connected")
			continue
		}
		j.fn()
	}
}

func (l *Link) enqueue(name string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.jobs <- job{name: name, fn: fn}:
	default:
		err := fmt.Errorf("gatt queue full, dropped %s", name)
		l.logger.WithError(err).WithField("tag", l.tag).Warn("GATT job queue overflow")
		groutine.Go(context.Background(), "tinygo-link-overflow", func(context.Context) {
			l.emit(device.LinkFailed{Tag: l.tag, Err: err})
		})
	}
}

func (l *Link) dial() {
	addr, ok := l.central.seen.Get(l.address)
	if !ok {
		l.emit(device.LinkFailed{Tag: l.tag, Err: &device.NotFoundError{Resource: "device", UUIDs: []string{l.address}}})
		return
	}

	l.logger.WithField("address", l.address).Debug("Dialing BLE device...")
	// adapter.Connect cannot be cancelled; a link closed meanwhile is dropped below.
	dev, err := l.central.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		if !l.isClosed() {
			l.logger.WithError(err).WithField("address", l.address).Error("Failed to dial BLE device")
			l.emit(device.LinkFailed{Tag: l.tag, Err: device.NormalizeError(err)})
		}
		return
	}
	l.dev = &dev

	l.mu.Lock()
	up := !l.closed
	l.connected = up
	l.mu.Unlock()
	if up {
		l.emit(device.Connected{Tag: l.tag})
	}
}

func (l *Link) remoteDropped() {
	l.mu.Lock()
	report := l.connected && !l.closed
	l.connected = false
	l.mu.Unlock()
	if report {
		l.logger.WithField("address", l.address).Warn("Peripheral reported disconnection")
		l.emit(device.Disconnected{Tag: l.tag})
	}
}

func (l *Link) DiscoverServices() {
	l.enqueue("discover-services", func() {
		svcs, err := l.dev.DiscoverServices(nil)
		if err != nil {
			l.emit(device.LinkFailed{Tag: l.tag, Err: fmt.Errorf("service discovery: %w", device.NormalizeError(err))})
			return
		}
		for _, s := range svcs {
			uuid := toUUID(s.UUID())
			l.services.Set(uuid.String(), s)
			l.emit(device.ServiceFound{Tag: l.tag, UUID: uuid})
		}
		l.emit(device.ServiceDiscoveryFinished{Tag: l.tag})
	})
}

func (l *Link) OpenService(uuid device.UUID) (device.Service, error) {
	s, ok := l.services.Get(uuid.String())
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid.Short()}}
	}
	return &Service{link: l, svc: s, uuid: uuid}, nil
}

// Close disconnects. Idempotent.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.jobs)
}

func (l *Link) teardown() {
	if cur, ok := l.central.links.Get(l.address); ok && cur == l {
		l.central.links.Del(l.address)
	}
	if l.dev == nil {
		return
	}
	if err := l.dev.Disconnect(); err != nil {
		l.logger.WithError(device.NormalizeError(err)).Warn("BLE device disconnected with errors")
		return
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected")
}

// Service is an opened tinygo service.
type Service struct {
	link *Link
	svc  bluetooth.DeviceService
	uuid device.UUID

	mu    sync.RWMutex
	chars map[device.UUID]*bluetooth.DeviceCharacteristic
}

func (s *Service) UUID() device.UUID { return s.uuid }

func (s *Service) DiscoverDetails() {
	l := s.link
	l.enqueue("discover-details", func() {
		chars, err := s.svc.DiscoverCharacteristics(nil)
		if err != nil {
			l.emit(device.ServiceDetailsFailed{Tag: l.tag, UUID: s.uuid, Err: device.NormalizeError(err)})
			return
		}
		// notification state lives on the characteristic value, keep one copy per UUID
		resolved := make(map[device.UUID]*bluetooth.DeviceCharacteristic, len(chars))
		for i := range chars {
			resolved[toUUID(chars[i].UUID())] = &chars[i]
		}
		s.mu.Lock()
		s.chars = resolved
		s.mu.Unlock()
		l.emit(device.ServiceDetailsDiscovered{Tag: l.tag, UUID: s.uuid})
	})
}

func (s *Service) lookup(uuid device.UUID) (*bluetooth.DeviceCharacteristic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chars[uuid]
	return c, ok
}

func (s *Service) Characteristic(uuid device.UUID) (device.Characteristic, bool) {
	if _, ok := s.lookup(uuid); !ok {
		return device.Characteristic{}, false
	}
	return toCharacteristic(uuid), true
}

// WriteDescriptor supports the CCCD only.
func (s *Service) WriteDescriptor(d device.Descriptor, value []byte) {
	l := s.link
	v := append([]byte(nil), value...)
	l.enqueue("write-descriptor", func() {
		if err := s.writeCCCD(d, v); err != nil {
			l.emit(device.DescriptorWriteFailed{Tag: l.tag, Descriptor: d, Err: device.NormalizeError(err)})
			return
		}
		l.emit(device.DescriptorWritten{Tag: l.tag, Descriptor: d, Value: v})
	})
}

func (s *Service) writeCCCD(d device.Descriptor, v []byte) error {
	if d.UUID != device.CCCDUUID {
		return fmt.Errorf("descriptor %s: %w", d.UUID.Short(), device.ErrUnsupported)
	}
	c, ok := s.lookup(d.Characteristic)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid.Short(), d.Characteristic.Short()}}
	}

	switch {
	case bytes.Equal(v, []byte{0x00, 0x00}):
		return c.EnableNotifications(nil)
	case len(v) == 2 && v[1] == 0x00 && v[0]&0x03 != 0:
		l := s.link
		uuid := d.Characteristic
		return c.EnableNotifications(func(buf []byte) {
			l.emit(device.CharacteristicChanged{Tag: l.tag, UUID: uuid, Value: append([]byte(nil), buf...)})
		})
	default:
		return fmt.Errorf("unsupported CCCD value % x", v)
	}
}

func (s *Service) WriteCharacteristic(ch device.Characteristic, value []byte, mode device.WriteMode) {
	l := s.link
	data := append([]byte(nil), value...)
	l.enqueue("write-characteristic", func() {
		if err := checkWriteMode(ch, mode); err != nil {
			l.emit(device.LinkFailed{Tag: l.tag, Err: err})
			return
		}
		c, ok := s.lookup(ch.UUID)
		if !ok {
			l.emit(device.LinkFailed{Tag: l.tag, Err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid.Short(), ch.UUID.Short()}}})
			return
		}
		for len(data) > 0 {
			n := min(len(data), writeChunkSize)
			if _, err := c.WriteWithoutResponse(data[:n]); err != nil {
				l.emit(device.LinkFailed{Tag: l.tag, Err: fmt.Errorf("failed to write to characteristic %s: %w", ch.UUID.Short(), device.NormalizeError(err))})
				return
			}
			data = data[n:]
			if len(data) > 0 {
				time.Sleep(writeDelay)
			}
		}
	})
}

// checkWriteMode rejects writes with response: tinygo only offers
// WriteWithoutResponse on Linux and HCI builds.
func checkWriteMode(ch device.Characteristic, mode device.WriteMode) error {
	if mode != device.WriteWithoutResponse {
		return fmt.Errorf("write to %s with response: %w", ch.UUID.Short(), device.ErrUnsupported)
	}
	return nil
}
