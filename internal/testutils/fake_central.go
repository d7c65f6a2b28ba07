package testutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
)

// ScanCall records one Scan request.
type ScanCall struct {
	Tag     device.Tag
	Options device.ScanOptions
}

// ConnectCall records one Connect request.
type ConnectCall struct {
	Tag         device.Tag
	Address     string
	AddressType device.AddressType
}

// DescriptorWrite records one descriptor write.
type DescriptorWrite struct {
	Descriptor device.Descriptor
	Value      []byte
}

// FakeCentral is a scripted device.Central.
//
// Without an emitter (NewFakeCentral only) it only records calls, so a test can
// drive the consumer by feeding events by hand. After Attach it also answers
// every request the way a well-behaved peripheral would, posting events through
// a single pump goroutine so emission order is preserved.
type FakeCentral struct {
	mu          sync.Mutex
	peripherals []*Peripheral
	scanErr     error
	holdScan    bool

	scans   []ScanCall
	stops   []device.Tag
	connect []ConnectCall
	links   []*FakeLink
	closed  bool

	emit   device.Emitter
	queue  chan device.Event
	cancel context.CancelFunc
	logger *logrus.Logger
}

// NewFakeCentral creates a fake radio that can see the given peripherals.
func NewFakeCentral(peripherals ...*Peripheral) *FakeCentral {
	return &FakeCentral{peripherals: peripherals, logger: logrus.New()}
}

// WithLogger sets the logger used for pump diagnostics.
func (f *FakeCentral) WithLogger(logger *logrus.Logger) *FakeCentral {
	f.logger = logger
	return f
}

// WithScanError makes every scan pass fail with err after reporting its devices.
func (f *FakeCentral) WithScanError(err error) *FakeCentral {
	f.scanErr = err
	return f
}

// HoldingScans keeps scan passes open until FinishScan is called.
func (f *FakeCentral) HoldingScans() *FakeCentral {
	f.holdScan = true
	return f
}

// Attach switches the fake to answering mode, posting events through emit.
func (f *FakeCentral) Attach(emit device.Emitter) {
	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.emit = emit
	f.queue = make(chan device.Event, 1024)
	f.cancel = cancel
	queue := f.queue
	f.mu.Unlock()

	groutine.Go(ctx, "fake-central-pump", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				f.logger.WithField("event", device.EventName(ev)).Debug("Fake central emitting event")
				emit(ev)
			}
		}
	})
}

// Emit posts ev as if the platform produced it. No-op until Attach.
func (f *FakeCentral) Emit(ev device.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.post(ev)
}

// post must be called with f.mu held.
func (f *FakeCentral) post(ev device.Event) {
	if f.queue == nil {
		return
	}
	select {
	case f.queue <- ev:
	default:
		panic(fmt.Sprintf("fake central queue overflow on %s", device.EventName(ev)))
	}
}

func (f *FakeCentral) Scan(tag device.Tag, opts device.ScanOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, ScanCall{Tag: tag, Options: opts})

	for _, p := range f.peripherals {
		f.post(device.DeviceDiscovered{
			Tag:          tag,
			Name:         p.Record.Name(),
			Address:      p.Record.Address(),
			RSSI:         p.Record.RSSI(),
			Capabilities: p.Record.Capabilities(),
		})
	}
	if f.holdScan {
		return
	}
	if f.scanErr != nil {
		f.post(device.ScanFailed{Tag: tag, Err: f.scanErr})
		return
	}
	f.post(device.ScanFinished{Tag: tag})
}

// FinishScan completes a held scan pass.
func (f *FakeCentral) FinishScan(tag device.Tag) {
	f.Emit(device.ScanFinished{Tag: tag})
}

func (f *FakeCentral) StopScan(tag device.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, tag)
}

func (f *FakeCentral) Connect(tag device.Tag, address string, addrType device.AddressType) device.Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connect = append(f.connect, ConnectCall{Tag: tag, Address: address, AddressType: addrType})

	link := &FakeLink{central: f, tag: tag, peripheral: f.lookup(address)}
	f.links = append(f.links, link)

	switch {
	case link.peripheral == nil:
		f.post(device.LinkFailed{Tag: tag, Err: fmt.Errorf("no peripheral at %s", address)})
	case link.peripheral.ConnectErr != nil:
		f.post(device.LinkFailed{Tag: tag, Err: link.peripheral.ConnectErr})
	default:
		link.up = true
		f.post(device.Connected{Tag: tag})
	}
	return link
}

func (f *FakeCentral) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (f *FakeCentral) lookup(address string) *Peripheral {
	for _, p := range f.peripherals {
		if p.Record.Address() == address {
			return p
		}
	}
	return nil
}

// Notify emits a value change on the most recent link.
func (f *FakeCentral) Notify(uuid string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l := f.lastLink(); l != nil {
		f.post(device.CharacteristicChanged{Tag: l.tag, UUID: device.MustParseUUID(uuid), Value: value})
	}
}

// DropLink simulates the peripheral going away on the most recent link.
func (f *FakeCentral) DropLink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l := f.lastLink(); l != nil && l.up {
		l.up = false
		f.post(device.Disconnected{Tag: l.tag})
	}
}

func (f *FakeCentral) lastLink() *FakeLink {
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

func (f *FakeCentral) Scans() []ScanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ScanCall(nil), f.scans...)
}

func (f *FakeCentral) StoppedScans() []device.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Tag(nil), f.stops...)
}

func (f *FakeCentral) Connects() []ConnectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConnectCall(nil), f.connect...)
}

func (f *FakeCentral) Links() []*FakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeLink(nil), f.links...)
}

// LastLink returns the most recent link or nil.
func (f *FakeCentral) LastLink() *FakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLink()
}

func (f *FakeCentral) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeLink is the device.Link produced by FakeCentral.
type FakeLink struct {
	central    *FakeCentral
	tag        device.Tag
	peripheral *Peripheral
	up         bool

	discoveries int
	closes      int
	services    []*FakeService
}

func (l *FakeLink) Tag() device.Tag { return l.tag }

func (l *FakeLink) DiscoverServices() {
	f := l.central
	f.mu.Lock()
	defer f.mu.Unlock()
	l.discoveries++
	if l.peripheral == nil {
		return
	}
	for _, s := range l.peripheral.Services {
		f.post(device.ServiceFound{Tag: l.tag, UUID: s.UUID})
	}
	f.post(device.ServiceDiscoveryFinished{Tag: l.tag})
}

func (l *FakeLink) OpenService(uuid device.UUID) (device.Service, error) {
	f := l.central
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.peripheral != nil {
		for i := range l.peripheral.Services {
			if l.peripheral.Services[i].UUID == uuid {
				svc := &FakeService{link: l, layout: &l.peripheral.Services[i]}
				l.services = append(l.services, svc)
				return svc, nil
			}
		}
	}
	return nil, fmt.Errorf("service %s not on peripheral", uuid.Short())
}

func (l *FakeLink) Close() {
	f := l.central
	f.mu.Lock()
	defer f.mu.Unlock()
	l.closes++
	if l.up {
		l.up = false
		f.post(device.Disconnected{Tag: l.tag})
	}
}

// CloseCount returns how many times Close was called.
func (l *FakeLink) CloseCount() int {
	l.central.mu.Lock()
	defer l.central.mu.Unlock()
	return l.closes
}

// DiscoverCount returns how many times DiscoverServices was called.
func (l *FakeLink) DiscoverCount() int {
	l.central.mu.Lock()
	defer l.central.mu.Unlock()
	return l.discoveries
}

// Services returns the service objects opened on this link.
func (l *FakeLink) Services() []*FakeService {
	l.central.mu.Lock()
	defer l.central.mu.Unlock()
	return append([]*FakeService(nil), l.services...)
}

// IsUp reports whether the link is connected.
func (l *FakeLink) IsUp() bool {
	l.central.mu.Lock()
	defer l.central.mu.Unlock()
	return l.up
}

// FakeService is the device.Service produced by FakeLink.
type FakeService struct {
	link   *FakeLink
	layout *PeripheralService

	detailRequests   int
	descriptorWrites []DescriptorWrite
	writes           [][]byte
}

func (s *FakeService) UUID() device.UUID { return s.layout.UUID }

func (s *FakeService) DiscoverDetails() {
	f := s.link.central
	f.mu.Lock()
	defer f.mu.Unlock()
	s.detailRequests++
	if err := s.link.peripheral.DetailsErr; err != nil {
		f.post(device.ServiceDetailsFailed{Tag: s.link.tag, UUID: s.layout.UUID, Err: err})
		return
	}
	f.post(device.ServiceDetailsDiscovered{Tag: s.link.tag, UUID: s.layout.UUID})
}

func (s *FakeService) Characteristic(uuid device.UUID) (device.Characteristic, bool) {
	for _, c := range s.layout.Characteristics {
		if c.UUID == uuid {
			return c, true
		}
	}
	return device.Characteristic{}, false
}

func (s *FakeService) WriteDescriptor(d device.Descriptor, value []byte) {
	f := s.link.central
	f.mu.Lock()
	defer f.mu.Unlock()
	v := append([]byte(nil), value...)
	s.descriptorWrites = append(s.descriptorWrites, DescriptorWrite{Descriptor: d, Value: v})

	p := s.link.peripheral
	switch {
	case p.DescriptorWriteErr != nil:
		f.post(device.DescriptorWriteFailed{Tag: s.link.tag, Descriptor: d, Err: p.DescriptorWriteErr})
	case p.IgnoreDisable && bytes.Equal(v, []byte{0x00, 0x00}):
	default:
		f.post(device.DescriptorWritten{Tag: s.link.tag, Descriptor: d, Value: v})
	}
}

func (s *FakeService) WriteCharacteristic(c device.Characteristic, value []byte, mode device.WriteMode) {
	f := s.link.central
	f.mu.Lock()
	defer f.mu.Unlock()
	v := append([]byte(nil), value...)
	s.writes = append(s.writes, v)

	if p := s.link.peripheral; p.Echo {
		f.post(device.CharacteristicChanged{Tag: s.link.tag, UUID: p.EchoTo, Value: v})
	}
}

// DetailRequests returns how many times DiscoverDetails was called.
func (s *FakeService) DetailRequests() int {
	s.link.central.mu.Lock()
	defer s.link.central.mu.Unlock()
	return s.detailRequests
}

// DescriptorWrites returns every descriptor write in order.
func (s *FakeService) DescriptorWrites() []DescriptorWrite {
	s.link.central.mu.Lock()
	defer s.link.central.mu.Unlock()
	return append([]DescriptorWrite(nil), s.descriptorWrites...)
}

// Writes returns every characteristic write in order.
func (s *FakeService) Writes() [][]byte {
	s.link.central.mu.Lock()
	defer s.link.central.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// ErrFakeController is a canned controller failure.
var ErrFakeController = errors.New("fake controller error")
