package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
)

type job struct {
	name string
	fn   func(ble.Client)
}

// Link is one connection attempt. GATT operations are queued to a single
// worker goroutine so they reach the controller in request order.
type Link struct {
	central  *Central
	tag      device.Tag
	address  string
	addrType device.AddressType
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}

	mu     sync.Mutex
	closed bool
	jobs   chan job

	client   ble.Client // owned by the worker
	services *hashmap.Map[string, *ble.Service]
}

func newLink(c *Central, tag device.Tag, address string, addrType device.AddressType) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		central:  c,
		tag:      tag,
		address:  address,
		addrType: addrType,
		logger:   c.logger,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan job, c.opts.JobQueue),
		services: hashmap.New[string, *ble.Service](),
	}
	// The worker outlives ctx so it can still cancel the connection.
	l.done = groutine.Go(context.Background(), "ble-link-worker", l.run)
	return l
}

func (l *Link) Tag() device.Tag { return l.tag }

func (l *Link) emit(ev device.Event) { l.central.emit(ev) }

func (l *Link) run(context.Context) {
	defer l.teardown()
	for j := range l.jobs {
		if l.ctx.Err() != nil {
			continue
		}
		if l.client == nil && j.name != "dial" {
			l.logger.WithField("job", j.name).Debug("Skipping GATT job, link is not connected")
			continue
		}
		j.fn(l.client)
	}
}

// enqueue never blocks: it is called from the caller's event loop.
func (l *Link) enqueue(name string, fn func(ble.Client)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.WithField("job", name).Debug("Dropping GATT job on closed link")
		return
	}
	select {
	case l.jobs <- job{name: name, fn: fn}:
	default:
		err := fmt.Errorf("gatt queue full, dropped %s", name)
		l.logger.WithError(err).WithField("tag", l.tag).Warn("GATT job queue overflow")
		groutine.Go(context.Background(), "ble-link-overflow", func(context.Context) {
			l.emit(device.LinkFailed{Tag: l.tag, Err: err})
		})
	}
}

func (l *Link) dial(ble.Client) {
	l.logger.WithFields(logrus.Fields{
		"address":      l.address,
		"address_type": l.addrType.String(),
	}).Debug("Dialing BLE device...")

	client, err := l.central.dev.Dial(l.ctx, dialAddr(l.address, l.addrType))
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.logger.WithError(err).WithField("address", l.address).Error("Failed to dial BLE device")
		l.emit(device.LinkFailed{Tag: l.tag, Err: device.NormalizeError(err)})
		return
	}
	l.client = client
	l.emit(device.Connected{Tag: l.tag})

	groutine.Go(l.ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			l.logger.WithField("address", l.address).Warn("Peripheral reported disconnection")
			l.emit(device.Disconnected{Tag: l.tag})
		case <-ctx.Done():
		}
	})
}

// DiscoverServices reports every primary service, then completion.
func (l *Link) DiscoverServices() {
	l.enqueue("discover-services", func(client ble.Client) {
		svcs, err := client.DiscoverServices(nil)
		if err != nil {
			l.emit(device.LinkFailed{Tag: l.tag, Err: fmt.Errorf("service discovery: %w", device.NormalizeError(err))})
			return
		}
		for _, s := range svcs {
			uuid := toUUID(s.UUID)
			l.services.Set(uuid.String(), s)
			l.emit(device.ServiceFound{Tag: l.tag, UUID: uuid})
		}
		l.emit(device.ServiceDiscoveryFinished{Tag: l.tag})
	})
}

// OpenService returns a session object for a discovered service.
func (l *Link) OpenService(uuid device.UUID) (device.Service, error) {
	s, ok := l.services.Get(uuid.String())
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid.Short()}}
	}
	return &Service{link: l, svc: s, uuid: uuid}, nil
}

// Close aborts a pending dial or cancels the connection. Idempotent.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.cancel()
	close(l.jobs)
}

// wait blocks until the worker has released the connection or timeout passes.
func (l *Link) wait(timeout time.Duration) bool {
	select {
	case <-l.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *Link) teardown() {
	defer l.central.links.Del(l.tag)
	if l.client == nil {
		return
	}
	if err := l.client.ClearSubscriptions(); err != nil {
		l.logger.WithError(err).Debug("Failed to clear subscriptions")
	}
	if err := l.client.CancelConnection(); err != nil {
		l.logger.WithError(device.NormalizeError(err)).Warn("BLE device disconnected with errors")
		return
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected")
}
