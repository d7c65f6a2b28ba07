// Package tinygo implements device.Central on top of tinygo.org/x/bluetooth.
//
// tinygo exposes neither descriptors nor characteristic properties, so every
// characteristic is reported with a synthesized CCCD and CCCD writes are
// carried out as EnableNotifications calls.
package tinygo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
	"tinygo.org/x/bluetooth"
)

const (
	writeChunkSize = 20
	writeDelay     = 10 * time.Millisecond
	jobQueue       = 64
)

type scanPass struct {
	tag     device.Tag
	stopped atomic.Bool
	done    chan struct{}
}

// Central is a device.Central backed by the tinygo default adapter.
type Central struct {
	adapter *bluetooth.Adapter
	emit    device.Emitter
	logger  *logrus.Logger

	mu   sync.Mutex
	scan *scanPass

	// Connect needs the bluetooth.Address seen in an advertisement.
	seen  *hashmap.Map[string, bluetooth.Address]
	links *hashmap.Map[string, *Link]
}

// NewCentral enables the default adapter.
func NewCentral(emit device.Emitter, logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		logger.WithError(err).Error("Failed to enable BLE adapter")
		return nil, device.NormalizeError(err)
	}

	c := &Central{
		adapter: adapter,
		emit:    emit,
		logger:  logger,
		seen:    hashmap.New[string, bluetooth.Address](),
		links:   hashmap.New[string, *Link](),
	}
	adapter.SetConnectHandler(c.onConnectionChange)
	return c, nil
}

func (c *Central) onConnectionChange(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	if l, ok := c.links.Get(d.Address.String()); ok {
		l.remoteDropped()
	}
}

// Scan runs one discovery pass. A pass that is still stopping delays the next one.
func (c *Central) Scan(tag device.Tag, opts device.ScanOptions) {
	pass := &scanPass{tag: tag, done: make(chan struct{})}
	c.mu.Lock()
	prev := c.scan
	c.scan = pass
	c.mu.Unlock()

	groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		defer close(pass.done)
		if prev != nil {
			<-prev.done
		}
		if opts.Timeout > 0 {
			timer := time.AfterFunc(opts.Timeout, func() { c.stop(pass) })
			defer timer.Stop()
		}
		if pass.stopped.Load() {
			c.emit(device.ScanFinished{Tag: tag})
			return
		}

		err := c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if pass.stopped.Load() {
				_ = a.StopScan()
				return
			}
			addr := r.Address.String()
			c.seen.Set(addr, r.Address)
			c.emit(device.DeviceDiscovered{
				Tag:          tag,
				Name:         r.LocalName(),
				Address:      addr,
				RSSI:         int(r.RSSI),
				Capabilities: device.CapLowEnergy,
			})
		})
		if err != nil && !pass.stopped.Load() {
			c.logger.WithError(err).WithField("tag", tag).Debug("Platform scan returned an error")
			c.emit(device.ScanFailed{Tag: tag, Err: device.NormalizeError(err)})
			return
		}
		c.emit(device.ScanFinished{Tag: tag})
	})
}

func (c *Central) stop(pass *scanPass) {
	if pass.stopped.Swap(true) {
		return
	}
	if err := c.adapter.StopScan(); err != nil {
		c.logger.WithError(err).Debug("StopScan failed")
	}
}

func (c *Central) StopScan(tag device.Tag) {
	c.mu.Lock()
	pass := c.scan
	c.mu.Unlock()
	if pass != nil && pass.tag == tag {
		c.stop(pass)
	}
}

// Connect dials a peripheral seen by an earlier scan.
func (c *Central) Connect(tag device.Tag, address string, _ device.AddressType) device.Link {
	l := newLink(c, tag, address)
	c.links.Set(address, l)
	l.enqueue("dial", l.dial)
	return l
}

// Close stops scanning and disconnects every link. The adapter stays enabled.
func (c *Central) Close() error {
	c.mu.Lock()
	pass := c.scan
	c.mu.Unlock()
	if pass != nil {
		c.stop(pass)
	}
	c.links.Range(func(_ string, l *Link) bool {
		l.Close()
		return true
	})
	return nil
}
