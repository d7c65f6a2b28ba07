// Package goble implements device.Central on top of github.com/go-ble/ble.
//
// Every request returns immediately. Results are posted as tagged events
// through the Emitter from scan, dial and per-link worker goroutines.
package goble

import (
	"context"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
)

const (
	// DefaultWriteChunkSize is the maximum number of bytes written in a single
	// ATT operation. The default ATT_MTU of 23 leaves 20 bytes of payload.
	DefaultWriteChunkSize = 20

	// DefaultWriteDelay is the pause between consecutive chunks so the
	// peripheral's receive buffer is not overrun.
	DefaultWriteDelay = 10 * time.Millisecond

	// DefaultJobQueue bounds the pending GATT operations per link.
	DefaultJobQueue = 64

	linkCloseTimeout = 2 * time.Second
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Options tunes the backend.
type Options struct {
	WriteChunkSize int
	WriteDelay     time.Duration
	JobQueue       int
}

// DefaultOptions returns the conservative write pacing of a BLE 4.0 link.
func DefaultOptions() Options {
	return Options{
		WriteChunkSize: DefaultWriteChunkSize,
		WriteDelay:     DefaultWriteDelay,
		JobQueue:       DefaultJobQueue,
	}
}

// Central is a device.Central backed by a go-ble device.
type Central struct {
	dev    ble.Device
	emit   device.Emitter
	opts   Options
	logger *logrus.Logger

	scans *hashmap.Map[device.Tag, context.CancelFunc]
	links *hashmap.Map[device.Tag, *Link]
}

// NewCentral opens the platform adapter.
func NewCentral(emit device.Emitter, opts Options, logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.WriteChunkSize <= 0 {
		opts.WriteChunkSize = DefaultWriteChunkSize
	}
	if opts.JobQueue <= 0 {
		opts.JobQueue = DefaultJobQueue
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithError(err).Error("Failed to create BLE device")
		return nil, device.NormalizeError(err)
	}

	return &Central{
		dev:    dev,
		emit:   emit,
		opts:   opts,
		logger: logger,
		scans:  hashmap.New[device.Tag, context.CancelFunc](),
		links:  hashmap.New[device.Tag, *Link](),
	}, nil
}

// Scan runs one discovery pass in the background. go-ble only sees LE
// advertisements, so every report carries CapLowEnergy.
func (c *Central) Scan(tag device.Tag, opts device.ScanOptions) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.scans.Set(tag, cancel)

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer cancel()
		defer c.scans.Del(tag)

		err := c.dev.Scan(ctx, false, func(adv ble.Advertisement) {
			c.emit(device.DeviceDiscovered{
				Tag:          tag,
				Name:         adv.LocalName(),
				Address:      adv.Addr().String(),
				RSSI:         adv.RSSI(),
				Capabilities: device.CapLowEnergy,
			})
		})

		// A pass ending on its own deadline or on StopScan is a normal finish
		if err == nil || ctx.Err() != nil {
			c.emit(device.ScanFinished{Tag: tag})
			return
		}
		c.logger.WithError(err).WithField("tag", tag).Debug("Platform scan returned an error")
		c.emit(device.ScanFailed{Tag: tag, Err: device.NormalizeError(err)})
	})
}

func (c *Central) StopScan(tag device.Tag) {
	if cancel, ok := c.scans.Get(tag); ok {
		cancel()
	}
}

// Connect starts dialing address and returns the link at once.
func (c *Central) Connect(tag device.Tag, address string, addrType device.AddressType) device.Link {
	l := newLink(c, tag, address, addrType)
	c.links.Set(tag, l)
	l.enqueue("dial", l.dial)
	return l
}

// Close aborts every scan and link and stops the adapter.
func (c *Central) Close() error {
	c.scans.Range(func(_ device.Tag, cancel context.CancelFunc) bool {
		cancel()
		return true
	})
	var closing []*Link
	c.links.Range(func(_ device.Tag, l *Link) bool {
		l.Close()
		closing = append(closing, l)
		return true
	})
	for _, l := range closing {
		if !l.wait(linkCloseTimeout) {
			c.logger.WithField("tag", l.tag).Warn("Link worker did not stop in time")
		}
	}
	if err := c.dev.Stop(); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}
