package scanner

import (
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
)

// DefaultScanTimeout bounds one discovery pass.
const DefaultScanTimeout = 5 * time.Second

// Listener receives scan outcomes. Calls are made on the goroutine driving the Controller.
type Listener interface {
	ScanningFinished(names []string)
	DeviceListChanged(names []string)
	ErrorReported(err error)
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Timeout   time.Duration
	AllowList []string // addresses; empty admits all
	BlockList []string // addresses never admitted
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() ScanOptions {
	return ScanOptions{Timeout: DefaultScanTimeout}
}

// Controller drives LE discovery into a Catalog. It is not safe for concurrent
// use: StartScan and Handle must be called from the same event loop.
type Controller struct {
	central  device.Central
	catalog  *device.Catalog
	opts     ScanOptions
	listener Listener
	logger   *logrus.Logger

	tag       device.Tag
	scanning  bool
	published []string
}

// NewController creates an idle scan controller.
func NewController(central device.Central, opts ScanOptions, listener Listener, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	return &Controller{
		central:  central,
		catalog:  device.NewCatalog(),
		opts:     opts,
		listener: listener,
		logger:   logger,
	}
}

// StartScan clears the catalog and starts a new pass. A pass still running is
// stopped and its remaining events become stale.
func (c *Controller) StartScan() device.Tag {
	if c.scanning {
		c.central.StopScan(c.tag)
		c.logger.WithField("tag", c.tag).Debug("Superseding running scan")
	}

	c.tag++
	c.catalog.Reset()
	c.published = nil
	c.scanning = true

	c.logger.WithFields(logrus.Fields{
		"tag":      c.tag,
		"duration": c.opts.Timeout,
	}).Info("Starting BLE scan...")
	c.central.Scan(c.tag, device.ScanOptions{Timeout: c.opts.Timeout, LowEnergyOnly: true})
	return c.tag
}

// Stop ends the running pass early. The catalog is frozen as if the pass finished.
func (c *Controller) Stop() {
	if !c.scanning {
		return
	}
	c.central.StopScan(c.tag)
	c.finish()
}

// Handle applies one discovery event. Events of a superseded pass return
// ErrStaleEvent; events after the pass completed return ErrIgnoredEvent.
func (c *Controller) Handle(ev device.Event) error {
	if !device.IsScanEvent(ev) {
		return device.ErrIgnoredEvent
	}
	if ev.EventTag() != c.tag {
		c.logger.WithFields(logrus.Fields{
			"event": device.EventName(ev),
			"tag":   ev.EventTag(),
		}).Debug("Dropping stale scan event")
		return device.ErrStaleEvent
	}
	if !c.scanning {
		return device.ErrIgnoredEvent
	}

	switch e := ev.(type) {
	case device.DeviceDiscovered:
		c.handleDiscovered(e)
	case device.ScanFinished:
		c.finish()
	case device.ScanFailed:
		c.scanning = false
		c.catalog.Freeze()
		se := device.ClassifyScanError(e.Err)
		c.logger.WithError(se).WithField("kind", se.Kind.String()).Error("BLE scan failed")
		c.listener.ErrorReported(se)
	}
	return nil
}

func (c *Controller) handleDiscovered(e device.DeviceDiscovered) {
	rec := device.NewRecord(e.Name, e.Address, e.RSSI, e.Capabilities)
	if !rec.IsLowEnergy() || !c.shouldIncludeDevice(rec) {
		return
	}
	if c.catalog.Admit(rec) {
		c.logger.WithFields(logrus.Fields{
			"device":  rec.Name(),
			"address": rec.Address(),
			"rssi":    rec.RSSI(),
		}).Info("Discovered new device")
	}
}

// shouldIncludeDevice applies the allow and block lists
func (c *Controller) shouldIncludeDevice(rec device.Record) bool {
	if slices.Contains(c.opts.BlockList, rec.Address()) {
		return false
	}
	if len(c.opts.AllowList) > 0 && !slices.Contains(c.opts.AllowList, rec.Address()) {
		return false
	}
	return true
}

func (c *Controller) finish() {
	c.scanning = false
	c.catalog.Freeze()
	names := c.catalog.Names()

	c.logger.WithField("device_count", len(names)).Info("BLE scan completed")
	if !slices.Equal(c.published, names) {
		c.published = names
		c.listener.DeviceListChanged(slices.Clone(names))
	}
	c.listener.ScanningFinished(names)
}

// Scanning reports whether a pass is running.
func (c *Controller) Scanning() bool { return c.scanning }

// Tag returns the identity of the current pass.
func (c *Controller) Tag() device.Tag { return c.tag }

// DeviceListModel returns the device names in discovery order.
func (c *Controller) DeviceListModel() []string { return c.catalog.Names() }

// Record returns the catalog entry at index i.
func (c *Controller) Record(i int) (device.Record, error) { return c.catalog.At(i) }

// Records returns every catalog entry in discovery order.
func (c *Controller) Records() []device.Record { return c.catalog.Records() }
