// Package uart is the caller boundary of a BLE UART-profile client. A Client
// owns one event loop goroutine that serializes caller commands and platform
// events, drives scanning and the connection state machine, and publishes the
// outcomes as Notifications.
package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
	"github.com/srg/bleuart/internal/ringchan"
	"github.com/srg/bleuart/pkg/connection"
	"github.com/srg/bleuart/scanner"
)

const (
	DefaultConnectTimeout     = 30 * time.Second
	DefaultDisconnectTimeout  = 3 * time.Second
	DefaultNotificationBuffer = 256
	DefaultStreamBuffer       = 4096
	DefaultTranscriptSize     = 1024

	eventQueueSize = 256
)

// CentralFactory creates the platform central. Every event the central produces
// must be passed to emit, from any goroutine other than the caller of a
// Central, Link or Service method.
type CentralFactory func(emit device.Emitter) (device.Central, error)

// Options configures a Client. Zero fields take the package defaults.
type Options struct {
	Profile            device.Profile
	AddressType        device.AddressType
	Scan               scanner.ScanOptions
	ConnectTimeout     time.Duration // zero disables the deadline
	DisconnectTimeout  time.Duration
	NotificationBuffer int
	StreamBuffer       int
	TranscriptSize     uint32
}

// DefaultOptions returns options for a Nordic UART Service peripheral.
func DefaultOptions() Options {
	return Options{
		Profile:            device.NordicUARTProfile,
		AddressType:        device.RandomAddress,
		Scan:               scanner.DefaultScanOptions(),
		ConnectTimeout:     DefaultConnectTimeout,
		DisconnectTimeout:  DefaultDisconnectTimeout,
		NotificationBuffer: DefaultNotificationBuffer,
		StreamBuffer:       DefaultStreamBuffer,
		TranscriptSize:     DefaultTranscriptSize,
	}
}

func (o Options) withDefaults() Options {
	if o.Profile.Service.IsZero() {
		o.Profile = device.NordicUARTProfile
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if o.NotificationBuffer <= 0 {
		o.NotificationBuffer = DefaultNotificationBuffer
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = DefaultStreamBuffer
	}
	if o.TranscriptSize == 0 {
		o.TranscriptSize = DefaultTranscriptSize
	}
	return o
}

// Client is a BLE UART client. All methods are safe for concurrent use.
type Client struct {
	opts   Options
	logger *logrus.Logger

	central device.Central
	scanner *scanner.Controller
	machine *connection.Machine

	ctx      context.Context
	cancel   context.CancelFunc
	done     <-chan struct{}
	commands chan func()
	events   chan device.Event

	notifications *ringchan.RingChannel[Notification]
	transcript    *Transcript
	phase         atomic.Int32
	closeOnce     sync.Once

	// owned by the loop goroutine
	stream          *Stream
	connectTimer    *time.Timer
	disconnectTimer *time.Timer
}

// New creates a Client and starts its event loop.
func New(factory CentralFactory, opts Options, logger *logrus.Logger) (*Client, error) {
	if factory == nil {
		return nil, fmt.Errorf("central factory cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	transcript, err := NewTranscript(opts.TranscriptSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:          opts,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		commands:      make(chan func()),
		events:        make(chan device.Event, eventQueueSize),
		notifications: ringchan.New[Notification](opts.NotificationBuffer),
		transcript:    transcript,
	}

	central, err := factory(c.post)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create BLE central: %w", device.NormalizeError(err))
	}
	c.central = central

	l := clientListener{c}
	c.scanner = scanner.NewController(central, opts.Scan, l, logger)
	c.machine = connection.NewMachine(central, connection.Options{
		Profile:     opts.Profile,
		AddressType: opts.AddressType,
	}, l, logger)

	c.done = groutine.Go(ctx, "uart-loop", c.loop)
	return c, nil
}

func (c *Client) loop(ctx context.Context) {
	c.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Event loop started")
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.commands:
			fn()
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Client) dispatch(ev device.Event) {
	var err error
	if device.IsScanEvent(ev) {
		err = c.scanner.Handle(ev)
	} else {
		err = c.machine.Handle(ev)
	}
	if err != nil && !errors.Is(err, device.ErrStaleEvent) && !errors.Is(err, device.ErrIgnoredEvent) {
		c.logger.WithError(err).WithField("event", device.EventName(ev)).Warn("Event handling failed")
	}
}

func (c *Client) shutdown() {
	c.stopConnectTimer()
	c.stopDisconnectTimer()
	c.scanner.Stop()
	c.machine.Close()
	if c.stream != nil {
		c.stream.end()
		c.stream = nil
	}
	c.logger.Debug("Event loop stopped")
}

// post is the Emitter handed to the central.
func (c *Client) post(ev device.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// do runs fn on the loop and waits for it to return.
func (c *Client) do(fn func()) error {
	reply := make(chan struct{})
	cmd := func() {
		defer close(reply)
		fn()
	}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return device.ErrClosed
	}
	<-reply
	return nil
}

// submit queues fn on the loop without waiting.
func (c *Client) submit(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

// StartScan starts a discovery pass. A pass in flight is superseded.
func (c *Client) StartScan() error {
	return c.do(func() { c.scanner.StartScan() })
}

// StopScan ends a running pass early.
func (c *Client) StopScan() error {
	return c.do(func() { c.scanner.Stop() })
}

// StartConnect connects to the catalog entry at index. A running scan is
// stopped first and a live connection is replaced.
func (c *Client) StartConnect(index int) error {
	var err error
	if doErr := c.do(func() {
		var rec device.Record
		if rec, err = c.scanner.Record(index); err != nil {
			return
		}
		c.connect(rec)
	}); doErr != nil {
		return doErr
	}
	return err
}

// StartConnectTo connects to rec without consulting the catalog.
func (c *Client) StartConnectTo(rec device.Record) error {
	return c.do(func() { c.connect(rec) })
}

func (c *Client) connect(rec device.Record) {
	if c.scanner.Scanning() {
		c.logger.Debug("Stopping scan before connecting")
		c.scanner.Stop()
	}
	c.stopConnectTimer()
	c.stopDisconnectTimer()

	tag := c.machine.Connect(rec)
	if c.opts.ConnectTimeout > 0 {
		c.connectTimer = time.AfterFunc(c.opts.ConnectTimeout, func() {
			c.submit(func() {
				if c.machine.Abort(tag, device.ErrConnectTimeout) {
					c.logger.WithField("timeout", c.opts.ConnectTimeout).Warn("Connection setup timed out")
				}
			})
		})
	}
}

// WriteData sends data to Tx. Outside Ready it fails with ErrNotReady.
func (c *Client) WriteData(data []byte) error {
	var err error
	if doErr := c.do(func() {
		if err = c.machine.Write(data); err == nil {
			c.transcript.Record(Tx, data)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Disconnect starts an orderly teardown. When the peripheral never confirms
// the notification disable, the link is closed after the disconnect timeout.
func (c *Client) Disconnect() error {
	var err error
	if doErr := c.do(func() {
		if err = c.machine.Disconnect(); err != nil {
			return
		}
		if c.machine.Phase() == connection.Disconnecting && c.disconnectTimer == nil {
			tag := c.machine.Tag()
			c.disconnectTimer = time.AfterFunc(c.opts.DisconnectTimeout, func() {
				c.submit(func() { c.machine.ForceDisconnect(tag) })
			})
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// OpenStream returns a Stream over the Ready connection. Opening a new stream
// ends the previous one.
func (c *Client) OpenStream() (*Stream, error) {
	var (
		s   *Stream
		err error
	)
	if doErr := c.do(func() {
		if c.machine.Phase() != connection.Ready {
			err = &device.ConnectionError{State: device.NotReady, Msg: fmt.Sprintf("phase %s", c.machine.Phase())}
			return
		}
		if c.stream != nil {
			c.stream.end()
		}
		c.stream = newStream(c, c.opts.StreamBuffer, c.logger)
		s = c.stream
	}); doErr != nil {
		return nil, doErr
	}
	return s, err
}

func (c *Client) detachStream(s *Stream) {
	_ = c.do(func() {
		if c.stream == s {
			c.stream = nil
		}
	})
}

// Phase returns the current connection phase.
func (c *Client) Phase() connection.Phase {
	return connection.Phase(c.phase.Load())
}

// Snapshot returns the state of the live connection context.
func (c *Client) Snapshot() connection.Snapshot {
	var s connection.Snapshot
	if err := c.do(func() { s = c.machine.Snapshot() }); err != nil {
		return connection.Snapshot{Phase: c.Phase()}
	}
	return s
}

// DeviceListModel returns the discovered device names in catalog order.
func (c *Client) DeviceListModel() []string {
	var names []string
	_ = c.do(func() { names = c.scanner.DeviceListModel() })
	return names
}

// Records returns the discovered devices in catalog order.
func (c *Client) Records() []device.Record {
	var recs []device.Record
	_ = c.do(func() { recs = c.scanner.Records() })
	return recs
}

// Notifications returns the outcome channel. It never blocks the client: when
// the reader falls behind the oldest notifications are dropped. The channel is
// closed by Close.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications.C()
}

// NotificationStats counts traffic through the notification channel.
type NotificationStats struct {
	Buffered int
	Capacity int
	Sent     int64
	Dropped  int64
}

// NotificationStats returns instantaneous notification channel counters.
func (c *Client) NotificationStats() NotificationStats {
	m := c.notifications.Metrics()
	return NotificationStats{
		Buffered: c.notifications.Len(),
		Capacity: c.notifications.Cap(),
		Sent:     m.Written,
		Dropped:  m.Overwritten,
	}
}

// Transcript returns the history of exchanged frames.
func (c *Client) Transcript() *Transcript {
	return c.transcript
}

// Close stops the event loop, tears down any connection and releases the central.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		if cerr := c.central.Close(); cerr != nil {
			err = fmt.Errorf("failed to close BLE central: %w", cerr)
		}
		c.notifications.Close()
		c.logger.Debug("UART client closed")
	})
	return err
}

func (c *Client) notify(n Notification) {
	if c.notifications.Send(n) {
		c.logger.WithField("notification", n.String()).Warn("Notification buffer full, dropped oldest")
	}
}

func (c *Client) stopConnectTimer() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Client) stopDisconnectTimer() {
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
		c.disconnectTimer = nil
	}
}

// clientListener adapts scanner and connection callbacks into notifications.
// Every method runs on the loop goroutine.
type clientListener struct{ c *Client }

func (l clientListener) ScanningFinished(names []string) {
	l.c.notify(ScanningFinished{Names: names})
}

func (l clientListener) DeviceListChanged(names []string) {
	l.c.notify(DeviceListChanged{Names: names})
}

func (l clientListener) PhaseChanged(from, to connection.Phase) {
	c := l.c
	c.phase.Store(int32(to))
	if from == connection.Ready && c.stream != nil {
		c.stream.end()
		c.stream = nil
	}
	if to == connection.Ready || to.IsSettled() {
		c.stopConnectTimer()
	}
	if to.IsSettled() {
		c.stopDisconnectTimer()
	}
	c.notify(PhaseChanged{From: from, To: to})
}

func (l clientListener) ConnectionReady(target device.Record) {
	l.c.notify(ConnectionReady{Device: target})
}

func (l clientListener) NewData(data []byte) {
	c := l.c
	c.transcript.Record(Rx, data)
	if c.stream != nil {
		c.stream.deliver(data)
	}
	c.notify(NewData{Data: data})
}

func (l clientListener) ErrorReported(err error) {
	l.c.notify(ErrorReported{Err: err})
}
