// Package bridge exposes a Ready BLE UART connection as a pseudo-terminal so
// serial tools (screen, minicom, pyserial) can talk to the peripheral.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/groutine"
	"github.com/srg/bleuart/internal/ptyio"
	"github.com/srg/bleuart/pkg/connection"
	"github.com/srg/bleuart/uart"
)

// Bridge is a running BLE-PTY bridge.
type Bridge interface {
	TTYName() string    // slave device path
	TTYSymlink() string // symlink path, empty if not created
	Stats() Stats
	// Done is closed when the connection leaves Ready.
	Done() <-chan struct{}
}

// Stats combines both sides of the bridge.
type Stats struct {
	PTY    ptyio.Stats
	Stream uart.StreamStats
}

// Options configures a bridge run.
type Options struct {
	Target         device.Record
	Logger         *logrus.Logger
	PtyReadCap     int    // bytes from the PTY slave (0 = default)
	PtyWriteCap    int    // bytes queued for the PTY slave (0 = default)
	TTYSymlinkPath string // optional symlink to the slave, e.g. /tmp/ble-uart
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// Callback is executed with the running bridge.
type Callback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	port    *ptyio.Port
	stream  *uart.Stream
	symlink string
	done    chan struct{}
}

func (b *bridgeImpl) TTYName() string       { return b.port.Name() }
func (b *bridgeImpl) TTYSymlink() string    { return b.symlink }
func (b *bridgeImpl) Done() <-chan struct{} { return b.done }

func (b *bridgeImpl) Stats() Stats {
	return Stats{PTY: b.port.Stats(), Stream: b.stream.Stats()}
}

// Run connects client to opts.Target, opens a PTY wired to the UART stream and
// executes callback with the running bridge. Everything is torn down, and the
// connection is closed, when callback returns.
//
// Run consumes client.Notifications until the connection is Ready.
func Run[R any](
	ctx context.Context,
	client *uart.Client,
	opts *Options,
	progress ProgressCallback,
	callback Callback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Target.Address() == "" {
		return zero, fmt.Errorf("failed to execute bridge: device address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	progress("Connecting")
	if err := client.StartConnectTo(opts.Target); err != nil {
		return zero, err
	}
	defer func() {
		if err := client.Disconnect(); err != nil && !errors.Is(err, device.ErrClosed) {
			logger.WithError(err).Debug("Disconnect after bridge failed")
		}
	}()
	if err := client.AwaitReady(ctx, func(p connection.Phase) { progress(p.String()) }); err != nil {
		progress("Failed")
		return zero, fmt.Errorf("failed to connect to device %s: %w", opts.Target, err)
	}
	progress("Connected")

	stream, err := client.OpenStream()
	if err != nil {
		return zero, err
	}
	defer func() { _ = stream.Close() }()

	progress("Setting up PTY")
	port, err := ptyio.Open(ptyio.Options{
		ReadCap:  opts.PtyReadCap,
		WriteCap: opts.PtyWriteCap,
		Logger:   logger,
	})
	if err != nil {
		return zero, err
	}
	defer func() { _ = port.Close() }()
	logger.WithField("tty", port.Name()).Info("Created PTY device")

	b := &bridgeImpl{port: port, stream: stream, done: make(chan struct{})}

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(port.Name(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, port.Name(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		defer func() {
			if err := os.Remove(b.symlink); err != nil {
				logger.WithError(err).WithField("ttySymlink", b.symlink).Warn("Failed to remove tty symlink")
			}
		}()
		logger.WithFields(logrus.Fields{"ttySymlink": b.symlink, "target": port.Name()}).Info("Created PTY symlink")
	}

	// PTY -> BLE runs on the port's read loop; BLE -> PTY on its own goroutine.
	port.OnInput(func(data []byte) {
		if _, err := stream.Write(data); err != nil {
			logger.WithError(err).Warn("Failed to forward PTY input to device")
		}
	})
	defer port.OnInput(nil)
	pumpDone := groutine.Go(ctx, "bridge-ble-to-pty", func(context.Context) {
		defer close(b.done)
		pump(stream, port, logger)
	})

	progress("Running")
	result, err := callback(b)

	_ = stream.Close()
	<-pumpDone
	return result, err
}

func pump(stream *uart.Stream, port *ptyio.Port, logger *logrus.Logger) {
	buf := make([]byte, ptyio.DefaultBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if w, _ := port.Write(buf[:n]); w < n {
				logger.WithField("dropped", n-w).Warn("PTY queue full, device data dropped")
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Warn("Device stream read failed")
			}
			return
		}
	}
}
