// Package ptyio exposes a pseudo-terminal master as a non-blocking port.
// Bytes written to the port are queued for the slave; bytes the slave
// produces are handed to an input handler or buffered for Read.
//
//	port, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	fmt.Println(port.Name()) // "/dev/pts/5", "/dev/ttys012"
//	port.OnInput(func(b []byte) { stream.Write(b) })
//
// Both directions are bounded by smallnest ring buffers. When a buffer is
// full the excess bytes are dropped and counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/bleuart/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultBufferSize  = 4096
	DefaultPollTimeout = 50 * time.Millisecond

	closeTimeout = 5 * time.Second
)

// Options configures Open. Zero values take the defaults.
type Options struct {
	ReadCap     int // bytes buffered from the slave while no input handler is set
	WriteCap    int // bytes queued for the slave
	PollTimeout time.Duration
	Logger      *logrus.Logger
	// OnError is called once per loop when it stops on an unexpected error.
	OnError func(error)
}

// Stats are instantaneous counters of a Port.
type Stats struct {
	ReadQueueLen  int
	ReadQueueCap  int
	WriteQueueLen int
	WriteQueueCap int

	DroppedRead  uint64
	DroppedWrite uint64
	BytesRead    uint64
	BytesWritten uint64
}

// Port is an open PTY pair. The slave stays open for the lifetime of the
// port so the device node does not vanish between client sessions.
type Port struct {
	logger  *logrus.Logger
	master  *os.File
	fd      int // master; os.File.Fd would switch it back to blocking mode
	slave   *os.File
	name    string
	poll    int // milliseconds
	onError func(error)
	errOnce sync.Once

	readBuf  *ringbuffer.RingBuffer
	writeBuf *ringbuffer.RingBuffer
	pending  chan struct{}

	inputMu sync.Mutex
	input   func([]byte)

	cancel    context.CancelFunc
	readDone  <-chan struct{}
	writeDone <-chan struct{}
	closed    atomic.Bool

	droppedRead  atomic.Uint64
	droppedWrite atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Open creates a raw-mode PTY pair and starts its I/O loops.
func Open(opts Options) (*Port, error) {
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultBufferSize
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, fd, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		logger:   logger,
		master:   master,
		fd:       fd,
		slave:    slave,
		name:     slave.Name(),
		poll:     int(opts.PollTimeout / time.Millisecond),
		onError:  opts.OnError,
		readBuf:  ringbuffer.New(opts.ReadCap),
		writeBuf: ringbuffer.New(opts.WriteCap),
		pending:  make(chan struct{}, 1),
		cancel:   cancel,
	}
	p.readDone = groutine.Go(ctx, "pty-read-loop", p.readLoop)
	p.writeDone = groutine.Go(ctx, "pty-write-loop", p.writeLoop)

	logger.WithField("tty", p.name).Debug("PTY opened")
	return p, nil
}

func openRaw() (master *os.File, fd int, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, int, *os.File, error) {
		name := slave.Name()
		return nil, 0, nil, errors.Join(
			fmt.Errorf("failed to set PTY %s to %s: %w", name, step, err),
			master.Close(),
			slave.Close(),
		)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw mode", err)
	}
	fd = int(master.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		return fail("non-blocking mode", err)
	}
	return master, fd, slave, nil
}

// Name returns the slave device path.
func (p *Port) Name() string { return p.name }

// OnInput routes slave output to fn, starting with anything already buffered.
// Pass nil to buffer for Read again. fn runs on the read loop goroutine.
func (p *Port) OnInput(fn func([]byte)) {
	p.inputMu.Lock()
	defer p.inputMu.Unlock()
	p.input = fn
	if fn == nil {
		return
	}
	buf := make([]byte, DefaultBufferSize)
	for {
		n, _ := p.readBuf.TryRead(buf)
		if n == 0 {
			return
		}
		fn(append([]byte(nil), buf[:n]...))
	}
}

// Write queues data for the slave and never blocks. A short count means the
// queue was full and the rest was dropped.
func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if dropped := len(data) - n; dropped > 0 {
		p.droppedWrite.Add(uint64(dropped))
		p.logger.WithFields(logrus.Fields{"tty": p.name, "dropped": dropped}).Warn("PTY write queue overflow")
	}
	select {
	case p.pending <- struct{}{}:
	default:
	}
	return n, nil
}

// Read returns buffered slave output without blocking. It returns
// syscall.EAGAIN when nothing is buffered.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *Port) Stats() Stats {
	return Stats{
		ReadQueueLen:  p.readBuf.Length(),
		ReadQueueCap:  p.readBuf.Capacity(),
		WriteQueueLen: p.writeBuf.Length(),
		WriteQueueCap: p.writeBuf.Capacity(),
		DroppedRead:   p.droppedRead.Load(),
		DroppedWrite:  p.droppedWrite.Load(),
		BytesRead:     p.bytesRead.Load(),
		BytesWritten:  p.bytesWritten.Load(),
	}
}

func (p *Port) fatal(loop string, err error) {
	p.logger.WithError(err).WithField("tty", p.name).Warnf("PTY %s loop stopped", loop)
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("pty %s loop: %w", loop, err)) })
	}
}

func (p *Port) deliver(chunk []byte) {
	p.inputMu.Lock()
	fn := p.input
	if fn != nil {
		p.inputMu.Unlock()
		fn(chunk)
		return
	}
	defer p.inputMu.Unlock()

	n, err := p.readBuf.Write(chunk)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		p.logger.WithError(err).Warn("PTY read buffer write failed")
	}
	if dropped := len(chunk) - n; dropped > 0 {
		p.droppedRead.Add(uint64(dropped))
		p.logger.WithFields(logrus.Fields{"tty": p.name, "dropped": dropped}).Warn("PTY read buffer overflow")
	}
}

func (p *Port) readLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	buf := make([]byte, DefaultBufferSize)

	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			p.bytesRead.Add(uint64(n))
			p.deliver(append([]byte(nil), buf[:n]...))
		}
		switch {
		case err == nil,
			errors.Is(err, syscall.EAGAIN),
			errors.Is(err, syscall.EINTR):
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
			return
		case errors.Is(err, syscall.EIO):
			// No process holds the slave open; keep polling until one does.
			time.Sleep(time.Duration(p.poll) * time.Millisecond)
		default:
			p.fatal("read", err)
			return
		}
	}
}

func (p *Port) writeLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	buf := make([]byte, DefaultBufferSize)

	for {
		if p.writeBuf.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-p.pending:
			}
		}

		n, _ := p.writeBuf.TryRead(buf)
		for off := 0; off < n; {
			w, err := p.master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.bytesWritten.Add(uint64(w))
			}
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if ctx.Err() != nil {
					return
				}
				_, _ = unix.Poll(fds, p.poll)
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fatal("write", err)
				return
			}
		}
	}
}

// Close stops the loops and closes both ends. Idempotent.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := errors.Join(p.master.Close(), p.slave.Close())

	for _, done := range []<-chan struct{}{p.readDone, p.writeDone} {
		select {
		case <-done:
		case <-time.After(closeTimeout):
			p.logger.WithField("tty", p.name).Error("PTY loop did not stop in time")
		}
	}
	return err
}
