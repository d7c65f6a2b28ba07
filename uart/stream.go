package uart

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// Stream exposes a Ready connection as an io.ReadWriteCloser. Reads return
// notification payloads in arrival order; writes go to Tx. The stream ends with
// io.EOF once the connection leaves Ready.
type Stream struct {
	client *Client
	logger *logrus.Logger

	buf       *ringbuffer.RingBuffer
	readable  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	dropped uint64
}

// StreamStats provides counters for a Stream.
type StreamStats struct {
	Buffered     int
	Capacity     int
	DroppedBytes uint64
}

func newStream(c *Client, capacity int, logger *logrus.Logger) *Stream {
	return &Stream{
		client:   c,
		logger:   logger,
		buf:      ringbuffer.New(capacity),
		readable: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// deliver buffers data for Read. Bytes that do not fit are dropped.
func (s *Stream) deliver(data []byte) {
	written, err := s.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		s.logger.WithError(err).Warn("Stream buffer write failed")
		return
	}
	if written < len(data) {
		dropped := len(data) - written
		atomic.AddUint64(&s.dropped, uint64(dropped))
		s.logger.WithFields(logrus.Fields{
			"dropped":  dropped,
			"received": len(data),
		}).Warn("Stream buffer overflow")
	}
	if written > 0 {
		select {
		case s.readable <- struct{}{}:
		default:
		}
	}
}

// Read blocks until data is available or the stream ends.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := s.buf.TryRead(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		select {
		case <-s.readable:
		case <-s.closed:
			if s.buf.IsEmpty() {
				return 0, io.EOF
			}
		}
	}
}

// Write sends p to Tx as a single write.
func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.client.WriteData(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close detaches the stream from the client. Buffered data stays readable.
func (s *Stream) Close() error {
	s.client.detachStream(s)
	s.end()
	return nil
}

func (s *Stream) end() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Stats returns instantaneous buffer counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Buffered:     s.buf.Length(),
		Capacity:     s.buf.Capacity(),
		DroppedBytes: atomic.LoadUint64(&s.dropped),
	}
}
