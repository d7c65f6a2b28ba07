package uart

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Direction tells which way a frame travelled.
type Direction uint8

const (
	Rx Direction = iota // peripheral to host
	Tx                  // host to peripheral
)

func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// Frame is one payload exchanged over the UART link.
type Frame struct {
	At   time.Time
	Dir  Direction
	Data []byte
}

// TranscriptMetrics provides lock-free counters for a Transcript.
// All fields use atomic operations for thread-safe access.
type TranscriptMetrics struct {
	FramesRecorded    int64
	FramesOverwritten int64
	ErrorsOccurred    int64
	BytesRx           int64
	BytesTx           int64
}

func (m *TranscriptMetrics) snapshot() TranscriptMetrics {
	return TranscriptMetrics{
		FramesRecorded:    atomic.LoadInt64(&m.FramesRecorded),
		FramesOverwritten: atomic.LoadInt64(&m.FramesOverwritten),
		ErrorsOccurred:    atomic.LoadInt64(&m.ErrorsOccurred),
		BytesRx:           atomic.LoadInt64(&m.BytesRx),
		BytesTx:           atomic.LoadInt64(&m.BytesTx),
	}
}

// MaxTranscriptSize caps the ring size to guard against misconfiguration.
const MaxTranscriptSize uint32 = 1024 * 1024

// Transcript keeps a bounded history of frames. When full the oldest frames
// are overwritten. All methods are thread-safe.
type Transcript struct {
	buffer  mpmc.RichOverlappedRingBuffer[Frame]
	metrics TranscriptMetrics
	now     func() time.Time
}

// NewTranscript creates a transcript holding roughly size frames.
func NewTranscript(size uint32) (*Transcript, error) {
	if size == 0 {
		return nil, fmt.Errorf("transcript size must be > 0")
	}
	if size > MaxTranscriptSize {
		return nil, fmt.Errorf("transcript size %d exceeds maximum %d", size, MaxTranscriptSize)
	}
	return &Transcript{
		buffer: mpmc.NewOverlappedRingBuffer[Frame](size),
		now:    time.Now,
	}, nil
}

// Record appends a copy of data.
func (t *Transcript) Record(dir Direction, data []byte) {
	f := Frame{At: t.now(), Dir: dir, Data: append([]byte(nil), data...)}
	overwrites, err := t.buffer.EnqueueM(f)
	if err != nil {
		atomic.AddInt64(&t.metrics.ErrorsOccurred, 1)
		return
	}
	atomic.AddInt64(&t.metrics.FramesOverwritten, int64(overwrites))
	atomic.AddInt64(&t.metrics.FramesRecorded, 1)
	if dir == Tx {
		atomic.AddInt64(&t.metrics.BytesTx, int64(len(data)))
	} else {
		atomic.AddInt64(&t.metrics.BytesRx, int64(len(data)))
	}
}

// Metrics returns a copy of the current counters.
func (t *Transcript) Metrics() TranscriptMetrics {
	return t.metrics.snapshot()
}

// ConsumerFunc consumes frames drained from a Transcript.
//
// Protocol:
//   - frame != nil: process it. Return the zero value to continue or a non-zero
//     result to stop early.
//   - frame == nil: no more frames. Return the final result.
type ConsumerFunc[T any] func(frame *Frame) (T, error)

// ConsumeFrames drains buffered frames into consumer, oldest first.
func ConsumeFrames[T any](t *Transcript, consumer ConsumerFunc[T]) (T, error) {
	for !t.buffer.IsEmpty() {
		f, err := t.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("transcript dequeue: %w", err)
		}

		result, err := consumer(&f)
		if err != nil {
			return result, err
		}
		if !isZeroValue(result) {
			return result, nil
		}
	}
	return consumer(nil)
}

func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}

// CollectFramesConsumerFunc returns a ConsumerFunc that gathers every frame.
func CollectFramesConsumerFunc() ConsumerFunc[[]Frame] {
	var frames []Frame
	return func(f *Frame) ([]Frame, error) {
		if f == nil {
			return frames, nil
		}
		frames = append(frames, *f)
		return nil, nil
	}
}

// HexDumpConsumerFunc returns a ConsumerFunc that renders frames as
// direction-tagged hex dumps.
func HexDumpConsumerFunc() ConsumerFunc[string] {
	var b strings.Builder
	return func(f *Frame) (string, error) {
		if f == nil {
			return b.String(), nil
		}
		fmt.Fprintf(&b, "%s %s %d byte(s)\n", f.At.Format("15:04:05.000"), f.Dir, len(f.Data))
		b.WriteString(hex.Dump(f.Data))
		return "", nil
	}
}
