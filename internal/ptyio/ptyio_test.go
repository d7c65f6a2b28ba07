package ptyio

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPort(t *testing.T, opts Options) *Port {
	t.Helper()
	p, err := Open(opts)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPort_WriteReachesSlave(t *testing.T) {
	p := openPort(t, Options{})
	require.NotEmpty(t, p.Name())

	n, err := p.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	received := make(chan string, 1)
	go func() {
		got := make([]byte, 0, 5)
		buf := make([]byte, 16)
		for len(got) < 5 {
			n, err := p.slave.Read(buf)
			if err != nil {
				break
			}
			got = append(got, buf[:n]...)
		}
		received <- string(got)
	}()
	select {
	case got := <-received:
		assert.Equal(t, "hello", got, "raw-mode slave MUST receive bytes unchanged")
	case <-time.After(2 * time.Second):
		t.Fatal("slave MUST receive queued bytes")
	}
	assert.Eventually(t, func() bool { return p.Stats().BytesWritten == 5 }, time.Second, 10*time.Millisecond)
}

func TestPort_SlaveOutputIsBufferedThenHandedToInput(t *testing.T) {
	p := openPort(t, Options{PollTimeout: 10 * time.Millisecond})

	_, err := p.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, syscall.EAGAIN), "empty port MUST report EAGAIN")

	_, err = p.slave.Write([]byte("AT"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().ReadQueueLen == 2 }, 2*time.Second, 10*time.Millisecond)

	received := make(chan []byte, 4)
	p.OnInput(func(b []byte) { received <- b })
	assert.Equal(t, []byte("AT"), <-received, "buffered bytes MUST be flushed to a new handler")

	_, err = p.slave.Write([]byte("+OK"))
	require.NoError(t, err)
	select {
	case b := <-received:
		assert.Equal(t, []byte("+OK"), b)
	case <-time.After(2 * time.Second):
		t.Fatal("handler MUST receive slave output")
	}
}

func TestPort_CloseRejectsIO(t *testing.T) {
	p := openPort(t, Options{WriteCap: 8})
	require.NoError(t, p.Close())

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, p.Close(), "Close MUST be idempotent")
}
