package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST survive")

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestSendAfterClose_IsNoop(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(2) }, "send after close MUST NOT panic")
	assert.False(t, rc.Send(3), "send after close MUST NOT report a drop")

	v, ok := <-rc.C()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = <-rc.C()
	assert.False(t, ok, "closed and drained channel MUST report !ok")
	assert.Equal(t, int64(1), rc.Metrics().Written, "sends after close MUST NOT be counted")
}

func TestConcurrentProducers(t *testing.T) {
	rc := New[int](16)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, rc.Len())
	assert.Equal(t, 16, rc.Cap())
	m := rc.Metrics()
	assert.Equal(t, int64(8000), m.Written)
	assert.Equal(t, int64(8000-16), m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
