package bridge_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/srg/bleuart/bridge"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/testutils"
	"github.com/srg/bleuart/pkg/connection"
	"github.com/srg/bleuart/uart"
	"github.com/stretchr/testify/suite"
)

const (
	echoAddr   = "AA:BB:CC:DD:EE:10"
	brokenAddr = "AA:BB:CC:DD:EE:11"
)

type BridgeTestSuite struct {
	testutils.FakeCentralSuite

	echo   *testutils.Peripheral
	broken *testutils.Peripheral
	client *uart.Client
}

func (s *BridgeTestSuite) SetupTest() {
	s.echo = testutils.CreateUARTPeripheral("Echo", echoAddr).WithEcho("ffe1").Build()
	s.broken = testutils.NewPeripheralBuilder().
		WithName("Broken").WithAddress(brokenAddr).
		WithService("180f").WithCharacteristic("2a19", "read,notify").
		Build()
	s.WithPeripherals(s.echo, s.broken)
	s.FakeCentralSuite.SetupTest()

	opts := uart.DefaultOptions()
	opts.Profile = device.HM10Profile
	central := s.Central
	c, err := uart.New(func(emit device.Emitter) (device.Central, error) {
		central.Attach(emit)
		return central, nil
	}, opts, s.Logger)
	s.Require().NoError(err)
	s.client = c
}

func (s *BridgeTestSuite) TearDownTest() {
	s.NoError(s.client.Close())
	s.FakeCentralSuite.TearDownTest()
}

// openSlave opens the bridge tty the way a terminal program would.
func (s *BridgeTestSuite) openSlave(b bridge.Bridge) *os.File {
	f, err := os.OpenFile(b.TTYName(), os.O_RDWR|syscall.O_NOCTTY, 0)
	s.Require().NoError(err)
	return f
}

func (s *BridgeTestSuite) TestBridge_EchoesThroughPTY() {
	// GOAL: Verify bytes written to the PTY reach the device and device notifications reach the PTY
	//
	// TEST SCENARIO: Write "ping" to slave → Tx write → peripheral echoes on Rx → "ping" read back from slave
	var phases []string
	link := filepath.Join(s.T().TempDir(), "ble-uart")

	got, err := bridge.Run(context.Background(), s.client, &bridge.Options{
		Target:         s.echo.Record,
		Logger:         s.Logger,
		TTYSymlinkPath: link,
	}, func(p string) { phases = append(phases, p) }, func(b bridge.Bridge) (string, error) {
		target, err := os.Readlink(link)
		s.Require().NoError(err, "symlink MUST exist while the bridge runs")
		s.Equal(b.TTYName(), target)

		tty := s.openSlave(b)
		defer tty.Close()

		_, err = tty.Write([]byte("ping"))
		s.Require().NoError(err)

		out := make(chan string, 1)
		go func() {
			buf := make([]byte, 0, 4)
			chunk := make([]byte, 16)
			for len(buf) < 4 {
				n, err := tty.Read(chunk)
				if err != nil {
					break
				}
				buf = append(buf, chunk[:n]...)
			}
			out <- string(buf)
		}()

		select {
		case v := <-out:
			return v, nil
		case <-time.After(s.TestTimeout):
			return "", context.DeadlineExceeded
		}
	})

	s.Require().NoError(err)
	s.Equal("ping", got, "echoed bytes MUST come back through the PTY")
	s.Contains(phases, "Connecting")
	s.Contains(phases, "Running")
	_, err = os.Lstat(link)
	s.True(os.IsNotExist(err), "symlink MUST be removed after the run")

	frames, err := uart.ConsumeFrames(s.client.Transcript(), uart.CollectFramesConsumerFunc())
	s.Require().NoError(err)
	s.Require().NotEmpty(frames)
	s.Equal(uart.Tx, frames[0].Dir, "PTY input MUST be recorded as Tx first")
}

func (s *BridgeTestSuite) TestBridge_SetupFailureIsReported() {
	// GOAL: Verify a peripheral without the UART service fails the run before any PTY is created
	//
	// TEST SCENARIO: Broken peripheral → Failed phase → error carries the not-found cause, callback never runs
	called := false
	_, err := bridge.Run(context.Background(), s.client, &bridge.Options{Target: s.broken.Record, Logger: s.Logger}, nil,
		func(bridge.Bridge) (struct{}, error) {
			called = true
			return struct{}{}, nil
		})

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "service"), "error MUST carry the missing service cause, got %v", err)
	s.False(called, "callback MUST NOT run when setup fails")
	s.Equal(connection.Failed, s.client.Phase())
}

func (s *BridgeTestSuite) TestBridge_RejectsMissingTarget() {
	_, err := bridge.Run(context.Background(), s.client, &bridge.Options{}, nil,
		func(bridge.Bridge) (int, error) { return 0, nil })
	s.Error(err)

	_, err = bridge.Run[int](context.Background(), s.client, nil, nil, nil)
	s.Error(err)
}

func (s *BridgeTestSuite) TestBridge_ContextCancelAbortsConnect() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bridge.Run(ctx, s.client, &bridge.Options{Target: s.echo.Record}, nil,
		func(bridge.Bridge) (int, error) { return 0, nil })
	s.ErrorIs(err, context.Canceled)
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
