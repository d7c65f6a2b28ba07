package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// ConnectTestSuite runs the connect command against an echoing UART peripheral.
type ConnectTestSuite struct {
	CommandTestSuite

	originalInput io.Reader
}

func (s *ConnectTestSuite) SetupTest() {
	s.WithPeripherals(
		testutils.CreateNordicUARTPeripheral("Widget", TestDeviceAddress1).WithEcho("6e400003-b5a3-f393-e0a9-e50e24dcca9e").Build(),
		testutils.CreateUARTPeripheral("Module", TestDeviceAddress2).WithEcho("ffe1").Build(),
	)
	s.CommandTestSuite.SetupTest()
	s.originalInput = terminalInput
}

func (s *ConnectTestSuite) TearDownTest() {
	terminalInput = s.originalInput
	s.CommandTestSuite.TearDownTest()
}

func (s *ConnectTestSuite) TestConnect_SendPrintsEcho() {
	// GOAL: Verify --send writes to Tx and prints the notifications that come back
	//
	// TEST SCENARIO: connect --send hello Widget → echo on the Nordic Rx → "hello" on stdout → orderly disconnect
	output, err := s.ExecuteCommand("connect", "--send", "hello", "--wait", "200ms", "Widget")
	s.Require().NoError(err, "session MUST end cleanly")

	s.Equal("hello", output)

	link := s.Central.LastLink()
	s.Require().NotNil(link)
	s.Require().Len(link.Services(), 1)
	writes := link.Services()[0].DescriptorWrites()
	s.Require().Len(writes, 2, "notifications MUST be enabled then disabled")
	s.Equal([]byte{0x01, 0x00}, writes[0].Value)
	s.Equal([]byte{0x00, 0x00}, writes[1].Value)
}

func (s *ConnectTestSuite) TestConnect_ByAddressUsesCatalogIndex() {
	// GOAL: Verify the target is resolved by address through a scan pass
	//
	// TEST SCENARIO: connect by the HM-10 module's address with --preset hm10 → dial of that address
	output, err := s.ExecuteCommand("connect", "--preset", "hm10", "--send", "ping", "--wait", "200ms", TestDeviceAddress2)
	s.Require().NoError(err)

	s.Equal("ping", output)
	s.Require().Len(s.Central.Scans(), 1, "target MUST be resolved with one scan")
	s.Require().Len(s.Central.Connects(), 1)
	s.Equal(TestDeviceAddress2, s.Central.Connects()[0].Address)
	s.Equal(device.RandomAddress, s.Central.Connects()[0].AddressType)
}

func (s *ConnectTestSuite) TestConnect_NoScanDialsDirectly() {
	// GOAL: Verify --no-scan skips discovery and honours --address-type
	//
	// TEST SCENARIO: --no-scan --address-type public → no scan, public dial
	_, err := s.ExecuteCommand("connect", "--no-scan", "--address-type", "public", "--send", "x", "--wait", "50ms", TestDeviceAddress1)
	s.Require().NoError(err)

	s.Empty(s.Central.Scans(), "no scan MUST run with --no-scan")
	s.Require().Len(s.Central.Connects(), 1)
	s.Equal(device.PublicAddress, s.Central.Connects()[0].AddressType)
}

func (s *ConnectTestSuite) TestConnect_UnknownDevice() {
	// GOAL: Verify an unresolved target fails with a device NotFound error
	//
	// TEST SCENARIO: connect Ghost → scan finds no match → NotFound "device", no dial
	_, err := s.ExecuteCommand("connect", "--send", "x", "Ghost")

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "device"), "MUST be a device NotFound error, got %v", err)
	s.Contains(FormatUserError(err), "bleuart scan")
	s.Empty(s.Central.Connects())
}

func (s *ConnectTestSuite) TestConnect_WrongProfileFails() {
	// GOAL: Verify a missing UART service fails the setup with the profile hint
	//
	// TEST SCENARIO: Nordic peripheral with --preset hm10 → NotFound service
	_, err := s.ExecuteCommand("connect", "--preset", "hm10", "--send", "x", "Widget")

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "service"), "MUST be a service NotFound error, got %v", err)
	s.Contains(FormatUserError(err), "--preset")
}

func (s *ConnectTestSuite) TestConnect_PipedInputAndTranscript() {
	// GOAL: Verify piped input is relayed and the transcript is dumped on exit
	//
	// TEST SCENARIO: stdin "abc" → echo "abc" → hex dump lists tx and rx frames
	terminalInput = bytes.NewBufferString("abc")

	output, err := s.ExecuteCommand("connect", "--wait", "200ms", "--transcript", "Widget")
	s.Require().NoError(err)

	s.True(strings.HasPrefix(output, "abc"), "device echo MUST come first, got %q", output)
	s.Contains(output, "tx 3 byte(s)")
	s.Contains(output, "rx 3 byte(s)")
}

func (s *ConnectTestSuite) TestConnect_EscapeByteEndsSession() {
	// GOAL: Verify Ctrl+] ends the session without sending it
	//
	// TEST SCENARIO: input "hi" + 0x1d + "lost" → only "hi" reaches the device
	terminalInput = bytes.NewBufferString("hi\x1dlost")

	output, err := s.ExecuteCommand("connect", "--wait", "10s", "Widget")
	s.Require().NoError(err)

	writes := s.Central.LastLink().Services()[0].Writes()
	s.Require().Len(writes, 1)
	s.Equal([]byte("hi"), writes[0])
	s.NotContains(output, "lost")
}

func (s *ConnectTestSuite) TestConnect_DropReportsConnectionLost() {
	// GOAL: Verify a remote drop during the session fails with ErrConnectionLost
	//
	// TEST SCENARIO: session running → peripheral drops → ErrConnectionLost wrapping the remote close
	out := new(syncBuffer)
	pr, pw := io.Pipe()
	defer pw.Close()
	terminalInput = pr

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ExecuteCommandContext(context.Background(), out, "connect", "Widget")
		errCh <- err
	}()

	s.Require().Eventually(func() bool {
		l := s.Central.LastLink()
		return l != nil && len(l.Services()) == 1 && len(l.Services()[0].DescriptorWrites()) == 1
	}, s.TestTimeout, 10*time.Millisecond, "notifications MUST be enabled")
	_, err := pw.Write([]byte("up"))
	s.Require().NoError(err)
	s.Require().Eventually(func() bool { return out.String() == "up" }, s.TestTimeout, 10*time.Millisecond)

	s.Central.DropLink()

	select {
	case err := <-errCh:
		s.Require().Error(err)
		s.True(errors.Is(err, ErrConnectionLost), "MUST report connection lost, got %v", err)
	case <-time.After(s.TestTimeout):
		s.FailNow("connect did not return after the drop")
	}
}

func (s *ConnectTestSuite) TestConnect_CancelledContextExitsQuietly() {
	// GOAL: Verify Ctrl+C during a session ends the command with context.Canceled
	//
	// TEST SCENARIO: session running → ctx cancelled → context.Canceled, link released
	pr, pw := io.Pipe()
	defer pw.Close()
	terminalInput = pr

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.ExecuteCommandContext(ctx, new(syncBuffer), "connect", "Widget")
		errCh <- err
	}()

	s.Require().Eventually(func() bool {
		l := s.Central.LastLink()
		return l != nil && len(l.Services()) == 1 && len(l.Services()[0].DescriptorWrites()) == 1
	}, s.TestTimeout, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(s.TestTimeout):
		s.FailNow("connect did not return after cancellation")
	}
	s.Equal(1, s.Central.LastLink().CloseCount(), "link MUST be closed once")
}

func TestConnectTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectTestSuite))
}
