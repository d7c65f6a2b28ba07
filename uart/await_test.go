package uart_test

import (
	"context"
	"errors"

	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/pkg/connection"
)

func (s *ClientTestSuite) TestAwaitScan_ReturnsFrozenCatalog() {
	// GOAL: Verify AwaitScan blocks until the pass finishes and returns the catalog
	//
	// TEST SCENARIO: Start scan → AwaitScan → Widget record returned, list change observed
	s.start(hm10Options(), true)

	var lists [][]string
	s.Require().NoError(s.client.StartScan())
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	recs, err := s.client.AwaitScan(ctx, func(names []string) { lists = append(lists, names) })

	s.Require().NoError(err, "scan MUST finish")
	s.Require().Len(recs, 1)
	s.Equal(widgetAddr, recs[0].Address())
	s.Equal([][]string{{"Widget"}}, lists, "list change MUST be forwarded once")
}

func (s *ClientTestSuite) TestAwaitScan_ReturnsScanError() {
	// GOAL: Verify a failed pass surfaces its classified error
	//
	// TEST SCENARIO: Radio off → AwaitScan returns ScanError wrapping ErrBluetoothOff
	s.Central.WithScanError(errors.New("adapter is powered off"))
	s.start(hm10Options(), true)

	s.Require().NoError(s.client.StartScan())
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	_, err := s.client.AwaitScan(ctx, nil)

	var se *device.ScanError
	s.Require().ErrorAs(err, &se, "scan failure MUST be a ScanError")
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *ClientTestSuite) TestAwaitReady_ReportsPhasesAndCause() {
	// GOAL: Verify AwaitReady forwards phases and returns the failure cause
	//
	// TEST SCENARIO: Connect to Plain (no UART service) → Failed → NotFound service error
	s.WithPeripherals(s.plain)
	s.FakeCentralSuite.SetupTest()
	s.start(hm10Options(), true)

	var phases []connection.Phase
	s.Require().NoError(s.client.StartConnectTo(s.plain.Record))
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	err := s.client.AwaitReady(ctx, func(p connection.Phase) { phases = append(phases, p) })

	s.Require().Error(err)
	s.True(device.IsNotFound(err, "service"), "cause MUST be the missing service: %v", err)
	s.Require().NotEmpty(phases)
	s.Equal(connection.Connecting, phases[0])
	s.Equal(connection.Failed, phases[len(phases)-1])
}

func (s *ClientTestSuite) TestAwaitReady_CancelledContext() {
	// GOAL: Verify AwaitReady honours a cancelled context
	//
	// TEST SCENARIO: Radio never answers → cancelled ctx → context.Canceled
	s.start(hm10Options(), false)

	s.Require().NoError(s.client.StartConnectTo(s.widget.Record))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.ErrorIs(s.client.AwaitReady(ctx, nil), context.Canceled)
}
