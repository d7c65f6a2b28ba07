package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// ScanTestSuite runs the scan command against a fake radio.
type ScanTestSuite struct {
	CommandTestSuite
}

func (s *ScanTestSuite) SetupTest() {
	s.WithPeripherals(
		testutils.CreateUARTPeripheral("Widget", TestDeviceAddress1).WithRSSI(-40).Build(),
		testutils.NewPeripheralBuilder().WithName("Sensor").WithAddress(TestDeviceAddress2).WithRSSI(-72).Build(),
		testutils.NewPeripheralBuilder().WithName("Speaker").WithAddress("00:00:00:00:00:03").WithCapabilities("classic").Build(),
	)
	s.CommandTestSuite.SetupTest()
}

func (s *ScanTestSuite) TestScanCmd_Help() {
	// GOAL: Verify scan command displays help text with all flags
	//
	// TEST SCENARIO: Execute scan --help → returns success → output contains description and flag documentation
	output, err := s.ExecuteCommand("scan", "--help")
	s.Require().NoError(err, "help command MUST succeed")

	s.Contains(output, "Scan for Bluetooth Low Energy devices", "help MUST contain command description")
	s.Contains(output, "--duration", "help MUST document --duration flag")
	s.Contains(output, "--format", "help MUST document --format flag")
	s.Contains(output, "--config", "help MUST document the inherited --config flag")
}

func (s *ScanTestSuite) TestScanCmd_InvalidFormat() {
	// GOAL: Verify scan command rejects invalid format values
	//
	// TEST SCENARIO: Execute scan with invalid format → returns error → error message lists valid formats
	_, err := s.ExecuteCommand("scan", "--format=invalid")

	s.Require().Error(err, "invalid format MUST return error")
	s.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]", "error MUST list valid formats")
	s.Empty(s.factoryOptions, "no backend MUST be opened for invalid arguments")
}

func (s *ScanTestSuite) TestScanCmd_InvalidLogLevel() {
	// GOAL: Verify an unknown --log-level is rejected before scanning
	//
	// TEST SCENARIO: --log-level=loud → error naming the accepted levels
	_, err := s.ExecuteCommand("scan", "--log-level=loud")

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid log level: loud")
}

func (s *ScanTestSuite) TestScanCmd_TableListsNamedLEDevices() {
	// GOAL: Verify the table lists named LE devices in discovery order with their index
	//
	// TEST SCENARIO: Widget(LE), Sensor(LE), Speaker(classic) → table with Widget and Sensor only
	output, err := s.ExecuteCommand("scan", "--duration=1s")
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(output,
		"#  NAME    ADDRESS            RSSI\n"+
			"0  Widget  00:00:00:00:00:01  -40 dBm\n"+
			"1  Sensor  00:00:00:00:00:02  -72 dBm\n")

	s.Require().Len(s.Central.Scans(), 1, "exactly one scan pass MUST run")
	s.True(s.Central.Scans()[0].Options.LowEnergyOnly)
	s.Equal(time.Second, s.Central.Scans()[0].Options.Timeout, "--duration MUST set the pass timeout")
}

func (s *ScanTestSuite) TestScanCmd_JSON() {
	// GOAL: Verify JSON output renders every catalog record
	//
	// TEST SCENARIO: scan --format json → array of {name,address,rssi,low_energy}
	output, err := s.ExecuteCommand("scan", "-f", "json")
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(output, `[
		{"name": "Widget", "address": "00:00:00:00:00:01", "rssi": -40, "low_energy": true},
		{"name": "Sensor", "address": "00:00:00:00:00:02", "rssi": -72, "low_energy": true}
	]`)
}

func (s *ScanTestSuite) TestScanCmd_BlockList() {
	// GOAL: Verify --block hides devices by address
	//
	// TEST SCENARIO: --block Widget's address → only Sensor listed
	output, err := s.ExecuteCommand("scan", "-f", "json", "--block", TestDeviceAddress1)
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(output, `[{"name": "Sensor", "address": "00:00:00:00:00:02"}]`)
}

func (s *ScanTestSuite) TestScanCmd_AllowListWithNoMatch() {
	// GOAL: Verify an empty result is reported in plain words
	//
	// TEST SCENARIO: --allow unknown address → "No devices discovered"
	output, err := s.ExecuteCommand("scan", "--allow", "11:22:33:44:55:66")
	s.Require().NoError(err)

	s.Equal("No devices discovered\n", output)
}

func (s *ScanTestSuite) TestScanCmd_BackendFlagReachesFactory() {
	// GOAL: Verify --backend overrides the configured backend
	//
	// TEST SCENARIO: --backend tinygo → factory receives tinygo
	_, err := s.ExecuteCommand("scan", "--backend", "tinygo")
	s.Require().NoError(err)

	s.Require().Len(s.factoryOptions, 1)
	s.Equal("tinygo", s.factoryOptions[0].Backend)
}

func (s *ScanTestSuite) TestScanCmd_UnknownBackendRejected() {
	// GOAL: Verify configuration validation runs on flag overrides
	//
	// TEST SCENARIO: --backend bogus → validation error, no factory call
	_, err := s.ExecuteCommand("scan", "--backend", "bogus")

	s.Require().Error(err)
	s.Contains(err.Error(), `backend "bogus"`)
	s.Empty(s.factoryOptions)
}

func (s *ScanTestSuite) TestScanCmd_RadioOff() {
	// GOAL: Verify a powered-off radio fails the scan with a classified error
	//
	// TEST SCENARIO: platform reports radio off → ErrBluetoothOff → user hint mentions Bluetooth
	s.Central.WithScanError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))

	_, err := s.ExecuteCommand("scan")

	s.Require().Error(err)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Contains(FormatUserError(err), "turn Bluetooth on")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
