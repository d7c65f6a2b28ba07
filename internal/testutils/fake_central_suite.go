package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeCentralSuite provides a reusable test suite with a fake BLE radio.
//
// Basic usage:
//
//	type ClientSuite struct {
//	    testutils.FakeCentralSuite
//	}
//
//	func (s *ClientSuite) SetupTest() {
//	    s.WithPeripherals(testutils.CreateUARTPeripheral("Widget", "AA:BB:CC:DD:EE:01").Build())
//	    s.FakeCentralSuite.SetupTest() // Call parent last to apply configuration
//	}
//
// Each test gets a fresh FakeCentral built from the configured peripherals.
type FakeCentralSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	Central     *FakeCentral
	peripherals []*Peripheral
}

// SetupSuite initializes logging. Called once before all tests in the suite.
func (s *FakeCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest creates the fake radio. Called before each test method.
func (s *FakeCentralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Central = NewFakeCentral(s.peripherals...).WithLogger(s.Logger)
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest stops the fake radio and clears configured peripherals.
func (s *FakeCentralSuite) TearDownTest() {
	if s.Central != nil {
		_ = s.Central.Close()
	}
	s.Central = nil
	s.peripherals = nil
}

// WithPeripherals adds peripherals visible to the next FakeCentral.
func (s *FakeCentralSuite) WithPeripherals(p ...*Peripheral) {
	s.peripherals = append(s.peripherals, p...)
}
