package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateUARTPeripheral returns a builder preloaded with an HM-10 style UART service
// (ffe0) whose single characteristic (ffe1) carries both directions.
func CreateUARTPeripheral(name, address string) *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithName(name).
		WithAddress(address).
		WithService("ffe0").
		WithCharacteristic("ffe1", "read,notify,write-without-response")
}

// CreateNordicUARTPeripheral returns a builder preloaded with the Nordic UART Service.
func CreateNordicUARTPeripheral(name, address string) *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithName(name).
		WithAddress(address).
		WithService("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
		WithCharacteristic("6e400002-b5a3-f393-e0a9-e50e24dcca9e", "write,write-without-response").
		WithCharacteristic("6e400003-b5a3-f393-e0a9-e50e24dcca9e", "notify")
}

// CreatePeripheralFromJSON returns a builder filled from a JSON document.
func CreatePeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}
