package uart

import (
	"fmt"

	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/pkg/connection"
)

// Notification is an outcome delivered to the caller through Client.Notifications.
type Notification interface {
	fmt.Stringer
	notification()
}

// ScanningFinished reports the catalog of a completed pass.
type ScanningFinished struct{ Names []string }

// DeviceListChanged reports a new published device list.
type DeviceListChanged struct{ Names []string }

// ConnectionReady reports the UART link is usable.
type ConnectionReady struct{ Device device.Record }

// NewData carries one notification payload received on Rx.
type NewData struct{ Data []byte }

// PhaseChanged reports a connection phase transition.
type PhaseChanged struct{ From, To connection.Phase }

// ErrorReported carries a scan or connection failure.
type ErrorReported struct{ Err error }

func (ScanningFinished) notification()  {}
func (DeviceListChanged) notification() {}
func (ConnectionReady) notification()   {}
func (NewData) notification()           {}
func (PhaseChanged) notification()      {}
func (ErrorReported) notification()     {}

func (n ScanningFinished) String() string {
	return fmt.Sprintf("scanning finished: %d device(s)", len(n.Names))
}

func (n DeviceListChanged) String() string {
	return fmt.Sprintf("device list changed: %v", n.Names)
}

func (n ConnectionReady) String() string {
	return fmt.Sprintf("connection ready: %s", n.Device)
}

func (n NewData) String() string {
	return fmt.Sprintf("new data: % X", n.Data)
}

func (n PhaseChanged) String() string {
	return fmt.Sprintf("phase: %s -> %s", n.From, n.To)
}

func (n ErrorReported) String() string {
	return fmt.Sprintf("error: %v", n.Err)
}
