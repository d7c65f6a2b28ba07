package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	Role     Role     // role of the missing resource, if any
	UUIDs    []string // One or more UUIDs, outermost first (e.g. [service, characteristic])
}

func (e *NotFoundError) Error() string {
	what := e.Resource
	if e.Role != 0 && e.Resource == "characteristic" {
		what = fmt.Sprintf("%s characteristic", e.Role)
	}
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", what)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", what, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", what, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// IsNotFound reports whether err is a NotFoundError for the given resource.
func IsNotFound(err error, resource string) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Resource == resource
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotReady         ConnectionState = "not_ready"
	ControllerFault  ConnectionState = "controller_fault"
	RemoteClosed     ConnectionState = "remote_closed"
	Timeout          ConnectionState = "timeout"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotReady         = &ConnectionError{State: NotReady}
	ErrControllerFault  = &ConnectionError{State: ControllerFault}
	ErrRemoteClosed     = &ConnectionError{State: RemoteClosed}
	ErrConnectTimeout   = &ConnectionError{State: Timeout}
)

var (
	// ErrStaleEvent marks an event whose tag belongs to a superseded scan or connection.
	ErrStaleEvent = errors.New("stale event")
	// ErrIgnoredEvent marks an event that is not valid in the current phase.
	ErrIgnoredEvent = errors.New("event ignored in current phase")
	// ErrSessionClosed is returned by every operation on a closed service session.
	ErrSessionClosed = errors.New("service session closed")
	// ErrBluetoothOff is the normalized "radio is powered off" condition.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
	ErrClosed       = errors.New("client closed")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ScanErrorKind classifies discovery failures.
type ScanErrorKind int

const (
	ScanUnknown ScanErrorKind = iota
	ScanRadioPoweredOff
	ScanIoError
)

func (k ScanErrorKind) String() string {
	switch k {
	case ScanRadioPoweredOff:
		return "radio powered off"
	case ScanIoError:
		return "i/o error"
	default:
		return "unknown error"
	}
}

// ScanError is a classified discovery failure.
type ScanError struct {
	Kind ScanErrorKind
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scan failed: %s", e.Kind)
	}
	return fmt.Sprintf("scan failed: %s: %v", e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ClassifyScanError maps a platform scan failure onto a ScanError.
// An error that already is a ScanError is returned unchanged.
func ClassifyScanError(err error) *ScanError {
	if err == nil {
		return nil
	}
	var se *ScanError
	if errors.As(err, &se) {
		return se
	}

	err = NormalizeError(err)
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrBluetoothOff):
		return &ScanError{Kind: ScanRadioPoweredOff, Err: err}
	case strings.Contains(msg, "input/output error"),
		strings.Contains(msg, "i/o error"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "operation not permitted"),
		strings.Contains(msg, "permission denied"):
		return &ScanError{Kind: ScanIoError, Err: err}
	default:
		return &ScanError{Kind: ScanUnknown, Err: err}
	}
}

// NormalizeError maps known platform error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBluetoothOff) {
		return err
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "adapter is powered off"),
		containsIgnoreCase(msg, "org.bluez.error.notready"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
