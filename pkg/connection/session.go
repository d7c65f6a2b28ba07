package connection

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
)

// CCCD values in wire byte order.
var (
	NotificationsEnable  = []byte{0x01, 0x00}
	NotificationsDisable = []byte{0x00, 0x00}
)

// Session wraps one opened GATT service: detail discovery, Rx/Tx resolution,
// the Rx notification descriptor, and writes to Tx. A Session belongs to exactly
// one connection context and is unusable after Close.
type Session struct {
	service device.Service
	profile device.Profile
	logger  *logrus.Logger

	rx, tx   device.Characteristic
	resolved bool
	cccd     *device.Descriptor
	closed   bool
}

// OpenSession instantiates the profile's service on link and requests detail discovery.
func OpenSession(link device.Link, roles *device.RoleTable, logger *logrus.Logger) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	p := roles.Profile()

	svc, err := link.OpenService(p.Service)
	if err != nil || svc == nil {
		nf := &device.NotFoundError{Resource: "service", UUIDs: []string{p.Service.Short()}}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", nf, err)
		}
		return nil, nf
	}

	s := &Session{service: svc, profile: p, logger: logger}
	logger.WithFields(logrus.Fields{
		"service": p.Service.Short(),
		"name":    p.Service.KnownName(),
	}).Debug("Service session opened, discovering details")
	svc.DiscoverDetails()
	return s, nil
}

// ServiceUUID returns the UUID of the wrapped service.
func (s *Session) ServiceUUID() device.UUID { return s.profile.Service }

// ResolveCharacteristics looks up Tx then Rx. A missing one yields a NotFoundError naming its role.
func (s *Session) ResolveCharacteristics() error {
	if s.closed {
		return device.ErrSessionClosed
	}

	tx, ok := s.service.Characteristic(s.profile.Tx)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", Role: device.RoleTx, UUIDs: []string{s.profile.Service.Short(), s.profile.Tx.Short()}}
	}
	rx, ok := s.service.Characteristic(s.profile.Rx)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", Role: device.RoleRx, UUIDs: []string{s.profile.Service.Short(), s.profile.Rx.Short()}}
	}

	if rx.Properties != 0 && rx.Properties&(device.PropNotify|device.PropIndicate) == 0 {
		s.logger.WithFields(logrus.Fields{
			"characteristic": rx.UUID.Short(),
			"properties":     rx.Properties.String(),
		}).Warn("Rx characteristic does not advertise notify or indicate")
	}

	s.rx, s.tx, s.resolved = rx, tx, true
	s.logger.WithFields(logrus.Fields{
		"rx":     rx.UUID.Short(),
		"tx":     tx.UUID.Short(),
		"shared": s.profile.SharedRxTx(),
	}).Debug("Resolved UART characteristics")
	return nil
}

// EnableNotifications writes the enable value to the CCCD of Rx.
func (s *Session) EnableNotifications() error {
	if s.closed {
		return device.ErrSessionClosed
	}
	if !s.resolved {
		return fmt.Errorf("enable notifications: characteristics not resolved")
	}

	d, ok := s.rx.Descriptor(device.CCCDUUID)
	if !ok {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{s.rx.UUID.Short(), device.CCCDUUID.Short()}}
	}
	s.cccd = &d
	s.service.WriteDescriptor(d, NotificationsEnable)
	return nil
}

// DisableNotifications writes the disable value to the previously located CCCD.
func (s *Session) DisableNotifications() error {
	if s.closed {
		return device.ErrSessionClosed
	}
	if s.cccd == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{s.rx.UUID.Short(), device.CCCDUUID.Short()}}
	}
	s.service.WriteDescriptor(*s.cccd, NotificationsDisable)
	return nil
}

// NotificationDescriptor returns the located CCCD, if any.
func (s *Session) NotificationDescriptor() (device.Descriptor, bool) {
	if s.cccd == nil {
		return device.Descriptor{}, false
	}
	return *s.cccd, true
}

// IsNotificationDescriptor reports whether d is the located CCCD.
func (s *Session) IsNotificationDescriptor(d device.Descriptor) bool {
	return s.cccd != nil && *s.cccd == d
}

// Write sends data to Tx without response.
func (s *Session) Write(data []byte) error {
	if s.closed {
		return device.ErrSessionClosed
	}
	if !s.resolved {
		return fmt.Errorf("write: characteristics not resolved")
	}
	s.service.WriteCharacteristic(s.tx, append([]byte(nil), data...), device.WriteWithoutResponse)
	return nil
}

// Close releases the session. Later calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closed = true
}

func (s *Session) Closed() bool { return s.closed }

func isEnable(v []byte) bool  { return bytes.Equal(v, NotificationsEnable) }
func isDisable(v []byte) bool { return bytes.Equal(v, NotificationsDisable) }
