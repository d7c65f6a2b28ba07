package connection

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
)

// Listener receives the outcomes of the state machine. Calls are made on the
// goroutine that drives the Machine and must not call back into it.
type Listener interface {
	PhaseChanged(from, to Phase)
	ConnectionReady(target device.Record)
	NewData(data []byte)
	ErrorReported(err error)
}

// Options configures a Machine.
type Options struct {
	Profile     device.Profile
	AddressType device.AddressType
}

// Context is one connection attempt. Exactly one is live at a time.
type Context struct {
	tag                device.Tag
	target             device.Record
	phase              Phase
	targetServiceFound bool
	activeService      *device.UUID
	link               device.Link
	session            *Session
	cause              error
}

// Snapshot is a read-only view of the live context.
type Snapshot struct {
	Tag                device.Tag
	Target             device.Record
	Phase              Phase
	TargetServiceFound bool
	ActiveService      device.UUID
	HasActiveService   bool
	HasSession         bool
	Cause              error
}

// Machine drives one peripheral from selection to a notification-enabled UART
// link and back. It is not safe for concurrent use: every method, including
// Handle, must be called from the same event loop.
type Machine struct {
	central  device.Central
	roles    *device.RoleTable
	addrType device.AddressType
	listener Listener
	logger   *logrus.Logger

	lastTag device.Tag
	ctx     *Context
}

// NewMachine creates an idle Machine.
func NewMachine(central device.Central, opts Options, listener Listener, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	if listener == nil {
		listener = NopListener{}
	}
	return &Machine{
		central:  central,
		roles:    device.NewRoleTable(opts.Profile),
		addrType: opts.AddressType,
		listener: listener,
		logger:   logger,
	}
}

// Phase returns the phase of the live context, or Idle when there is none.
func (m *Machine) Phase() Phase {
	if m.ctx == nil {
		return Idle
	}
	return m.ctx.phase
}

// Tag returns the tag of the live context, or zero.
func (m *Machine) Tag() device.Tag {
	if m.ctx == nil {
		return 0
	}
	return m.ctx.tag
}

// Snapshot returns a copy of the live context state.
func (m *Machine) Snapshot() Snapshot {
	if m.ctx == nil {
		return Snapshot{Phase: Idle}
	}
	s := Snapshot{
		Tag:                m.ctx.tag,
		Target:             m.ctx.target,
		Phase:              m.ctx.phase,
		TargetServiceFound: m.ctx.targetServiceFound,
		HasSession:         m.ctx.session != nil,
		Cause:              m.ctx.cause,
	}
	if m.ctx.activeService != nil {
		s.ActiveService, s.HasActiveService = *m.ctx.activeService, true
	}
	return s
}

// Connect starts a new attempt against target. The new context is installed
// before the previous one, if any, is torn down.
func (m *Machine) Connect(target device.Record) device.Tag {
	m.lastTag++
	prev := m.ctx
	next := &Context{tag: m.lastTag, target: target, phase: Idle}
	if prev != nil {
		next.phase = prev.phase
	}
	m.ctx = next

	if prev != nil {
		m.release(prev)
		m.logger.WithFields(logrus.Fields{
			"tag":    prev.tag,
			"device": prev.target.Name(),
			"phase":  prev.phase.String(),
		}).Debug("Released previous connection context")
	}

	m.transition(Connecting)
	m.logger.WithFields(logrus.Fields{
		"tag":          next.tag,
		"device":       target.Name(),
		"address":      target.Address(),
		"address_type": m.addrType.String(),
	}).Info("Connecting to device...")
	next.link = m.central.Connect(next.tag, target.Address(), m.addrType)
	return next.tag
}

// Write sends data to Tx. Outside Ready the write is rejected with ErrNotReady.
func (m *Machine) Write(data []byte) error {
	if m.ctx == nil || m.ctx.phase != Ready {
		return &device.ConnectionError{State: device.NotReady, Msg: fmt.Sprintf("phase %s", m.Phase())}
	}
	if err := m.ctx.session.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	m.logger.WithField("bytes", len(data)).Debug("Wrote data to device")
	return nil
}

// Disconnect starts an orderly teardown. From Ready notifications are disabled
// first; during setup the link is closed right away.
func (m *Machine) Disconnect() error {
	if m.ctx == nil {
		return device.ErrNotConnected
	}
	switch p := m.ctx.phase; {
	case p == Ready:
		m.transition(Disconnecting)
		if err := m.ctx.session.DisableNotifications(); err != nil {
			m.logger.WithError(err).Warn("Failed to disable notifications, closing link")
			m.finish()
		}
		return nil
	case p == Disconnecting:
		return nil
	case p.IsSetup():
		m.finish()
		return nil
	default:
		return device.ErrNotConnected
	}
}

// ForceDisconnect completes a pending teardown whose confirmation never arrived.
// It is a no-op unless tag names the live context and it is Disconnecting.
func (m *Machine) ForceDisconnect(tag device.Tag) bool {
	if m.ctx == nil || m.ctx.tag != tag || m.ctx.phase != Disconnecting {
		return false
	}
	m.logger.WithField("tag", tag).Warn("Disable confirmation not received, forcing disconnect")
	m.finish()
	return true
}

// Abort fails a setup still in progress, for example when a connect deadline
// passes. It is a no-op unless tag names the live context and it is in setup.
func (m *Machine) Abort(tag device.Tag, cause error) bool {
	if m.ctx == nil || m.ctx.tag != tag || !m.ctx.phase.IsSetup() {
		return false
	}
	m.fail(cause)
	return true
}

// Close tears down any live context without waiting for confirmations.
func (m *Machine) Close() {
	if m.ctx == nil {
		return
	}
	if !m.ctx.phase.IsSettled() {
		m.finish()
	}
	m.release(m.ctx)
}

// Handle applies one connection event. It returns ErrStaleEvent for events of a
// superseded context and ErrIgnoredEvent for events not valid in the current
// phase; both leave the state unchanged.
func (m *Machine) Handle(ev device.Event) error {
	if m.ctx == nil || ev.EventTag() != m.ctx.tag {
		m.logger.WithFields(logrus.Fields{
			"event": device.EventName(ev),
			"tag":   ev.EventTag(),
		}).Debug("Dropping stale connection event")
		return device.ErrStaleEvent
	}

	var handled bool
	switch m.ctx.phase {
	case Connecting:
		handled = m.onConnecting(ev)
	case ServiceDiscovery:
		handled = m.onServiceDiscovery(ev)
	case ServiceSessionOpening:
		handled = m.onServiceSessionOpening(ev)
	case NotificationEnabling:
		handled = m.onNotificationEnabling(ev)
	case Ready:
		handled = m.onReady(ev)
	case Disconnecting:
		handled = m.onDisconnecting(ev)
	}

	if !handled {
		m.logger.WithFields(logrus.Fields{
			"event": device.EventName(ev),
			"phase": m.ctx.phase.String(),
		}).Debug("Ignoring event in current phase")
		return device.ErrIgnoredEvent
	}
	return nil
}

func (m *Machine) onConnecting(ev device.Event) bool {
	switch e := ev.(type) {
	case device.Connected:
		m.logger.WithField("device", m.ctx.target.Name()).Info("Device connected, discovering services...")
		m.transition(ServiceDiscovery)
		m.ctx.link.DiscoverServices()
		return true
	case device.LinkFailed:
		m.fail(controllerError(e.Err))
		return true
	case device.Disconnected:
		m.fail(remoteClosed())
		return true
	}
	return false
}

func (m *Machine) onServiceDiscovery(ev device.Event) bool {
	switch e := ev.(type) {
	case device.ServiceFound:
		if m.roles.Is(e.UUID, device.RoleTargetService) {
			m.ctx.targetServiceFound = true
			m.logger.WithField("service", e.UUID.Short()).Info("Found target service")
		} else {
			m.logger.WithField("service", e.UUID.Short()).Debug("Skipping service")
		}
		return true
	case device.ServiceDiscoveryFinished:
		m.openSession()
		return true
	case device.LinkFailed:
		m.fail(controllerError(e.Err))
		return true
	case device.Disconnected:
		m.fail(remoteClosed())
		return true
	}
	return false
}

func (m *Machine) openSession() {
	m.transition(ServiceSessionOpening)

	svc := m.roles.Profile().Service
	if !m.ctx.targetServiceFound {
		m.fail(&device.NotFoundError{Resource: "service", UUIDs: []string{svc.Short()}})
		return
	}

	session, err := OpenSession(m.ctx.link, m.roles, m.logger)
	if err != nil {
		m.fail(err)
		return
	}
	m.ctx.session = session
	m.ctx.activeService = &svc
}

func (m *Machine) onServiceSessionOpening(ev device.Event) bool {
	switch e := ev.(type) {
	case device.ServiceDetailsDiscovered:
		if m.ctx.activeService == nil || e.UUID != *m.ctx.activeService {
			return false
		}
		m.resolveAndEnable()
		return true
	case device.ServiceDetailsFailed:
		if m.ctx.activeService == nil || e.UUID != *m.ctx.activeService {
			return false
		}
		m.fail(fmt.Errorf("service %s detail discovery failed: %w", e.UUID.Short(), e.Err))
		return true
	case device.LinkFailed:
		m.fail(controllerError(e.Err))
		return true
	case device.Disconnected:
		m.fail(remoteClosed())
		return true
	}
	return false
}

func (m *Machine) resolveAndEnable() {
	m.transition(CharacteristicResolution)
	if err := m.ctx.session.ResolveCharacteristics(); err != nil {
		m.fail(err)
		return
	}

	m.transition(NotificationEnabling)
	if err := m.ctx.session.EnableNotifications(); err != nil {
		m.fail(err)
	}
}

func (m *Machine) onNotificationEnabling(ev device.Event) bool {
	switch e := ev.(type) {
	case device.DescriptorWritten:
		if !m.ctx.session.IsNotificationDescriptor(e.Descriptor) {
			return false
		}
		if !isEnable(e.Value) {
			m.fail(fmt.Errorf("notification descriptor confirmed with unexpected value % x", e.Value))
			return true
		}
		m.transition(Ready)
		m.logger.WithFields(logrus.Fields{
			"device":  m.ctx.target.Name(),
			"service": m.ctx.activeService.Short(),
		}).Info("UART connection ready")
		m.listener.ConnectionReady(m.ctx.target)
		return true
	case device.DescriptorWriteFailed:
		if !m.ctx.session.IsNotificationDescriptor(e.Descriptor) {
			return false
		}
		m.fail(fmt.Errorf("enable notifications: %w", e.Err))
		return true
	case device.LinkFailed:
		m.fail(controllerError(e.Err))
		return true
	case device.Disconnected:
		m.fail(remoteClosed())
		return true
	}
	return false
}

func (m *Machine) onReady(ev device.Event) bool {
	switch e := ev.(type) {
	case device.CharacteristicChanged:
		if !m.roles.Is(e.UUID, device.RoleRx) {
			return false
		}
		m.listener.NewData(append([]byte(nil), e.Value...))
		return true
	case device.DescriptorWritten:
		if !m.ctx.session.IsNotificationDescriptor(e.Descriptor) || !isDisable(e.Value) {
			return false
		}
		// Notifications were disabled under us: treat as a disconnect request
		// whose confirmation has already arrived.
		m.logger.Info("Notifications disabled, disconnecting")
		m.transition(Disconnecting)
		m.finish()
		return true
	case device.Disconnected:
		m.logger.WithField("device", m.ctx.target.Name()).Info("Remote device disconnected")
		m.transition(Disconnected)
		m.release(m.ctx)
		return true
	case device.LinkFailed:
		err := controllerError(e.Err)
		m.logger.WithError(err).Warn("Controller error while ready")
		m.listener.ErrorReported(err)
		return false
	}
	return false
}

func (m *Machine) onDisconnecting(ev device.Event) bool {
	switch e := ev.(type) {
	case device.DescriptorWritten:
		if !m.ctx.session.IsNotificationDescriptor(e.Descriptor) || !isDisable(e.Value) {
			return false
		}
		m.finish()
		return true
	case device.DescriptorWriteFailed:
		if !m.ctx.session.IsNotificationDescriptor(e.Descriptor) {
			return false
		}
		m.logger.WithError(e.Err).Warn("Disable notifications failed, closing link")
		m.finish()
		return true
	case device.Disconnected:
		m.transition(Disconnected)
		m.release(m.ctx)
		return true
	}
	return false
}

// finish closes the link, releases the session and settles in Disconnected.
func (m *Machine) finish() {
	m.release(m.ctx)
	m.transition(Disconnected)
	m.logger.WithField("device", m.ctx.target.Name()).Info("Disconnected from device")
}

func (m *Machine) fail(cause error) {
	m.ctx.cause = cause
	m.transition(Failed)
	m.release(m.ctx)
	m.logger.WithFields(logrus.Fields{
		"device": m.ctx.target.Name(),
		"tag":    m.ctx.tag,
	}).WithError(cause).Error("Connection attempt failed")
	m.listener.ErrorReported(cause)
}

// release drops the session and closes the link of c. Safe to call repeatedly.
func (m *Machine) release(c *Context) {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	if c.link != nil {
		c.link.Close()
		c.link = nil
	}
}

func (m *Machine) transition(to Phase) {
	from := m.ctx.phase
	if from == to {
		return
	}
	m.ctx.phase = to
	m.logger.WithFields(logrus.Fields{
		"tag":  m.ctx.tag,
		"from": from.String(),
		"to":   to.String(),
	}).Info("Connection phase changed")
	m.listener.PhaseChanged(from, to)
}

func controllerError(err error) error {
	return fmt.Errorf("%w: %v", device.ErrControllerFault, device.NormalizeError(err))
}

func remoteClosed() error {
	return &device.ConnectionError{State: device.RemoteClosed, Msg: "remote device disconnected during setup"}
}

// NopListener discards every notification.
type NopListener struct{}

func (NopListener) PhaseChanged(Phase, Phase)     {}
func (NopListener) ConnectionReady(device.Record) {}
func (NopListener) NewData([]byte)                {}
func (NopListener) ErrorReported(error)           {}
