package connection

// Phase is the lifecycle state of one connection context.
type Phase int

const (
	Idle Phase = iota
	Connecting
	ServiceDiscovery
	ServiceSessionOpening
	CharacteristicResolution
	NotificationEnabling
	Ready
	Disconnecting
	Disconnected
	Failed
)

var phaseNames = [...]string{
	Idle:                     "Idle",
	Connecting:               "Connecting",
	ServiceDiscovery:         "ServiceDiscovery",
	ServiceSessionOpening:    "ServiceSessionOpening",
	CharacteristicResolution: "CharacteristicResolution",
	NotificationEnabling:     "NotificationEnabling",
	Ready:                    "Ready",
	Disconnecting:            "Disconnecting",
	Disconnected:             "Disconnected",
	Failed:                   "Failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Unknown"
	}
	return phaseNames[p]
}

// IsSetup reports whether p lies between Connecting and NotificationEnabling inclusive.
func (p Phase) IsSetup() bool {
	return p >= Connecting && p <= NotificationEnabling
}

// IsSettled reports whether no connection is live in p.
func (p Phase) IsSettled() bool {
	return p == Idle || p == Disconnected || p == Failed
}
