package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/bleuart/internal/bledb"
)

// UUID is a 128-bit Bluetooth UUID. It is comparable and usable as a map key.
type UUID uuid.UUID

// sigBase is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
var sigBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// CCCDUUID is the Client Characteristic Configuration descriptor.
var CCCDUUID = UUID16(0x2902)

// UUID16 expands a 16-bit SIG short form onto the base UUID.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit SIG short form onto the base UUID.
func UUID32(v uint32) UUID {
	u := sigBase
	u[0] = byte(v >> 24)
	u[1] = byte(v >> 16)
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return UUID(u)
}

// ParseUUID accepts 16-bit ("ffe0", "0xFFE0"), 32-bit and full 128-bit forms,
// with or without dashes or braces.
func ParseUUID(s string) (UUID, error) {
	in := strings.TrimSpace(s)
	in = strings.TrimPrefix(strings.TrimPrefix(in, "0x"), "0X")
	in = strings.Trim(in, "{}")

	switch len(in) {
	case 4, 8:
		v, err := strconv.ParseUint(in, 16, 32)
		if err != nil {
			return UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return UUID32(uint32(v)), nil
	}

	u, err := uuid.Parse(in)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return UUID(u), nil
}

// MustParseUUID is ParseUUID that panics on malformed input. Use for constants.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Short returns the 16-bit form for SIG UUIDs and the undashed 128-bit form otherwise.
func (u UUID) Short() string {
	return bledb.NormalizeUUID(u.String())
}

// KnownName returns a human-readable name for well-known UUIDs, or "".
func (u UUID) KnownName() string {
	return bledb.Lookup(u.String())
}

func (u UUID) IsZero() bool {
	return u == UUID{}
}

// MarshalText renders the canonical dashed form.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText accepts every form ParseUUID does.
func (u *UUID) UnmarshalText(b []byte) error {
	v, err := ParseUUID(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Role is the part a UUID plays in the UART profile.
type Role uint8

const (
	RoleTargetService Role = 1 << iota
	RoleRx
	RoleTx
)

func (r Role) String() string {
	var parts []string
	if r&RoleTargetService != 0 {
		parts = append(parts, "service")
	}
	if r&RoleRx != 0 {
		parts = append(parts, "rx")
	}
	if r&RoleTx != 0 {
		parts = append(parts, "tx")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Profile names the UART service and its notify (Rx) and write (Tx) characteristics.
type Profile struct {
	Service UUID
	Rx      UUID
	Tx      UUID
}

// HM10Profile is the common HM-10 style module where one characteristic carries both directions.
var HM10Profile = Profile{
	Service: UUID16(0xffe0),
	Rx:      UUID16(0xffe1),
	Tx:      UUID16(0xffe1),
}

// NordicUARTProfile is the Nordic UART Service.
var NordicUARTProfile = Profile{
	Service: MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"),
	Rx:      MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
	Tx:      MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e"),
}

// SharedRxTx reports whether one characteristic serves both directions.
func (p Profile) SharedRxTx() bool {
	return p.Rx == p.Tx
}

// RoleTable maps configured UUIDs to their roles. Read-only after construction.
type RoleTable struct {
	profile Profile
	roles   map[UUID]Role
}

// NewRoleTable builds the lookup table for a profile.
func NewRoleTable(p Profile) *RoleTable {
	t := &RoleTable{profile: p, roles: make(map[UUID]Role, 3)}
	t.roles[p.Service] |= RoleTargetService
	t.roles[p.Rx] |= RoleRx
	t.roles[p.Tx] |= RoleTx
	return t
}

// Roles returns every role assigned to u.
func (t *RoleTable) Roles(u UUID) Role {
	return t.roles[u]
}

// Is reports whether u plays role r.
func (t *RoleTable) Is(u UUID, r Role) bool {
	return t.roles[u]&r != 0
}

func (t *RoleTable) Profile() Profile { return t.profile }
