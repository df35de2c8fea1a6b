package authz

import (
	"strconv"
	"strings"
)

// Mask is a set of capability bits, either held by a user or required by a
// console entry.
type Mask uint64

const (
	ManageUsers Mask = 1 << iota
	ManageProducts
	ManageOrders
	ManagePromotions
	ActivateAccounts
	ViewDashboard
	ManageDelivery
)

// FullAccess is the union of every capability bit and doubles as the
// super-admin sentinel in HasPermission.
const FullAccess = ManageUsers | ManageProducts | ManageOrders | ManagePromotions | ActivateAccounts | ViewDashboard | ManageDelivery

var capabilityNames = []struct {
	bit  Mask
	name string
}{
	{ManageUsers, "MANAGE_USERS"},
	{ManageProducts, "MANAGE_PRODUCTS"},
	{ManageOrders, "MANAGE_ORDERS"},
	{ManagePromotions, "MANAGE_PROMOTIONS"},
	{ActivateAccounts, "ACTIVATE_ACCOUNTS"},
	{ViewDashboard, "VIEW_DASHBOARD"},
	{ManageDelivery, "MANAGE_DELIVERY"},
}

// Capabilities returns the capability bits in ascending order.
func Capabilities() []Mask {
	bits := make([]Mask, 0, len(capabilityNames))
	for _, c := range capabilityNames {
		bits = append(bits, c.bit)
	}
	return bits
}

func (m Mask) Has(bit Mask) bool {
	return bit != 0 && m&bit == bit
}

func (m Mask) Contains(other Mask) bool {
	return m&other == other
}

// Valid reports whether m uses only defined capability bits.
func (m Mask) Valid() bool {
	return FullAccess.Contains(m)
}

func (m Mask) Bits() []Mask {
	bits := []Mask{}
	for _, c := range capabilityNames {
		if m&c.bit != 0 {
			bits = append(bits, c.bit)
		}
	}
	return bits
}

func (m Mask) String() string {
	if m == 0 {
		return "NONE"
	}

	names := make([]string, 0, len(capabilityNames))
	rest := m
	for _, c := range capabilityNames {
		if m&c.bit != 0 {
			names = append(names, c.name)
			rest &^= c.bit
		}
	}
	if rest != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(names, "|")
}
