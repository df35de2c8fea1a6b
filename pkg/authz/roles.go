package authz

import (
	"fmt"

	oerrors "github.com/porthorian/consoleauth/pkg/errors"
)

type Role uint8

const (
	RoleSuperAdmin Role = iota + 1
	RoleGeneralAdmin
	RoleStockAdmin
	RoleOrderAdmin
	RoleDeliveryAdmin
	RoleManageGeneralAdmin
)

var roleNames = map[Role]string{
	RoleSuperAdmin:         "SUPER_ADMIN",
	RoleGeneralAdmin:       "GENERAL_ADMIN",
	RoleStockAdmin:         "STOCK_ADMIN",
	RoleOrderAdmin:         "ORDER_ADMIN",
	RoleDeliveryAdmin:      "DELIVERY_ADMIN",
	RoleManageGeneralAdmin: "MANAGE_GENERAL_ADMIN",
}

// roleMasks is authoritative. Entries are literals even where they happen
// to equal a combination of other roles.
var roleMasks = map[Role]Mask{
	RoleSuperAdmin:         127, // every capability
	RoleGeneralAdmin:       42,  // dashboard, promotions, products
	RoleStockAdmin:         34,  // dashboard, products
	RoleOrderAdmin:         36,  // dashboard, orders
	RoleDeliveryAdmin:      96,  // dashboard, delivery
	RoleManageGeneralAdmin: 126, // everything except user management
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Roles returns every defined role in declaration order.
func Roles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleGeneralAdmin,
		RoleStockAdmin,
		RoleOrderAdmin,
		RoleDeliveryAdmin,
		RoleManageGeneralAdmin,
	}
}

func ParseRole(name string) (Role, error) {
	for role, roleName := range roleNames {
		if roleName == name {
			return role, nil
		}
	}
	return 0, oerrors.New(oerrors.CodeUnknownRole, fmt.Sprintf("authz: unknown role %q", name))
}

func MaskForRole(role Role) (Mask, error) {
	mask, ok := roleMasks[role]
	if !ok {
		return 0, oerrors.New(oerrors.CodeUnknownRole, fmt.Sprintf("authz: unknown role %s", role))
	}
	return mask, nil
}

// MaskForRoles unions the masks of several roles.
func MaskForRoles(roles ...Role) (Mask, error) {
	var effective Mask
	for _, role := range roles {
		mask, err := MaskForRole(role)
		if err != nil {
			return 0, err
		}
		effective |= mask
	}
	return effective, nil
}

func mustMaskForRoles(roles ...Role) Mask {
	mask, err := MaskForRoles(roles...)
	if err != nil {
		panic(err)
	}
	return mask
}
