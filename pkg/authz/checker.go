package authz

// HasPermission reports whether a user holding user may use an entry that
// requires required. The super-admin mask passes unconditionally; any other
// mask passes when it shares at least one bit with required, since required
// masks are unions of the role masks that qualify.
//
// The sentinel is an exact comparison. A mask that merely contains every bit
// of required does not take this path.
func HasPermission(user Mask, required Mask) bool {
	if user == FullAccess {
		return true
	}
	return user&required != 0
}

// Allowed looks up the mask guarding moduleID/itemID and checks user against
// it. Lookup failures deny access and return the lookup error.
func Allowed(user Mask, moduleID string, itemID string) (bool, error) {
	required, err := RequiredMask(moduleID, itemID)
	if err != nil {
		return false, err
	}
	return HasPermission(user, required), nil
}

// VisibleModules filters the access table down to what user may open.
// Items inside a visible module are filtered the same way.
func VisibleModules(user Mask) []Module {
	visible := []Module{}
	for _, module := range Modules() {
		if !HasPermission(user, module.Required) {
			continue
		}
		items := module.Items[:0]
		for _, it := range module.Items {
			if HasPermission(user, it.Required) {
				items = append(items, it)
			}
		}
		module.Items = items
		visible = append(visible, module)
	}
	return visible
}
