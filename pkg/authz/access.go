package authz

import (
	"fmt"
	"strings"

	oerrors "github.com/porthorian/consoleauth/pkg/errors"
)

type ModuleID string

type ItemID string

const (
	ModuleAccounts   ModuleID = "1"
	ModuleProducts   ModuleID = "2"
	ModuleOrders     ModuleID = "3"
	ModulePromotions ModuleID = "4"
)

const (
	ItemAccountManager    ItemID = "1-1"
	ItemAdminRoles        ItemID = "1-2"
	ItemAccountActivation ItemID = "1-3"

	ItemCategories    ItemID = "2-1"
	ItemProducts      ItemID = "2-2"
	ItemStock         ItemID = "2-3"
	ItemStockMovement ItemID = "2-4"

	ItemOrders   ItemID = "3-1"
	ItemDelivery ItemID = "3-2"
	ItemReturns  ItemID = "3-3"

	ItemPromotions      ItemID = "4-1"
	ItemCoupons         ItemID = "4-2"
	ItemCampaigns       ItemID = "4-3"
	ItemPromotionReport ItemID = "4-4"
)

// Module returns the module an item id is nested under.
func (id ItemID) Module() ModuleID {
	prefix, _, _ := strings.Cut(string(id), "-")
	return ModuleID(prefix)
}

type Item struct {
	ID       ItemID
	Title    string
	Required Mask
	// Roles lists the role alternatives Required was built from.
	Roles []Role
}

type Module struct {
	ID       ModuleID
	Title    string
	Required Mask
	Items    []Item
}

type moduleEntry struct {
	module Module
	items  map[ItemID]Item
}

var accessTable = buildAccessTable([]Module{
	{
		ID:       ModuleAccounts,
		Title:    "Accounts",
		Required: ViewDashboard | ActivateAccounts,
		Items: []Item{
			item(ItemAccountManager, "Account manager", RoleSuperAdmin),
			item(ItemAdminRoles, "Admin roles", RoleSuperAdmin),
			item(ItemAccountActivation, "Account activation",
				RoleSuperAdmin, RoleManageGeneralAdmin, RoleGeneralAdmin, RoleStockAdmin, RoleOrderAdmin, RoleDeliveryAdmin),
		},
	},
	{
		ID:       ModuleProducts,
		Title:    "Products",
		Required: ViewDashboard | ManageProducts,
		Items: []Item{
			item(ItemCategories, "Categories", RoleSuperAdmin, RoleStockAdmin, RoleManageGeneralAdmin),
			item(ItemProducts, "Products", RoleSuperAdmin, RoleGeneralAdmin, RoleManageGeneralAdmin),
			item(ItemStock, "Stock", RoleSuperAdmin, RoleStockAdmin, RoleManageGeneralAdmin),
			item(ItemStockMovement, "Stock movement", RoleSuperAdmin, RoleStockAdmin, RoleManageGeneralAdmin),
		},
	},
	{
		ID:       ModuleOrders,
		Title:    "Orders",
		Required: ViewDashboard | ManageOrders | ManageDelivery,
		Items: []Item{
			item(ItemOrders, "Orders", RoleSuperAdmin, RoleOrderAdmin, RoleManageGeneralAdmin),
			item(ItemDelivery, "Delivery", RoleSuperAdmin, RoleDeliveryAdmin, RoleManageGeneralAdmin),
			item(ItemReturns, "Returns", RoleSuperAdmin, RoleOrderAdmin, RoleManageGeneralAdmin),
		},
	},
	{
		ID:       ModulePromotions,
		Title:    "Promotions",
		Required: ViewDashboard | ManagePromotions,
		Items: []Item{
			item(ItemPromotions, "Promotions", RoleSuperAdmin, RoleGeneralAdmin, RoleManageGeneralAdmin),
			item(ItemCoupons, "Coupons", RoleSuperAdmin, RoleGeneralAdmin, RoleManageGeneralAdmin),
			item(ItemCampaigns, "Campaigns", RoleSuperAdmin, RoleGeneralAdmin, RoleManageGeneralAdmin),
			item(ItemPromotionReport, "Promotion report", RoleSuperAdmin, RoleGeneralAdmin, RoleManageGeneralAdmin),
		},
	},
})

var moduleOrder = []ModuleID{ModuleAccounts, ModuleProducts, ModuleOrders, ModulePromotions}

func item(id ItemID, title string, roles ...Role) Item {
	return Item{
		ID:       id,
		Title:    title,
		Required: mustMaskForRoles(roles...),
		Roles:    roles,
	}
}

// buildAccessTable panics on a malformed table so that a bad entry stops the
// process at start instead of reaching the checker.
func buildAccessTable(modules []Module) map[ModuleID]moduleEntry {
	table := make(map[ModuleID]moduleEntry, len(modules))
	for _, module := range modules {
		if module.Required == 0 || !module.Required.Valid() {
			panic(fmt.Sprintf("authz: module %q has invalid required mask %d", module.ID, module.Required))
		}
		if _, exists := table[module.ID]; exists {
			panic(fmt.Sprintf("authz: module %q defined twice", module.ID))
		}

		items := make(map[ItemID]Item, len(module.Items))
		for _, it := range module.Items {
			if it.ID.Module() != module.ID {
				panic(fmt.Sprintf("authz: item %q does not belong to module %q", it.ID, module.ID))
			}
			if it.Required == 0 || !it.Required.Valid() {
				panic(fmt.Sprintf("authz: item %q has invalid required mask %d", it.ID, it.Required))
			}
			if _, exists := items[it.ID]; exists {
				panic(fmt.Sprintf("authz: item %q defined twice", it.ID))
			}
			items[it.ID] = it
		}

		table[module.ID] = moduleEntry{module: module, items: items}
	}
	return table
}

// ParseModuleID and ParseItemID match ids exactly, as RequiredMask does.
func ParseModuleID(raw string) (ModuleID, error) {
	id := ModuleID(raw)
	if _, ok := accessTable[id]; !ok {
		return "", unknownModule(raw)
	}
	return id, nil
}

func ParseItemID(raw string) (ItemID, error) {
	id := ItemID(raw)
	entry, ok := accessTable[id.Module()]
	if !ok {
		return "", unknownItem(id.Module(), raw)
	}
	if _, ok := entry.items[id]; !ok {
		return "", unknownItem(id.Module(), raw)
	}
	return id, nil
}

func ModuleMask(id ModuleID) (Mask, error) {
	entry, ok := accessTable[id]
	if !ok {
		return 0, unknownModule(string(id))
	}
	return entry.module.Required, nil
}

func ItemMask(id ItemID) (Mask, error) {
	entry, ok := accessTable[id.Module()]
	if !ok {
		return 0, unknownItem(id.Module(), string(id))
	}
	it, ok := entry.items[id]
	if !ok {
		return 0, unknownItem(id.Module(), string(id))
	}
	return it.Required, nil
}

// RequiredMask returns the mask guarding a module, or one of its items when
// itemID is non-empty. Ids missing from the table, and items looked up under
// a module they do not belong to, fail with CodeUnknownResource.
func RequiredMask(moduleID string, itemID string) (Mask, error) {
	entry, ok := accessTable[ModuleID(moduleID)]
	if !ok {
		return 0, unknownModule(moduleID)
	}
	if itemID == "" {
		return entry.module.Required, nil
	}

	it, ok := entry.items[ItemID(itemID)]
	if !ok {
		return 0, unknownItem(ModuleID(moduleID), itemID)
	}
	return it.Required, nil
}

// Modules returns a copy of the access table in menu order.
func Modules() []Module {
	modules := make([]Module, 0, len(moduleOrder))
	for _, id := range moduleOrder {
		module := accessTable[id].module
		items := make([]Item, len(module.Items))
		for i, it := range module.Items {
			it.Roles = append([]Role(nil), it.Roles...)
			items[i] = it
		}
		module.Items = items
		modules = append(modules, module)
	}
	return modules
}

func unknownModule(id string) error {
	return oerrors.New(oerrors.CodeUnknownResource, fmt.Sprintf("authz: unknown module %q", id))
}

func unknownItem(module ModuleID, id string) error {
	return oerrors.New(oerrors.CodeUnknownResource, fmt.Sprintf("authz: unknown item %q in module %q", id, module))
}
