package model

// Role is one of the fixed ConstructLink roles.
type Role string

const (
	RoleSystemAdmin        Role = "System Admin"
	RoleFinanceDirector    Role = "Finance Director"
	RoleAssetDirector      Role = "Asset Director"
	RoleProcurementOfficer Role = "Procurement Officer"
	RoleProjectManager     Role = "Project Manager"
	RoleSiteInventoryClerk Role = "Site Inventory Clerk"
	RoleWarehouseman       Role = "Warehouseman"
)

// ParseRole converts a stored or token role string into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleFinanceDirector, RoleAssetDirector, RoleProcurementOfficer,
		RoleProjectManager, RoleSiteInventoryClerk, RoleWarehouseman:
		return true
	}
	return false
}

// ProjectScoped roles may only act on transfers touching their current project.
func (r Role) ProjectScoped() bool {
	switch r {
	case RoleProjectManager, RoleSiteInventoryClerk, RoleWarehouseman:
		return true
	case RoleSystemAdmin, RoleFinanceDirector, RoleAssetDirector, RoleProcurementOfficer:
		return false
	}
	return false
}

// SelfCertifying roles may push their own transfers through the streamlined path.
func (r Role) SelfCertifying() bool {
	switch r {
	case RoleFinanceDirector, RoleAssetDirector:
		return true
	case RoleSystemAdmin, RoleProcurementOfficer, RoleProjectManager, RoleSiteInventoryClerk, RoleWarehouseman:
		return false
	}
	return false
}
