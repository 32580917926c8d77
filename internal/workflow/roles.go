package workflow

import (
	"slices"

	"constructlink/internal/model"
)

// Action names an operation gated by the role policy.
type Action string

const (
	ActionCreate        Action = "create"
	ActionView          Action = "view"
	ActionVerify        Action = "verify"
	ActionApprove       Action = "approve"
	ActionDispatch      Action = "dispatch"
	ActionReceive       Action = "receive"
	ActionComplete      Action = "complete"
	ActionReturnAsset   Action = "returnAsset"
	ActionReceiveReturn Action = "receiveReturn"
	ActionCancel        Action = "cancel"
	ActionExport        Action = "export"
)

// TransitionActions are the single-step actions that move a transfer.
var TransitionActions = []Action{
	ActionVerify,
	ActionApprove,
	ActionDispatch,
	ActionReceive,
	ActionComplete,
	ActionReturnAsset,
	ActionReceiveReturn,
	ActionCancel,
}

// ParseAction accepts both the canonical name and the URL form used by the API.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "return", "return-asset":
		return ActionReturnAsset, true
	case "receive-return":
		return ActionReceiveReturn, true
	}
	a := Action(s)
	return a, slices.Contains(TransitionActions, a) || a == ActionCreate || a == ActionView || a == ActionExport
}

// Policy maps each action to the roles allowed to perform it, in display order.
type Policy map[Action][]model.Role

// DefaultPolicy is the MVA role configuration for transfers.
var DefaultPolicy = Policy{
	ActionCreate: {
		model.RoleFinanceDirector, model.RoleAssetDirector, model.RoleProjectManager,
		model.RoleSiteInventoryClerk,
	},
	ActionView: {
		model.RoleFinanceDirector, model.RoleAssetDirector, model.RoleProcurementOfficer,
		model.RoleProjectManager, model.RoleSiteInventoryClerk, model.RoleWarehouseman,
	},
	ActionVerify:  {model.RoleProjectManager},
	ActionApprove: {model.RoleFinanceDirector, model.RoleAssetDirector},
	ActionDispatch: {
		model.RoleProjectManager, model.RoleWarehouseman, model.RoleSiteInventoryClerk,
	},
	ActionReceive: {
		model.RoleProjectManager, model.RoleWarehouseman, model.RoleSiteInventoryClerk,
	},
	ActionComplete: {
		model.RoleAssetDirector, model.RoleProjectManager, model.RoleSiteInventoryClerk,
	},
	ActionReturnAsset: {
		model.RoleProjectManager, model.RoleSiteInventoryClerk, model.RoleWarehouseman,
	},
	ActionReceiveReturn: {
		model.RoleProjectManager, model.RoleSiteInventoryClerk, model.RoleWarehouseman,
	},
	ActionCancel: {
		model.RoleFinanceDirector, model.RoleAssetDirector, model.RoleProjectManager,
	},
	ActionExport: {
		model.RoleFinanceDirector, model.RoleAssetDirector, model.RoleProcurementOfficer,
		model.RoleProjectManager,
	},
}

// RoleResolver answers "may this role perform this action" from a static policy.
type RoleResolver struct {
	policy Policy
}

func NewRoleResolver(policy Policy) *RoleResolver {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &RoleResolver{policy: policy}
}

// Permits reports whether role may perform action. System Admin is always permitted.
func (r *RoleResolver) Permits(role model.Role, action Action) bool {
	if role == model.RoleSystemAdmin {
		return true
	}
	return slices.Contains(r.policy[action], role)
}

// Roles returns the configured roles for action, System Admin first.
func (r *RoleResolver) Roles(action Action) []model.Role {
	roles := make([]model.Role, 0, len(r.policy[action])+1)
	roles = append(roles, model.RoleSystemAdmin)
	return append(roles, r.policy[action]...)
}

// Actor is the authenticated user performing an action.
type Actor struct {
	ID               int64
	Name             string
	Role             model.Role
	CurrentProjectID *int64
}

// ActorFromUser builds the actor context for a loaded user.
func ActorFromUser(u *model.User) Actor {
	return Actor{
		ID:               u.ID,
		Name:             u.DisplayName(),
		Role:             u.Role,
		CurrentProjectID: u.CurrentProjectID,
	}
}

// AffiliatedWith reports whether the actor is assigned to one of the projects.
func (a Actor) AffiliatedWith(projectIDs ...int64) bool {
	if a.CurrentProjectID == nil {
		return false
	}
	return slices.Contains(projectIDs, *a.CurrentProjectID)
}
