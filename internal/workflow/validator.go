package workflow

import (
	"constructlink/internal/model"
)

// Transition is one allowed edge of the main status line.
type Transition struct {
	Action Action
	From   model.TransferStatus
	To     model.TransferStatus
}

// ReturnTransition is one allowed edge of the return sub-workflow.
type ReturnTransition struct {
	Action Action
	From   model.ReturnStatus
	To     model.ReturnStatus
}

// Transitions is the canonical linear workflow plus the cancel edges.
var Transitions = []Transition{
	{Action: ActionVerify, From: model.StatusPendingVerification, To: model.StatusPendingApproval},
	{Action: ActionApprove, From: model.StatusPendingApproval, To: model.StatusApproved},
	{Action: ActionDispatch, From: model.StatusApproved, To: model.StatusInTransit},
	{Action: ActionReceive, From: model.StatusInTransit, To: model.StatusReceived},
	{Action: ActionComplete, From: model.StatusReceived, To: model.StatusCompleted},

	{Action: ActionCancel, From: model.StatusPendingVerification, To: model.StatusCanceled},
	{Action: ActionCancel, From: model.StatusPendingApproval, To: model.StatusCanceled},
	{Action: ActionCancel, From: model.StatusApproved, To: model.StatusCanceled},
	{Action: ActionCancel, From: model.StatusInTransit, To: model.StatusCanceled},
}

// ReturnTransitions apply only to Completed temporary transfers.
var ReturnTransitions = []ReturnTransition{
	{Action: ActionReturnAsset, From: model.ReturnNotReturned, To: model.ReturnInTransit},
	{Action: ActionReceiveReturn, From: model.ReturnInTransit, To: model.ReturnReturned},
}

// StreamlinedSteps are the single steps chained by the streamlined transition, in order.
var StreamlinedSteps = []Action{ActionVerify, ActionApprove, ActionDispatch, ActionReceive}

// NextState returns the state the action moves t into, or an InvalidStateTransition error.
func NextState(t *model.Transfer, action Action) (model.TransferState, error) {
	cur := t.State()
	switch action {
	case ActionVerify, ActionApprove, ActionDispatch, ActionReceive, ActionComplete, ActionCancel:
		for _, tr := range Transitions {
			if tr.Action == action && tr.From == cur.Status {
				return model.TransferState{Status: tr.To, ReturnStatus: cur.ReturnStatus}, nil
			}
		}
		if action == ActionCancel {
			return cur, invalidTransition("transfer %d is %s and can no longer be canceled", t.ID, cur.Status)
		}
		return cur, invalidTransition("cannot %s transfer %d: it is %s, expected %s",
			action, t.ID, cur.Status, requiredStatus(action))
	case ActionReturnAsset, ActionReceiveReturn:
		if !t.Temporary() {
			return cur, invalidTransition("transfer %d is %s and has no return leg", t.ID, t.TransferType)
		}
		if cur.Status != model.StatusCompleted {
			return cur, invalidTransition("transfer %d must be %s before its return, it is %s",
				t.ID, model.StatusCompleted, cur.Status)
		}
		for _, tr := range ReturnTransitions {
			if tr.Action == action && tr.From == cur.ReturnStatus {
				return model.TransferState{Status: cur.Status, ReturnStatus: tr.To}, nil
			}
		}
		return cur, invalidTransition("cannot %s transfer %d: return is %s", action, t.ID, cur.ReturnStatus)
	case ActionCreate, ActionView, ActionExport:
		return cur, invalidTransition("%s does not change a transfer", action)
	}
	return cur, invalidTransition("unknown action %q", action)
}

func requiredStatus(action Action) model.TransferStatus {
	for _, tr := range Transitions {
		if tr.Action == action {
			return tr.From
		}
	}
	return ""
}

// Decision is the outcome of a guard.
type Decision struct {
	Allowed bool
	Reason  string
	err     error
}

// Err returns nil when allowed, otherwise the typed workflow error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.err
}

func allow() Decision { return Decision{Allowed: true} }

func deny(err error) Decision {
	return Decision{Reason: err.Error(), err: err}
}

// Validator decides whether an actor may perform an action on a transfer.
type Validator struct {
	roles *RoleResolver
}

func NewValidator(roles *RoleResolver) *Validator {
	if roles == nil {
		roles = NewRoleResolver(nil)
	}
	return &Validator{roles: roles}
}

// Decide checks, in order: status precondition, role membership, project affiliation.
func (v *Validator) Decide(t *model.Transfer, actor Actor, action Action) Decision {
	if _, err := NextState(t, action); err != nil {
		return deny(err)
	}
	if err := v.authorize(t, actor, action); err != nil {
		return deny(err)
	}
	return allow()
}

func (v *Validator) authorize(t *model.Transfer, actor Actor, action Action) error {
	if !v.roles.Permits(actor.Role, action) {
		return denied("%s may not %s transfers", roleLabel(actor.Role), action)
	}
	if actor.Role.ProjectScoped() && (actor.CurrentProjectID == nil || !t.Touches(*actor.CurrentProjectID)) {
		return denied("transfer %d does not involve your current project", t.ID)
	}
	return nil
}

func roleLabel(r model.Role) string {
	if r == "" {
		return "an unassigned user"
	}
	return string(r)
}

func (v *Validator) CanVerifyTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionVerify)
}

// CanAuthorizeTransfer guards the approval step.
func (v *Validator) CanAuthorizeTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionApprove)
}

func (v *Validator) CanDispatchTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionDispatch)
}

func (v *Validator) CanReceiveTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionReceive)
}

func (v *Validator) CanCompleteTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionComplete)
}

func (v *Validator) CanReturnAsset(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionReturnAsset)
}

func (v *Validator) CanReceiveReturn(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionReceiveReturn)
}

func (v *Validator) CanCancelTransfer(t *model.Transfer, actor Actor) Decision {
	return v.Decide(t, actor, ActionCancel)
}

// CanStreamline guards the composite verify-approve-dispatch-receive transition.
// The actor must hold a self-certifying role (or be System Admin) and must have
// initiated the transfer.
func (v *Validator) CanStreamline(t *model.Transfer, actor Actor) Decision {
	if t.Status != model.StatusPendingVerification {
		return deny(invalidTransition("transfer %d is %s, streamlining starts from %s",
			t.ID, t.Status, model.StatusPendingVerification))
	}
	if actor.Role != model.RoleSystemAdmin && !actor.Role.SelfCertifying() {
		return deny(denied("%s may not streamline transfers", roleLabel(actor.Role)))
	}
	if t.InitiatedBy != actor.ID {
		return deny(denied("only the initiator of transfer %d may streamline it", t.ID))
	}
	return allow()
}

// CanView gates reading a transfer and appending notes to it.
func (v *Validator) CanView(t *model.Transfer, actor Actor) Decision {
	if err := v.authorize(t, actor, ActionView); err != nil {
		return deny(err)
	}
	return allow()
}

// CanCreate gates opening a new transfer between two projects.
func (v *Validator) CanCreate(actor Actor, fromProjectID, toProjectID int64) Decision {
	if !v.roles.Permits(actor.Role, ActionCreate) {
		return deny(denied("%s may not create transfers", roleLabel(actor.Role)))
	}
	if actor.Role.ProjectScoped() && !actor.AffiliatedWith(fromProjectID, toProjectID) {
		return deny(denied("you may only request transfers involving your current project"))
	}
	return allow()
}

// CanExport gates the transfer report export.
func (v *Validator) CanExport(actor Actor) Decision {
	if !v.roles.Permits(actor.Role, ActionExport) {
		return deny(denied("%s may not export transfers", roleLabel(actor.Role)))
	}
	return allow()
}

// AllowedActions lists the transitions the actor may perform right now.
func (v *Validator) AllowedActions(t *model.Transfer, actor Actor) []string {
	var actions []string
	for _, a := range TransitionActions {
		if v.Decide(t, actor, a).Allowed {
			actions = append(actions, string(a))
		}
	}
	if v.CanStreamline(t, actor).Allowed {
		actions = append(actions, "streamline")
	}
	return actions
}
