package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"constructlink/internal/model"
)

// TransferStore persists transition changes with a compare-and-set on the
// transfer's status pair. It reports false when no row matched.
type TransferStore interface {
	CompareAndSwap(ctx context.Context, id int64, expected model.TransferState, changes map[string]any) (bool, error)
}

// AssetLocator moves an asset between projects and flags what it is doing there.
type AssetLocator interface {
	UpdateLocation(ctx context.Context, assetID, projectID int64, status model.AssetStatus, loanDue *time.Time) error
}

// AuditRecorder stores audit entries.
type AuditRecorder interface {
	Log(ctx context.Context, entry *model.AuditLog) error
}

// Payload carries the free-text and inspection input of a transition.
type Payload struct {
	Notes       string
	Condition   model.AssetCondition
	DamageNotes string
}

var auditActions = map[Action]string{
	ActionVerify:        model.ActionTransferVerified,
	ActionApprove:       model.ActionTransferApproved,
	ActionDispatch:      model.ActionTransferDispatched,
	ActionReceive:       model.ActionTransferReceived,
	ActionComplete:      model.ActionTransferCompleted,
	ActionReturnAsset:   model.ActionTransferReturnInitiated,
	ActionReceiveReturn: model.ActionTransferReturnReceived,
	ActionCancel:        model.ActionTransferCanceled,
}

// Executor applies transitions. Callers run it inside a transaction so the
// transfer row, the asset row and the audit entry commit together.
type Executor struct {
	validator *Validator
	transfers TransferStore
	assets    AssetLocator
	audit     AuditRecorder
	now       func() time.Time
}

type ExecutorOption func(*Executor)

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(v *Validator, transfers TransferStore, assets AssetLocator, audit AuditRecorder, opts ...ExecutorOption) *Executor {
	e := &Executor{
		validator: v,
		transfers: transfers,
		assets:    assets,
		audit:     audit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply re-validates and performs one single-step transition, updating t in place
// on success. A lost compare-and-set returns a Conflict error and leaves t untouched.
func (e *Executor) Apply(ctx context.Context, t *model.Transfer, action Action, actor Actor, p Payload) error {
	if err := e.validator.Decide(t, actor, action).Err(); err != nil {
		return err
	}
	return e.step(ctx, t, action, actor, p)
}

// Streamline runs the verify, approve, dispatch and receive steps back to back for
// a self-certifying initiator. Every step records its own actor and timestamp.
func (e *Executor) Streamline(ctx context.Context, t *model.Transfer, actor Actor, notes string) error {
	if err := e.validator.CanStreamline(t, actor).Err(); err != nil {
		return err
	}
	from := t.Status
	for _, action := range StreamlinedSteps {
		if err := e.step(ctx, t, action, actor, Payload{Notes: notes}); err != nil {
			return err
		}
	}
	steps := make([]string, len(StreamlinedSteps))
	for i, a := range StreamlinedSteps {
		steps[i] = string(a)
	}
	return e.record(ctx, t, model.ActionTransferStreamlined, actor.ID, e.now(), map[string]any{
		"from_status": from,
		"to_status":   t.Status,
		"steps":       steps,
	})
}

func (e *Executor) step(ctx context.Context, t *model.Transfer, action Action, actor Actor, p Payload) error {
	next, err := NextState(t, action)
	if err != nil {
		return err
	}
	if err := validatePayload(action, p); err != nil {
		return err
	}

	now := e.now()
	prev := t.State()
	updated := *t
	changes := stamp(&updated, action, actor.ID, p, now)
	updated.Status = next.Status
	updated.ReturnStatus = next.ReturnStatus
	updated.UpdatedAt = now
	changes["status"] = string(next.Status)
	changes["return_status"] = string(next.ReturnStatus)
	changes["updated_at"] = now

	ok, err := e.transfers.CompareAndSwap(ctx, t.ID, prev, changes)
	if err != nil {
		return fmt.Errorf("updating transfer %d: %w", t.ID, err)
	}
	if !ok {
		return Conflict(t.ID)
	}
	*t = updated

	if err := e.relocate(ctx, t, action, prev); err != nil {
		return fmt.Errorf("relocating asset %d: %w", t.AssetID, err)
	}

	details := map[string]any{
		"from_status":   prev.Status,
		"to_status":     next.Status,
		"return_status": next.ReturnStatus,
	}
	if p.Notes != "" {
		details["notes"] = p.Notes
	}
	if action == ActionReceiveReturn {
		details["condition"] = p.Condition
		if p.DamageNotes != "" {
			details["damage_notes"] = p.DamageNotes
		}
	}
	return e.record(ctx, t, auditActions[action], actor.ID, now, details)
}

func validatePayload(action Action, p Payload) error {
	var v Validation
	switch action {
	case ActionReceiveReturn:
		switch {
		case p.Condition == "":
			v.Add("condition", "condition assessment is required when receiving a return")
		case !p.Condition.Valid():
			v.Add("condition", fmt.Sprintf("condition must be one of good, fair, damaged, got %q", p.Condition))
		case p.Condition == model.ConditionDamaged && strings.TrimSpace(p.DamageNotes) == "":
			v.Add("damage_notes", "describe the damage when the asset is returned damaged")
		}
	case ActionCancel:
		if strings.TrimSpace(p.Notes) == "" {
			v.Add("reason", "a cancellation reason is required")
		}
	case ActionVerify, ActionApprove, ActionDispatch, ActionReceive, ActionComplete, ActionReturnAsset:
	case ActionCreate, ActionView, ActionExport:
	}
	return v.Err()
}

// stamp writes the actor/date pair owned by action onto t and returns the column changes.
func stamp(t *model.Transfer, action Action, actorID int64, p Payload, now time.Time) map[string]any {
	id := actorID
	at := now
	switch action {
	case ActionVerify:
		t.VerifiedBy, t.VerificationDate = &id, &at
		return map[string]any{"verified_by": id, "verification_date": at}
	case ActionApprove:
		t.ApprovedBy, t.ApprovalDate = &id, &at
		return map[string]any{"approved_by": id, "approval_date": at}
	case ActionDispatch:
		t.DispatchedBy, t.DispatchDate, t.DispatchNotes = &id, &at, p.Notes
		return map[string]any{"dispatched_by": id, "dispatch_date": at, "dispatch_notes": p.Notes}
	case ActionReceive:
		t.ReceivedBy, t.ReceiptDate = &id, &at
		return map[string]any{"received_by": id, "receipt_date": at}
	case ActionComplete:
		t.CompletedBy, t.CompletionDate, t.CompletionNotes = &id, &at, p.Notes
		return map[string]any{"completed_by": id, "completion_date": at, "completion_notes": p.Notes}
	case ActionReturnAsset:
		t.ReturnInitiatedBy, t.ReturnInitiationDate, t.ReturnNotes = &id, &at, p.Notes
		return map[string]any{"return_initiated_by": id, "return_initiation_date": at, "return_notes": p.Notes}
	case ActionReceiveReturn:
		t.ReturnReceivedBy, t.ActualReturn = &id, &at
		t.ReturnCondition, t.ReturnDamageNotes = p.Condition, p.DamageNotes
		return map[string]any{
			"return_received_by":  id,
			"actual_return":       at,
			"return_condition":    string(p.Condition),
			"return_damage_notes": p.DamageNotes,
		}
	case ActionCancel:
		t.CanceledBy, t.CancelDate, t.CancelReason = &id, &at, p.Notes
		return map[string]any{"canceled_by": id, "cancel_date": at, "cancel_reason": p.Notes}
	case ActionCreate, ActionView, ActionExport:
	}
	return map[string]any{}
}

// relocate performs the asset side effect of a transition that just committed on t.
func (e *Executor) relocate(ctx context.Context, t *model.Transfer, action Action, prev model.TransferState) error {
	switch action {
	case ActionDispatch:
		return e.assets.UpdateLocation(ctx, t.AssetID, t.FromProjectID, model.AssetInTransit, nil)
	case ActionComplete:
		if t.Temporary() {
			return e.assets.UpdateLocation(ctx, t.AssetID, t.ToProjectID, model.AssetOnLoan, t.ExpectedReturn)
		}
		return e.assets.UpdateLocation(ctx, t.AssetID, t.ToProjectID, model.AssetAvailable, nil)
	case ActionReturnAsset:
		return e.assets.UpdateLocation(ctx, t.AssetID, t.ToProjectID, model.AssetInTransit, t.ExpectedReturn)
	case ActionReceiveReturn:
		return e.assets.UpdateLocation(ctx, t.AssetID, t.FromProjectID, model.AssetAvailable, nil)
	case ActionCancel:
		if prev.Status == model.StatusInTransit {
			return e.assets.UpdateLocation(ctx, t.AssetID, t.FromProjectID, model.AssetAvailable, nil)
		}
	case ActionVerify, ActionApprove, ActionReceive:
	case ActionCreate, ActionView, ActionExport:
	}
	return nil
}

func (e *Executor) record(ctx context.Context, t *model.Transfer, action string, actorID int64, at time.Time, details map[string]any) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}
	uid := actorID
	entry := &model.AuditLog{
		UserID:     &uid,
		Action:     action,
		EntityType: model.EntityTransfer,
		EntityID:   strconv.FormatInt(t.ID, 10),
		Details:    string(payload),
		CreatedAt:  at,
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
