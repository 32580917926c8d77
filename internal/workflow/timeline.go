package workflow

import (
	"time"

	"constructlink/internal/model"
)

// Timeline step labels, in canonical order.
const (
	StepRequested       = "Requested"
	StepVerified        = "Verified"
	StepApproved        = "Approved"
	StepDispatched      = "Dispatched"
	StepReceived        = "Received"
	StepCompleted       = "Completed"
	StepReturnInitiated = "Return Initiated"
	StepReturned        = "Returned"
	StepCanceled        = "Canceled"
)

// TimelineStep is one recorded step in a transfer's history.
type TimelineStep struct {
	Label     string    `json:"label"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name"`
	At        time.Time `json:"at"`
	Notes     string    `json:"notes,omitempty"`
}

// Timeline is the read-side projection of a transfer for rendering.
type Timeline struct {
	Steps          []TimelineStep `json:"steps"`
	ExpectedReturn *time.Time     `json:"expected_return,omitempty"`
	Overdue        bool           `json:"overdue"`
	DaysOverdue    int            `json:"days_overdue"`
}

// BuildTimeline derives the ordered history of t from its stored actor and date
// fields. Only populated steps appear. Actor names come from preloaded relations
// when present. It has no side effects.
func BuildTimeline(t *model.Transfer, now time.Time) Timeline {
	tl := Timeline{ExpectedReturn: t.ExpectedReturn}

	initiator := t.InitiatedBy
	tl.Steps = append(tl.Steps, TimelineStep{
		Label:     StepRequested,
		ActorID:   &initiator,
		ActorName: actorName(t.Initiator, &initiator),
		At:        t.CreatedAt,
		Notes:     t.Reason,
	})

	add := func(label string, by *int64, who *model.User, at *time.Time, notes string) {
		if at == nil {
			return
		}
		tl.Steps = append(tl.Steps, TimelineStep{
			Label:     label,
			ActorID:   by,
			ActorName: actorName(who, by),
			At:        *at,
			Notes:     notes,
		})
	}
	add(StepVerified, t.VerifiedBy, t.Verifier, t.VerificationDate, "")
	add(StepApproved, t.ApprovedBy, t.Approver, t.ApprovalDate, "")
	add(StepDispatched, t.DispatchedBy, t.Dispatcher, t.DispatchDate, t.DispatchNotes)
	add(StepReceived, t.ReceivedBy, t.Receiver, t.ReceiptDate, "")
	add(StepCompleted, t.CompletedBy, t.Completer, t.CompletionDate, t.CompletionNotes)
	add(StepReturnInitiated, t.ReturnInitiatedBy, t.ReturnInitiator, t.ReturnInitiationDate, t.ReturnNotes)
	add(StepReturned, t.ReturnReceivedBy, t.ReturnReceiver, t.ActualReturn, returnNotes(t))
	add(StepCanceled, t.CanceledBy, t.Canceler, t.CancelDate, t.CancelReason)

	tl.DaysOverdue = DaysOverdue(t, now)
	tl.Overdue = tl.DaysOverdue > 0
	return tl
}

// DaysOverdue counts whole calendar days past expected_return for a Completed
// temporary transfer whose asset has not been sent back yet. Otherwise 0.
func DaysOverdue(t *model.Transfer, now time.Time) int {
	if !t.Temporary() || t.Status != model.StatusCompleted || t.ReturnStatus != model.ReturnNotReturned {
		return 0
	}
	if t.ExpectedReturn == nil {
		return 0
	}
	days := int(dateOf(now).Sub(dateOf(*t.ExpectedReturn)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func returnNotes(t *model.Transfer) string {
	if t.ReturnCondition == "" {
		return ""
	}
	if t.ReturnDamageNotes != "" {
		return string(t.ReturnCondition) + ": " + t.ReturnDamageNotes
	}
	return string(t.ReturnCondition)
}

func actorName(u *model.User, id *int64) string {
	if u != nil {
		return u.DisplayName()
	}
	if id == nil {
		return "System"
	}
	return (&model.User{ID: *id}).DisplayName()
}
