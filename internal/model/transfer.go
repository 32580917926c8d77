package model

import (
	"time"
)

// TransferStatus is the position of a transfer on the main workflow line.
type TransferStatus string

const (
	StatusPendingVerification TransferStatus = "Pending Verification"
	StatusPendingApproval     TransferStatus = "Pending Approval"
	StatusApproved            TransferStatus = "Approved"
	StatusInTransit           TransferStatus = "In Transit"
	StatusReceived            TransferStatus = "Received"
	StatusCompleted           TransferStatus = "Completed"
	StatusCanceled            TransferStatus = "Canceled"
)

// TransferStatuses lists every status in workflow order.
var TransferStatuses = []TransferStatus{
	StatusPendingVerification,
	StatusPendingApproval,
	StatusApproved,
	StatusInTransit,
	StatusReceived,
	StatusCompleted,
	StatusCanceled,
}

func (s TransferStatus) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusPendingApproval, StatusApproved,
		StatusInTransit, StatusReceived, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Active reports whether the transfer still holds the asset in the workflow.
// Completed temporary transfers awaiting return are handled separately.
func (s TransferStatus) Active() bool {
	switch s {
	case StatusPendingVerification, StatusPendingApproval, StatusApproved, StatusInTransit, StatusReceived:
		return true
	case StatusCompleted, StatusCanceled:
		return false
	}
	return false
}

// TransferType enum
type TransferType string

const (
	TransferTemporary TransferType = "temporary"
	TransferPermanent TransferType = "permanent"
)

func (t TransferType) Valid() bool {
	switch t {
	case TransferTemporary, TransferPermanent:
		return true
	}
	return false
}

// ReturnStatus tracks the return leg of a temporary transfer.
type ReturnStatus string

const (
	ReturnNotReturned ReturnStatus = "not_returned"
	ReturnInTransit   ReturnStatus = "in_return_transit"
	ReturnReturned    ReturnStatus = "returned"
)

func (r ReturnStatus) Valid() bool {
	switch r {
	case ReturnNotReturned, ReturnInTransit, ReturnReturned:
		return true
	}
	return false
}

// AssetCondition is the inspection result recorded when a returned asset arrives.
type AssetCondition string

const (
	ConditionGood    AssetCondition = "good"
	ConditionFair    AssetCondition = "fair"
	ConditionDamaged AssetCondition = "damaged"
)

func (c AssetCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionDamaged:
		return true
	}
	return false
}

// TransferState is the pair of columns guarded by compare-and-set updates.
type TransferState struct {
	Status       TransferStatus
	ReturnStatus ReturnStatus
}

// Transfer moves one asset from one project to another.
// Actor/date pairs are written once, by the transition that owns them.
type Transfer struct {
	ID            int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	AssetID       int64        `gorm:"not null;index" json:"asset_id"`
	Asset         *Asset       `gorm:"foreignKey:AssetID" json:"asset,omitempty"`
	FromProjectID int64        `gorm:"not null;index" json:"from_project_id"`
	FromProject   *Project     `gorm:"foreignKey:FromProjectID" json:"from_project,omitempty"`
	ToProjectID   int64        `gorm:"not null;index" json:"to_project_id"`
	ToProject     *Project     `gorm:"foreignKey:ToProjectID" json:"to_project,omitempty"`
	TransferType  TransferType `gorm:"type:varchar(20);not null" json:"transfer_type"`

	Status       TransferStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	ReturnStatus ReturnStatus   `gorm:"type:varchar(30);not null;default:'not_returned'" json:"return_status"`

	Reason         string     `gorm:"type:text" json:"reason"`
	Notes          string     `gorm:"type:text" json:"notes"`
	TransferDate   time.Time  `gorm:"not null" json:"transfer_date"`
	ExpectedReturn *time.Time `json:"expected_return"`

	InitiatedBy int64 `gorm:"not null;index" json:"initiated_by"`
	Initiator   *User `gorm:"foreignKey:InitiatedBy" json:"initiator,omitempty"`

	VerifiedBy       *int64     `json:"verified_by"`
	Verifier         *User      `gorm:"foreignKey:VerifiedBy" json:"verifier,omitempty"`
	VerificationDate *time.Time `json:"verification_date"`

	ApprovedBy   *int64     `json:"approved_by"`
	Approver     *User      `gorm:"foreignKey:ApprovedBy" json:"approver,omitempty"`
	ApprovalDate *time.Time `json:"approval_date"`

	DispatchedBy  *int64     `json:"dispatched_by"`
	Dispatcher    *User      `gorm:"foreignKey:DispatchedBy" json:"dispatcher,omitempty"`
	DispatchDate  *time.Time `json:"dispatch_date"`
	DispatchNotes string     `gorm:"type:text" json:"dispatch_notes"`

	ReceivedBy  *int64     `json:"received_by"`
	Receiver    *User      `gorm:"foreignKey:ReceivedBy" json:"receiver,omitempty"`
	ReceiptDate *time.Time `json:"receipt_date"`

	CompletedBy     *int64     `json:"completed_by"`
	Completer       *User      `gorm:"foreignKey:CompletedBy" json:"completer,omitempty"`
	CompletionDate  *time.Time `json:"completion_date"`
	CompletionNotes string     `gorm:"type:text" json:"completion_notes"`

	CanceledBy   *int64     `json:"canceled_by"`
	Canceler     *User      `gorm:"foreignKey:CanceledBy" json:"canceler,omitempty"`
	CancelDate   *time.Time `json:"cancel_date"`
	CancelReason string     `gorm:"type:text" json:"cancel_reason"`

	ReturnInitiatedBy    *int64     `json:"return_initiated_by"`
	ReturnInitiator      *User      `gorm:"foreignKey:ReturnInitiatedBy" json:"return_initiator,omitempty"`
	ReturnInitiationDate *time.Time `json:"return_initiation_date"`
	ReturnNotes          string     `gorm:"type:text" json:"return_notes"`

	ReturnReceivedBy  *int64         `json:"return_received_by"`
	ReturnReceiver    *User          `gorm:"foreignKey:ReturnReceivedBy" json:"return_receiver,omitempty"`
	ActualReturn      *time.Time     `json:"actual_return"`
	ReturnCondition   AssetCondition `gorm:"type:varchar(20)" json:"return_condition,omitempty"`
	ReturnDamageNotes string         `gorm:"type:text" json:"return_damage_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State returns the compare-and-set guard for the transfer as loaded.
func (t *Transfer) State() TransferState {
	return TransferState{Status: t.Status, ReturnStatus: t.ReturnStatus}
}

// Temporary reports whether the asset is expected back at the origin project.
func (t *Transfer) Temporary() bool {
	return t.TransferType == TransferTemporary
}

// Settled reports whether the transfer can no longer change except for notes.
func (t *Transfer) Settled() bool {
	switch t.Status {
	case StatusCanceled:
		return true
	case StatusCompleted:
		return !t.Temporary() || t.ReturnStatus == ReturnReturned
	}
	return false
}

// Touches reports whether the transfer moves an asset out of or into the project.
func (t *Transfer) Touches(projectID int64) bool {
	return t.FromProjectID == projectID || t.ToProjectID == projectID
}
