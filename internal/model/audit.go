package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const EntityTransfer = "transfer"

// Transfer audit actions
const (
	ActionTransferCreated         = "TRANSFER_CREATED"
	ActionTransferVerified        = "TRANSFER_VERIFIED"
	ActionTransferApproved        = "TRANSFER_APPROVED"
	ActionTransferDispatched      = "TRANSFER_DISPATCHED"
	ActionTransferReceived        = "TRANSFER_RECEIVED"
	ActionTransferCompleted       = "TRANSFER_COMPLETED"
	ActionTransferCanceled        = "TRANSFER_CANCELED"
	ActionTransferReturnInitiated = "TRANSFER_RETURN_INITIATED"
	ActionTransferReturnReceived  = "TRANSFER_RETURN_RECEIVED"
	ActionTransferStreamlined     = "TRANSFER_STREAMLINED"
	ActionTransferNoteAdded       = "TRANSFER_NOTE_ADDED"
	ActionTransfersExported       = "TRANSFERS_EXPORTED"
)

// AuditLog tracks who did what to which entity, and when.
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *int64    `gorm:"index" json:"user_id"` // nil for scheduled jobs
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string    `gorm:"type:varchar(30);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   string    `gorm:"type:varchar(50);index:idx_audit_entity" json:"entity_id"`
	Details    string    `gorm:"type:text" json:"details"` // JSON payload of the action
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a random id when none is set.
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
