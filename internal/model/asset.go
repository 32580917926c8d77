package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetStatus flags what the asset is doing at its current project.
type AssetStatus string

const (
	AssetAvailable AssetStatus = "available"
	AssetInTransit AssetStatus = "in_transit"
	AssetOnLoan    AssetStatus = "on_loan"
)

// Asset is a physical piece of equipment owned by a project.
type Asset struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Ref              string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"ref"`
	Name             string          `gorm:"type:varchar(255);not null" json:"name"`
	CurrentProjectID int64           `gorm:"not null;index" json:"current_project_id"`
	CurrentProject   *Project        `gorm:"foreignKey:CurrentProjectID" json:"current_project,omitempty"`
	Status           AssetStatus     `gorm:"type:varchar(20);not null;default:'available'" json:"status"`
	AcquisitionCost  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"acquisition_cost"`
	LoanDue          *time.Time      `json:"loan_due,omitempty"` // set while on loan through a temporary transfer
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
