package repository

import (
	"context"
	"time"

	"constructlink/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssetRepository interface {
	Create(ctx context.Context, asset *model.Asset) error
	FindByID(ctx context.Context, id int64) (*model.Asset, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Asset, error)
	UpdateLocation(ctx context.Context, assetID, projectID int64, status model.AssetStatus, loanDue *time.Time) error
}

type assetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(ctx context.Context, asset *model.Asset) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(asset).Error
}

func (r *assetRepository) FindByID(ctx context.Context, id int64) (*model.Asset, error) {
	var asset model.Asset
	if err := GetDB(ctx, r.db).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindByIDForUpdate locks the asset row on databases that support row locks.
func (r *assetRepository) FindByIDForUpdate(ctx context.Context, id int64) (*model.Asset, error) {
	db := GetDB(ctx, r.db)
	if db.Dialector.Name() == "postgres" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var asset model.Asset
	if err := db.Where("id = ?", id).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// UpdateLocation sets the asset's owning project, status flag and loan due date.
func (r *assetRepository) UpdateLocation(ctx context.Context, assetID, projectID int64, status model.AssetStatus, loanDue *time.Time) error {
	res := GetDB(ctx, r.db).Model(&model.Asset{}).Where("id = ?", assetID).Updates(map[string]any{
		"current_project_id": projectID,
		"status":             string(status),
		"loan_due":           loanDue,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
