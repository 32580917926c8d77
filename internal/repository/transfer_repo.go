package repository

import (
	"context"

	"constructlink/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferFilter narrows transfer listings. Zero values mean "any".
type TransferFilter struct {
	Status       model.TransferStatus
	ReturnStatus model.ReturnStatus
	Type         model.TransferType
	ProjectID    *int64 // transfers leaving or entering this project
	AssetID      int64
	Page         int
	Limit        int
}

type TransferRepository interface {
	Create(ctx context.Context, t *model.Transfer) error
	FindByID(ctx context.Context, id int64) (*model.Transfer, error)
	FindByIDWithRelations(ctx context.Context, id int64) (*model.Transfer, error)
	List(ctx context.Context, filter TransferFilter) ([]model.Transfer, int64, error)
	ListAll(ctx context.Context, filter TransferFilter) ([]model.Transfer, error)
	ListOutstandingLoans(ctx context.Context) ([]model.Transfer, error)
	HasOpenTransfer(ctx context.Context, assetID int64) (bool, error)
	CompareAndSwap(ctx context.Context, id int64, expected model.TransferState, changes map[string]any) (bool, error)
	AppendNote(ctx context.Context, id int64, line string) error
}

type transferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Asset").Preload("FromProject").Preload("ToProject").
		Preload("Initiator").Preload("Verifier").Preload("Approver").Preload("Dispatcher").
		Preload("Receiver").Preload("Completer").Preload("Canceler").
		Preload("ReturnInitiator").Preload("ReturnReceiver")
}

func (r *transferRepository) Create(ctx context.Context, t *model.Transfer) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(t).Error
}

func (r *transferRepository) FindByID(ctx context.Context, id int64) (*model.Transfer, error) {
	var t model.Transfer
	if err := GetDB(ctx, r.db).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transferRepository) FindByIDWithRelations(ctx context.Context, id int64) (*model.Transfer, error) {
	var t model.Transfer
	if err := withRelations(GetDB(ctx, r.db)).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func applyFilter(db *gorm.DB, f TransferFilter) *gorm.DB {
	if f.Status != "" {
		db = db.Where("status = ?", string(f.Status))
	}
	if f.ReturnStatus != "" {
		db = db.Where("return_status = ?", string(f.ReturnStatus))
	}
	if f.Type != "" {
		db = db.Where("transfer_type = ?", string(f.Type))
	}
	if f.ProjectID != nil {
		db = db.Where("(from_project_id = ? OR to_project_id = ?)", *f.ProjectID, *f.ProjectID)
	}
	if f.AssetID > 0 {
		db = db.Where("asset_id = ?", f.AssetID)
	}
	return db
}

func (r *transferRepository) List(ctx context.Context, f TransferFilter) ([]model.Transfer, int64, error) {
	var transfers []model.Transfer
	var total int64

	db := GetDB(ctx, r.db)
	if err := applyFilter(db.Model(&model.Transfer{}), f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.Limit
	if err := applyFilter(withRelations(db), f).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(f.Limit).
		Find(&transfers).Error; err != nil {
		return nil, 0, err
	}

	return transfers, total, nil
}

func (r *transferRepository) ListAll(ctx context.Context, f TransferFilter) ([]model.Transfer, error) {
	var transfers []model.Transfer
	if err := applyFilter(withRelations(GetDB(ctx, r.db)), f).
		Order("id ASC").
		Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

// ListOutstandingLoans returns Completed temporary transfers whose asset has not
// started its way back.
func (r *transferRepository) ListOutstandingLoans(ctx context.Context) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := withRelations(GetDB(ctx, r.db)).
		Where("transfer_type = ? AND status = ? AND return_status = ?",
			string(model.TransferTemporary), string(model.StatusCompleted), string(model.ReturnNotReturned)).
		Where("expected_return IS NOT NULL").
		Order("expected_return ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// HasOpenTransfer reports whether the asset is already part of an unfinished
// transfer or an unreturned loan.
func (r *transferRepository) HasOpenTransfer(ctx context.Context, assetID int64) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Transfer{}).
		Where("asset_id = ?", assetID).
		Where("(status IN ? OR (status = ? AND transfer_type = ? AND return_status <> ?))",
			activeStatuses(),
			string(model.StatusCompleted), string(model.TransferTemporary), string(model.ReturnReturned)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CompareAndSwap applies changes only if the row still has the expected status pair.
func (r *transferRepository) CompareAndSwap(ctx context.Context, id int64, expected model.TransferState, changes map[string]any) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Transfer{}).
		Where("id = ? AND status = ? AND return_status = ?", id, string(expected.Status), string(expected.ReturnStatus)).
		Updates(changes)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendNote adds line to the notes column in a single UPDATE so concurrent
// appends never overwrite each other.
func (r *transferRepository) AppendNote(ctx context.Context, id int64, line string) error {
	res := GetDB(ctx, r.db).Model(&model.Transfer{}).Where("id = ?", id).
		Update("notes", gorm.Expr("CASE WHEN COALESCE(notes, '') = '' THEN ? ELSE notes || ? END", line, "\n"+line))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func activeStatuses() []string {
	var out []string
	for _, s := range model.TransferStatuses {
		if s.Active() {
			out = append(out, string(s))
		}
	}
	return out
}
