package export

import (
	"time"

	"constructlink/internal/model"
	"constructlink/internal/workflow"

	"github.com/shopspring/decimal"
)

// Columns is the header of every transfer export, in order.
var Columns = []string{
	"Transfer ID",
	"Asset Ref",
	"Asset",
	"Asset Value",
	"From Project",
	"To Project",
	"Type",
	"Status",
	"Return Status",
	"Requested By",
	"Transfer Date",
	"Expected Return",
	"Completed",
	"Days Overdue",
}

// Row is one flattened transfer.
type Row struct {
	ID             int64
	AssetRef       string
	AssetName      string
	AssetValue     decimal.Decimal
	FromProject    string
	ToProject      string
	Type           model.TransferType
	Status         model.TransferStatus
	ReturnStatus   model.ReturnStatus
	RequestedBy    string
	TransferDate   time.Time
	ExpectedReturn *time.Time
	CompletionDate *time.Time
	DaysOverdue    int
}

// Rows flattens transfers loaded with their relations.
func Rows(transfers []model.Transfer, now time.Time) []Row {
	rows := make([]Row, 0, len(transfers))
	for i := range transfers {
		t := &transfers[i]
		r := Row{
			ID:             t.ID,
			Type:           t.TransferType,
			Status:         t.Status,
			ReturnStatus:   t.ReturnStatus,
			RequestedBy:    requestedBy(t),
			TransferDate:   t.TransferDate,
			ExpectedReturn: t.ExpectedReturn,
			CompletionDate: t.CompletionDate,
			DaysOverdue:    workflow.DaysOverdue(t, now),
		}
		if t.Asset != nil {
			r.AssetRef = t.Asset.Ref
			r.AssetName = t.Asset.Name
			r.AssetValue = t.Asset.AcquisitionCost
		}
		r.FromProject = projectLabel(t.FromProject, t.FromProjectID)
		r.ToProject = projectLabel(t.ToProject, t.ToProjectID)
		if !t.Temporary() {
			r.ReturnStatus = ""
		}
		rows = append(rows, r)
	}
	return rows
}

func requestedBy(t *model.Transfer) string {
	if t.Initiator != nil {
		return t.Initiator.DisplayName()
	}
	return (&model.User{ID: t.InitiatedBy}).DisplayName()
}

func projectLabel(p *model.Project, id int64) string {
	if p == nil {
		return "#" + formatInt(id)
	}
	return p.Code + " " + p.Name
}

// Strings renders the row as text cells matching Columns.
func (r Row) Strings() []string {
	return []string{
		formatInt(r.ID),
		r.AssetRef,
		r.AssetName,
		r.AssetValue.StringFixed(2),
		r.FromProject,
		r.ToProject,
		string(r.Type),
		string(r.Status),
		string(r.ReturnStatus),
		r.RequestedBy,
		formatDate(&r.TransferDate),
		formatDate(r.ExpectedReturn),
		formatDate(r.CompletionDate),
		formatInt(int64(r.DaysOverdue)),
	}
}
