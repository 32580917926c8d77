package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"constructlink/internal/export"
	"constructlink/internal/model"
	"constructlink/internal/workflow"

	"go.uber.org/zap"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatXLSX ExportFormat = "xlsx"
	FormatCSV  ExportFormat = "csv"
)

// ContentType returns the MIME type of the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	}
	return "application/octet-stream"
}

func (f ExportFormat) Valid() bool {
	return f == FormatXLSX || f == FormatCSV
}

func (s *transferService) Export(ctx context.Context, actor workflow.Actor, q ListTransfersQuery, format ExportFormat, w io.Writer) error {
	if err := s.validator.CanExport(actor).Err(); err != nil {
		s.reject(workflow.ActionExport, actor, 0, err)
		return err
	}
	if !format.Valid() {
		return workflow.ValidationError("format", fmt.Sprintf("format must be xlsx or csv, got %q", format))
	}
	f, err := s.scope(actor, q)
	if err != nil {
		return err
	}

	now := s.now()
	transfers, err := s.transfers.ListAll(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to load transfers for export: %w", err)
	}
	rows := export.Rows(transfers, now)
	if q.OverdueOnly {
		overdue := rows[:0]
		for _, r := range rows {
			if r.DaysOverdue > 0 {
				overdue = append(overdue, r)
			}
		}
		rows = overdue
	}

	switch format {
	case FormatCSV:
		err = export.WriteCSV(w, rows)
	case FormatXLSX:
		err = export.WriteXLSX(w, rows, export.DefaultExcelOptions())
	}
	if err != nil {
		return fmt.Errorf("failed to write %s export: %w", format, err)
	}

	details, _ := json.Marshal(map[string]any{"format": format, "rows": len(rows), "filter": q})
	uid := actor.ID
	if err := s.auditRepo.Log(ctx, &model.AuditLog{
		UserID:     &uid,
		Action:     model.ActionTransfersExported,
		EntityType: model.EntityTransfer,
		Details:    string(details),
		CreatedAt:  now,
	}); err != nil {
		s.log.Error("Failed to audit transfer export", zap.Int64("actor_id", actor.ID), zap.Error(err))
	}
	return nil
}

func (s *transferService) Slip(ctx context.Context, actor workflow.Actor, id int64, w io.Writer) error {
	d, err := s.detail(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := export.WriteSlip(w, d.Transfer, d.Timeline, s.now(), export.DefaultSlipOptions()); err != nil {
		return fmt.Errorf("failed to render slip for transfer %d: %w", id, err)
	}
	return nil
}

// Overdue lists every Completed temporary transfer past its expected return,
// most overdue first.
func (s *transferService) Overdue(ctx context.Context, now time.Time) ([]TransferListItem, error) {
	loans, err := s.transfers.ListOutstandingLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding loans: %w", err)
	}
	return overdueItems(loans, now), nil
}
