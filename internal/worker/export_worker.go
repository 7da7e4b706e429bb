package worker

import (
	"context"
	"fmt"
	"log/slog"

	"spendlog/internal/amqp"
	"spendlog/internal/log"
	"spendlog/internal/sheets"
)

// ExportWorker copies every created record into a spreadsheet.
type ExportWorker struct {
	exporter sheets.RecordExporter
	exported sheets.ExportedRecords
}

// NewExportWorker builds a worker. exported may be nil, in which case
// redelivered messages can produce duplicate rows.
func NewExportWorker(exporter sheets.RecordExporter, exported sheets.ExportedRecords) *ExportWorker {
	return &ExportWorker{exporter: exporter, exported: exported}
}

// HandleRecordCreated processes a single record.created message from AMQP.
// A returned error makes the consumer requeue the delivery.
func (w *ExportWorker) HandleRecordCreated(ctx context.Context, msg *amqp.RecordCreatedMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	slog.InfoContext(ctx, "Processing record export",
		log.FieldComponent, log.ComponentWorker,
		log.FieldRecordID, msg.RecordID,
		log.FieldUserID, msg.UserID)

	if w.exported != nil {
		done, err := w.exported.HasRecord(ctx, msg.RecordID)
		if err != nil {
			return fmt.Errorf("check exported records: %w", err)
		}
		if done {
			slog.InfoContext(ctx, "Record already exported, skipping",
				log.FieldComponent, log.ComponentWorker,
				log.FieldRecordID, msg.RecordID)
			return nil
		}
	}

	ref, err := w.exporter.AppendRecord(ctx, RowFromMessage(msg))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to export record",
			log.FieldComponent, log.ComponentWorker,
			log.FieldOperation, log.OpExport,
			log.FieldRecordID, msg.RecordID,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeUpstream)
		return fmt.Errorf("append to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully exported record",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpExport,
		log.FieldRecordID, msg.RecordID,
		log.FieldAmount, msg.Amount,
		log.FieldCategory, msg.Category,
		"sheets_ref", ref)

	return nil
}

// RowFromMessage maps the event payload onto a spreadsheet row.
func RowFromMessage(msg *amqp.RecordCreatedMessage) sheets.RecordRow {
	return sheets.RecordRow{
		RecordID:  msg.RecordID,
		UserID:    msg.UserID,
		Text:      msg.Text,
		Amount:    msg.Amount,
		Category:  msg.Category,
		Date:      msg.Date,
		CreatedAt: msg.CreatedAt,
	}
}
