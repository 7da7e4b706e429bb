package sheets

import (
	"context"
	"time"
)

// RecordRow is one exported record.
type RecordRow struct {
	RecordID  string
	UserID    string
	Text      string
	Amount    float64
	Category  string
	Date      time.Time
	CreatedAt time.Time
}

// Ports for outbound adapters.
type (
	RecordExporter interface {
		AppendRecord(ctx context.Context, row RecordRow) (rowRef string, err error)
	}

	// ExportedRecords lets the worker skip records a previous delivery already wrote.
	ExportedRecords interface {
		HasRecord(ctx context.Context, recordID string) (bool, error)
	}
)
