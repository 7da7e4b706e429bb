package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendlog/internal/amqp"
	"spendlog/internal/sheets"
)

type fakeSheet struct {
	rows      []sheets.RecordRow
	appendErr error
	hasErr    error
}

func (f *fakeSheet) AppendRecord(_ context.Context, row sheets.RecordRow) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.rows = append(f.rows, row)
	return "Records!A2:F2", nil
}

func (f *fakeSheet) HasRecord(_ context.Context, id string) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	for _, r := range f.rows {
		if r.RecordID == id {
			return true, nil
		}
	}
	return false, nil
}

func testMessage() *amqp.RecordCreatedMessage {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return &amqp.RecordCreatedMessage{
		RecordID:  "rec-1",
		UserID:    "user_2abc",
		Text:      "Groceries",
		Amount:    42.5,
		Category:  "Food",
		Date:      date,
		CreatedAt: date.Add(time.Hour),
		Timestamp: date.Add(time.Hour),
	}
}

func TestHandleRecordCreated(t *testing.T) {
	sheet := &fakeSheet{}
	w := NewExportWorker(sheet, sheet)

	require.NoError(t, w.HandleRecordCreated(context.Background(), testMessage()))
	require.Len(t, sheet.rows, 1)

	row := sheet.rows[0]
	assert.Equal(t, "rec-1", row.RecordID)
	assert.Equal(t, "user_2abc", row.UserID)
	assert.Equal(t, "Groceries", row.Text)
	assert.Equal(t, 42.5, row.Amount)
	assert.Equal(t, "Food", row.Category)
}

func TestHandleRecordCreatedSkipsExported(t *testing.T) {
	sheet := &fakeSheet{}
	w := NewExportWorker(sheet, sheet)

	require.NoError(t, w.HandleRecordCreated(context.Background(), testMessage()))
	require.NoError(t, w.HandleRecordCreated(context.Background(), testMessage()))
	assert.Len(t, sheet.rows, 1)
}

func TestHandleRecordCreatedWithoutDedup(t *testing.T) {
	sheet := &fakeSheet{}
	w := NewExportWorker(sheet, nil)

	require.NoError(t, w.HandleRecordCreated(context.Background(), testMessage()))
	require.NoError(t, w.HandleRecordCreated(context.Background(), testMessage()))
	assert.Len(t, sheet.rows, 2)
}

func TestHandleRecordCreatedErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		sheet *fakeSheet
		msg   *amqp.RecordCreatedMessage
	}{
		{"append fails", &fakeSheet{appendErr: boom}, testMessage()},
		{"lookup fails", &fakeSheet{hasErr: boom}, testMessage()},
		{"invalid message", &fakeSheet{}, &amqp.RecordCreatedMessage{UserID: "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewExportWorker(tt.sheet, tt.sheet)
			assert.Error(t, w.HandleRecordCreated(context.Background(), tt.msg))
			assert.Empty(t, tt.sheet.rows)
		})
	}
}
