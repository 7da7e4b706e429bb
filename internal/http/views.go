package http

import (
	"time"

	"spendlog/internal/core"
)

type recordView struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	Amount     float64       `json:"amount"`
	Category   core.Category `json:"category"`
	Date       time.Time     `json:"date"`
	UserID     string        `json:"userId"`
	CreatedAt  time.Time     `json:"createdAt"`
	CreatedAgo string        `json:"createdAgo"`
}

type userWithRecordsView struct {
	core.User
	Records []recordView `json:"records"`
}

func newRecordView(r core.Record, now time.Time) recordView {
	return recordView{
		ID:         r.ID(),
		Text:       r.Text(),
		Amount:     r.Amount(),
		Category:   r.Category(),
		Date:       r.Date(),
		UserID:     r.UserID(),
		CreatedAt:  r.CreatedAt(),
		CreatedAgo: core.RelativeTime(now, r.CreatedAt()),
	}
}

func newRecordViews(records []core.Record, now time.Time) []recordView {
	out := make([]recordView, len(records))
	for i, r := range records {
		out[i] = newRecordView(r, now)
	}
	return out
}
