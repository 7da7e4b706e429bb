package core

import (
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTextLength = 500
	MinAmount     = 0.01
)

// Record is a single expense entry owned by one user. It is immutable once
// constructed; use NewRecord to build one.
type Record struct {
	id        string
	text      string
	amount    float64
	category  Category
	date      time.Time
	userID    string
	createdAt time.Time
}

type RecordParams struct {
	ID        string
	Text      string
	Amount    float64
	Category  Category
	Date      time.Time
	UserID    string
	CreatedAt time.Time
}

// NewRecord checks structural invariants only. Amounts may be negative here;
// the positive-amount rule belongs to CreateRecordInput.
func NewRecord(p RecordParams) (Record, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Record{}, ErrEmptyRecordID
	}
	if strings.TrimSpace(p.UserID) == "" {
		return Record{}, ErrEmptyUserID
	}
	if strings.TrimSpace(p.Text) == "" {
		return Record{}, ErrEmptyText
	}
	if utf8.RuneCountInString(p.Text) > MaxTextLength {
		return Record{}, ErrTextTooLong
	}
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return Record{}, ErrInvalidAmount
	}
	if p.Date.IsZero() {
		return Record{}, ErrZeroDate
	}
	category := p.Category
	if category == "" {
		category = DefaultCategory
	}
	if !category.IsValid() {
		return Record{}, ErrUnknownCategory
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return Record{
		id:        p.ID,
		text:      p.Text,
		amount:    p.Amount,
		category:  category,
		date:      p.Date.UTC(),
		userID:    p.UserID,
		createdAt: createdAt.UTC(),
	}, nil
}

// MustRecord is NewRecord for fixtures and seeds; it panics on invalid params.
func MustRecord(p RecordParams) Record {
	r, err := NewRecord(p)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Record) ID() string           { return r.id }
func (r Record) Text() string         { return r.text }
func (r Record) Amount() float64      { return r.amount }
func (r Record) Category() Category   { return r.category }
func (r Record) Date() time.Time      { return r.date }
func (r Record) UserID() string       { return r.userID }
func (r Record) CreatedAt() time.Time { return r.createdAt }

func (r Record) IsZero() bool {
	return r.id == ""
}

type recordJSON struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Amount    float64   `json:"amount"`
	Category  Category  `json:"category"`
	Date      time.Time `json:"date"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:        r.id,
		Text:      r.text,
		Amount:    r.amount,
		Category:  r.category,
		Date:      r.date,
		UserID:    r.userID,
		CreatedAt: r.createdAt,
	})
}

// CreateRecordInput is the caller-supplied payload for a new record. It
// carries no owner: the owner is always the authenticated caller.
type CreateRecordInput struct {
	Text     string   `json:"text"`
	Amount   *float64 `json:"amount"`
	Category string   `json:"category"`
	Date     string   `json:"date"`
}

// RecordDraft is a validated CreateRecordInput, ready to be stamped with an
// id and owner.
type RecordDraft struct {
	Text     string
	Amount   float64
	Category Category
	Date     time.Time
}

// Parse validates every field and reports all failures at once. A missing
// date defaults to now.
func (in CreateRecordInput) Parse(now time.Time) (RecordDraft, error) {
	fields := FieldErrors{}
	var draft RecordDraft

	text := strings.TrimSpace(in.Text)
	switch {
	case text == "":
		fields.Add("text", "Description is required")
	case utf8.RuneCountInString(text) > MaxTextLength:
		fields.Add("text", "Description must be less than 500 characters")
	default:
		draft.Text = text
	}

	switch {
	case in.Amount == nil:
		fields.Add("amount", "Amount is required")
	case math.IsNaN(*in.Amount) || math.IsInf(*in.Amount, 0) || *in.Amount < MinAmount:
		fields.Add("amount", "Amount must be greater than 0")
	default:
		draft.Amount = *in.Amount
	}

	category, err := ParseCategory(in.Category)
	if err != nil {
		fields.Add("category", "Please select a category")
	} else {
		draft.Category = category
	}

	date, err := ParseDate(in.Date, now)
	if err != nil {
		fields.Add("date", "Invalid date")
	} else {
		draft.Date = date
	}

	if err := fields.Err(); err != nil {
		return RecordDraft{}, err
	}
	return draft, nil
}

// ParseDate accepts RFC 3339 timestamps or YYYY-MM-DD calendar dates. Blank
// input yields now.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
