package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// RecordCreatedMessage announces a stored record. It carries the full record
// so consumers need no database access.
type RecordCreatedMessage struct {
	RecordID  string    `json:"recordId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Amount    float64   `json:"amount"`
	Category  string    `json:"category"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m *RecordCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Validate rejects messages that cannot be attributed to a record and owner.
func (m *RecordCreatedMessage) Validate() error {
	if m.RecordID == "" {
		return errors.New("message has no record id")
	}
	if m.UserID == "" {
		return errors.New("message has no user id")
	}
	return nil
}

// RecordCreatedMessageFromJSON decodes and validates a message body.
func RecordCreatedMessageFromJSON(data []byte) (*RecordCreatedMessage, error) {
	var msg RecordCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
