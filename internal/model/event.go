package model

import "time"

const (
	EventSessionCreated  = "session_created"
	EventSessionDeleted  = "session_deleted"
	EventMessageAppended = "message_appended"
)

// Event is an audit row persisted asynchronously by the event worker.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"size:32;not null;index" json:"type"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	SessionID uint      `gorm:"index" json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}
