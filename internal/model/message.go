package model

import "time"

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  uint      `gorm:"not null;index" json:"session_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SenderType string    `gorm:"size:16;not null" json:"sender_type"`
	CreatedAt  time.Time `json:"created_at"`
}
