package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatSession ist ein benannter, einem Benutzer gehörender Container für
// Messages und Citations.
type ChatSession struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Title     string    `json:"title" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (ChatSession) TableName() string {
	return "chat_sessions"
}
