package models

import (
	"time"

	"github.com/google/uuid"
)

// Nachrichtentypen innerhalb einer Session.
const (
	MessageTypeUser = "user"
	MessageTypeBot  = "bot"
)

// Message ist ein Gesprächszug innerhalb einer ChatSession. Append-only;
// wird nach dem Anlegen nie verändert oder umsortiert. Content trägt das
// Codec-Format (Klartext oder getaggter Wrapper, siehe services-Codec).
type Message struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID `json:"session_id" gorm:"type:uuid;index;not null"`
	Type      string    `json:"type" gorm:"not null"`
	Content   string    `json:"text" gorm:"type:text"`
	// Seq bricht Timestamp-Gleichstände bei schnell aufeinanderfolgenden
	// Appends, damit die Leserichtung stabil bleibt.
	Seq       uint64    `json:"-" gorm:"index"`
	CreatedAt time.Time `json:"timestamp" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Message) TableName() string {
	return "messages"
}
