package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Citation ist eine vom Benutzer bestätigte, dauerhaft gespeicherte Referenz.
// Wird nach dem Anlegen nie mutiert; gelöscht nur über Session-Löschung oder
// explizites Entfernen.
type Citation struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID `json:"session_id" gorm:"type:uuid;index;not null"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	Title   string         `json:"title" gorm:"not null"`
	Authors datatypes.JSON `json:"authors" gorm:"type:jsonb"`
	Year    *int           `json:"year,omitempty"`
	DOI     string         `json:"doi,omitempty" gorm:"index"`

	// Freiform-Klassifikation, warum die Referenz gespeichert wurde.
	ResearchField string `json:"research_field" gorm:"default:'Reference'"`

	IsRetracted    bool           `json:"is_retracted" gorm:"default:false"`
	RetractionInfo datatypes.JSON `json:"retraction_info,omitempty" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Citation) TableName() string {
	return "citations"
}
