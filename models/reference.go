package models

import "errors"

// Fehlerklassen, die über Service-Grenzen hinweg geprüft werden.
var (
	// ErrSourceUnavailable: eine externe Quelle war nicht erreichbar (Netzwerk,
	// Timeout, non-2xx). Lokal zur Quelle, kein Abbruch der Verifikation.
	ErrSourceUnavailable = errors.New("verification source unavailable")
	// ErrUnauthorized: Operation ohne authentifizierten Benutzer.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound: angefragte Session/Citation existiert nicht.
	ErrNotFound = errors.New("not found")
)

// Reference ist ein bibliografischer Eintrag eines Papers, noch nicht gegen
// externe Quellen bestätigt. Wird nie eigenständig persistiert.
type Reference struct {
	Title        string   `json:"title,omitempty"`
	Authors      []string `json:"authors,omitempty"`
	Year         *int     `json:"year,omitempty"`
	DOI          string   `json:"doi,omitempty"`
	Unstructured string   `json:"unstructured,omitempty"`
}

// DisplayTitle gibt den anzeigbaren Titel zurück, mit Fallback auf den
// unstrukturierten Rohtext.
func (r Reference) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Unstructured != "" {
		return r.Unstructured
	}
	return "Untitled Reference"
}

// SameIdentity prüft die (title, doi)-Identität zweier Referenzen. Ergebnisse
// werden darüber zugeordnet, nicht über die Array-Position.
func (r Reference) SameIdentity(other Reference) bool {
	return r.Title == other.Title && r.DOI == other.DOI
}

// SourceMatch ist ein einzelner Treffer einer Verifikationsquelle.
type SourceMatch struct {
	Title     string `json:"title"`
	DOI       string `json:"doi,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Year      string `json:"year,omitempty"`
	Link      string `json:"link,omitempty"`
}

// VerificationStatus ist der Zustand einer Referenz im Verifikationsautomaten.
type VerificationStatus string

const (
	StatusPending    VerificationStatus = "pending"
	StatusInProgress VerificationStatus = "in_progress"
	StatusVerified   VerificationStatus = "verified"
	StatusNotFound   VerificationStatus = "not_found"
	StatusFailed     VerificationStatus = "failed"
	StatusRetracted  VerificationStatus = "retracted"
)

// Terminal meldet, ob aus diesem Zustand keine weiteren Übergänge möglich sind.
func (s VerificationStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusNotFound, StatusFailed, StatusRetracted:
		return true
	}
	return false
}

// VerificationRecord ist das flüchtige Ergebnis eines Verifikationslaufs für
// genau eine Referenz: Status plus Treffer je Quelle. Wird nie persistiert;
// erst die explizite Speicherung erzeugt eine Citation.
type VerificationRecord struct {
	Reference Reference                `json:"reference"`
	Status    VerificationStatus       `json:"verification_status"`
	Results   map[string][]SourceMatch `json:"results"`
}
