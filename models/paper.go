package models

// Paper ist das aufgelöste Metadaten-Ergebnis für einen Identifier (DOI),
// inklusive Referenzliste. Reines Wire-Modell, wird nicht persistiert.
type Paper struct {
	Title          string        `json:"title"`
	Authors        []string      `json:"authors"`
	Year           string        `json:"year"`
	DOI            string        `json:"doi"`
	Abstract       string        `json:"abstract,omitempty"`
	References     []Reference   `json:"references"`
	Citation       string        `json:"citation,omitempty"`
	IsRetracted    bool          `json:"is_retracted"`
	RetractionInfo []SourceMatch `json:"retraction_info,omitempty"`
}
