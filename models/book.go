package models

// Book ist das aufgelöste Metadaten-Ergebnis für eine ISBN. Reines
// Wire-Modell, wird nicht persistiert.
type Book struct {
	ISBN        string   `json:"isbn"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	PublishDate string   `json:"publish_date,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Citation    string   `json:"citation,omitempty"`
}
