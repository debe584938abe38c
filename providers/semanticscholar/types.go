package semanticscholar

// SearchResponse ist die Top-Level-Struktur der Paper-Suche.
type SearchResponse struct {
	Data []PaperResult `json:"data"`
}

// PaperResult repräsentiert ein einzelnes Paper in der API-Antwort.
type PaperResult struct {
	PaperID     string   `json:"paperId"`
	Title       string   `json:"title"`
	Abstract    string   `json:"abstract"`
	Year        int      `json:"year"`
	Authors     []Author `json:"authors"`
	ExternalIDs struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
}

// Author ist ein Autor-Eintrag in der API-Antwort.
type Author struct {
	Name string `json:"name"`
}
