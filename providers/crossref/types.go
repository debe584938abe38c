package crossref

// WorksResponse ist die Top-Level-Struktur einer CrossRef /works-Suche.
type WorksResponse struct {
	Message struct {
		Items []Work `json:"items"`
	} `json:"message"`
}

// WorkResponse ist die Antwort auf einen /works/{doi}-Abruf.
type WorkResponse struct {
	Message Work `json:"message"`
}

// Work repräsentiert ein einzelnes Werk in der CrossRef-Antwort.
type Work struct {
	DOI       string     `json:"DOI"`
	Title     []string   `json:"title"`
	Publisher string     `json:"publisher"`
	Abstract  string     `json:"abstract"`
	Author    []Author   `json:"author"`
	Published DateParts  `json:"published-print"`
	Issued    DateParts  `json:"issued"`
	Reference []RefEntry `json:"reference"`
}

// Author ist ein Autor-Eintrag mit Vor- und Nachname.
type Author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

// DateParts kapselt CrossRefs verschachteltes Datumsformat [[year, month, day]].
type DateParts struct {
	DateParts [][]int `json:"date-parts"`
}

// Year gibt das Jahr zurück, 0 wenn unbekannt.
func (d DateParts) Year() int {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		return d.DateParts[0][0]
	}
	return 0
}

// RefEntry ist ein Eintrag der Referenzliste eines Werks.
type RefEntry struct {
	Key          string `json:"key"`
	DOI          string `json:"DOI"`
	ArticleTitle string `json:"article-title"`
	Author       string `json:"author"`
	Year         string `json:"year"`
	Unstructured string `json:"unstructured"`
}
