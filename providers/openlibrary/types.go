package openlibrary

// bookEntry ist ein Eintrag der Books-API-Antwort (jscmd=data). Die Antwort
// ist eine Map, deren Schlüssel die angefragten bibkeys ("ISBN:...") sind.
type bookEntry struct {
	Title       string      `json:"title"`
	PublishDate string      `json:"publish_date"`
	Authors     []nameEntry `json:"authors"`
	Publishers  []nameEntry `json:"publishers"`
}

// nameEntry ist ein benannter Unter-Eintrag (Autor oder Verlag).
type nameEntry struct {
	Name string `json:"name"`
}
