package arxiv

// Feed ist die Top-Level-Struktur der ArXiv-Atom-Antwort.
type Feed struct {
	Entries []Entry `xml:"entry"`
}

// Entry repräsentiert einen einzelnen Treffer im Atom-Feed.
type Entry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Published string   `xml:"published"`
	Authors   []Author `xml:"author"`
	DOI       string   `xml:"doi"`
}

// Author ist ein Autor-Eintrag im Atom-Feed.
type Author struct {
	Name string `xml:"name"`
}
