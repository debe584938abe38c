package services

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"verifai/models"
)

var (
	doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)
	// Eingerückte Referenzlisten-Einträge: "[12]", "12." oder "12)".
	refEntryPattern = regexp.MustCompile(`(?m)^\s*(?:\[(\d{1,3})\]|(\d{1,3})[.)])\s+`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// ExtractedDocument ist das Ergebnis der PDF-Extraktion: der Volltext für
// Folgefragen plus die heuristisch erkannten Metadaten und Referenzen.
type ExtractedDocument struct {
	Title      string             `json:"title"`
	DOI        string             `json:"doi"`
	Text       string             `json:"text"`
	Pages      int                `json:"pages"`
	References []models.Reference `json:"references"`
}

// DocumentExtractor zieht Text, DOI und Referenzliste aus hochgeladenen
// PDF-Dokumenten. Die Extraktion ist best-effort: einzelne unlesbare Seiten
// werden übersprungen, nur ein gänzlich unlesbares PDF ist ein Fehler.
type DocumentExtractor struct {
	Logger *zap.Logger
	// MaxPages begrenzt die gelesenen Seiten, 0 bedeutet alle.
	MaxPages int
}

// NewDocumentExtractor erstellt einen DocumentExtractor.
func NewDocumentExtractor(logger *zap.Logger) *DocumentExtractor {
	return &DocumentExtractor{Logger: logger}
}

// Extract liest das PDF und liefert Text, Metadaten und Referenzliste.
func (e *DocumentExtractor) Extract(r io.ReaderAt, size int64) (*ExtractedDocument, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("pdf parse: %w", err)
	}

	maxPages := reader.NumPage()
	if e.MaxPages > 0 && e.MaxPages < maxPages {
		maxPages = e.MaxPages
	}

	var builder strings.Builder
	var firstPage string
	for i := 1; i <= maxPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if firstPage == "" {
			firstPage = text
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	doc := &ExtractedDocument{
		Text:  builder.String(),
		Pages: reader.NumPage(),
	}
	if doc.Text == "" {
		return nil, fmt.Errorf("pdf parse: no extractable text")
	}

	doc.Title = guessTitle(firstPage)
	doc.DOI = findDOI(firstPage)
	doc.References = ExtractReferences(doc.Text)

	e.Logger.Info("Dokument extrahiert",
		zap.Int("pages", doc.Pages),
		zap.Int("references", len(doc.References)),
		zap.String("doi", doc.DOI))
	return doc, nil
}

// ExtractReferences sucht den Referenzlisten-Abschnitt und zerlegt ihn in
// einzelne Einträge. Jeder Eintrag wird als unstructured Reference geführt;
// Jahr und DOI werden herausgelesen, wo erkennbar.
func ExtractReferences(text string) []models.Reference {
	section := referencesSection(text)
	if section == "" {
		return nil
	}

	locs := refEntryPattern.FindAllStringIndex(section, -1)
	if len(locs) == 0 {
		return nil
	}

	var refs []models.Reference
	for i, loc := range locs {
		end := len(section)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		entry := strings.TrimSpace(section[loc[0]:end])
		entry = strings.Join(strings.Fields(entry), " ")
		if len(entry) < 20 {
			continue
		}

		ref := models.Reference{Unstructured: entry}
		if doi := findDOI(entry); doi != "" {
			ref.DOI = doi
		}
		if m := yearPattern.FindString(entry); m != "" {
			if y, err := strconv.Atoi(m); err == nil {
				ref.Year = &y
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// referencesSection schneidet den Text ab der Referenzlisten-Überschrift ab.
func referencesSection(text string) string {
	lower := strings.ToLower(text)
	for _, heading := range []string{"\nreferences", "\nbibliography", "\nliterature cited"} {
		if idx := strings.LastIndex(lower, heading); idx >= 0 {
			return text[idx:]
		}
	}
	return ""
}

// guessTitle nimmt die erste substanzielle Zeile der ersten Seite.
func guessTitle(firstPage string) string {
	for _, line := range strings.Split(firstPage, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 20 && !isHeaderLine(line) {
			return line
		}
	}
	return ""
}

// findDOI extrahiert die erste plausible DOI aus dem Text.
func findDOI(text string) string {
	for _, match := range doiPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".,;:)")
		if isValidDOI(match) {
			return match
		}
	}
	return ""
}

func isValidDOI(doi string) bool {
	if len(doi) < 10 || !strings.HasPrefix(doi, "10.") {
		return false
	}
	slashIdx := strings.Index(doi, "/")
	return slashIdx > 0 && slashIdx < len(doi)-1
}

// isHeaderLine erkennt typische Kopf- und Fußzeilen.
func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "journal"):
		return true
	case strings.Contains(lower, "volume") && strings.Contains(lower, "issue"):
		return true
	case strings.Contains(lower, "copyright"):
		return true
	case strings.HasPrefix(lower, "doi"), strings.HasPrefix(lower, "http"):
		return true
	}
	return false
}
