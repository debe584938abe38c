package openlibrary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"verifai/config"
	"verifai/models"
)

// Fetcher löst ISBNs über die Open-Library-Books-API zu Buch-Metadaten auf.
// Anders als die Verifikationsquellen ist er kein Source, sondern ein reiner
// Metadaten-Resolver für Monographien.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher erstellt einen neuen Open-Library-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:     cfg,
		Logger:     logger,
		httpClient: &http.Client{Timeout: cfg.SourceTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(cfg.SourceRatePerSecond), 1),
	}
}

// FetchByISBN löst eine ISBN zu Buch-Metadaten auf. Eine unbekannte ISBN
// ergibt ErrNotFound (die API antwortet dann mit einer leeren Map).
func (f *Fetcher) FetchByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	isbn = NormalizeISBN(isbn)
	log := f.Logger.With(zap.String("isbn", isbn))
	log.Info("Löse ISBN über Open Library auf.")

	bibkey := "ISBN:" + isbn
	params := url.Values{
		"bibkeys": {bibkey},
		"format":  {"json"},
		"jscmd":   {"data"},
	}
	booksURL := fmt.Sprintf("%s/api/books?%s", f.Config.OpenLibraryBaseURL, params.Encode())

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, booksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", f.Config.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: openlibrary returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	var entries map[string]bookEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	entry, ok := entries[bibkey]
	if !ok {
		return nil, models.ErrNotFound
	}

	book := &models.Book{
		ISBN:        isbn,
		Title:       entry.Title,
		PublishDate: entry.PublishDate,
	}
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			book.Authors = append(book.Authors, name)
		}
	}
	if len(entry.Publishers) > 0 {
		book.Publisher = entry.Publishers[0].Name
	}

	log.Info("ISBN-Auflösung abgeschlossen",
		zap.String("title", book.Title), zap.Int("authors", len(book.Authors)))
	return book, nil
}

// NormalizeISBN entfernt Bindestriche, Whitespace und ein "ISBN"-Präfix.
func NormalizeISBN(isbn string) string {
	isbn = strings.TrimSpace(isbn)
	isbn = strings.TrimPrefix(strings.ToUpper(isbn), "ISBN:")
	isbn = strings.ReplaceAll(isbn, "-", "")
	return strings.ReplaceAll(isbn, " ", "")
}
