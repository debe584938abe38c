package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"verifai/config"
	"verifai/models"
)

// Fetcher implementiert das Source-Interface für das ArXiv-Preprint-Archiv.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher erstellt einen neuen ArXiv-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config:     cfg,
		Logger:     logger,
		httpClient: &http.Client{Timeout: cfg.SourceTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(cfg.SourceRatePerSecond), 1),
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// Lookup sucht die Referenz per Titelsuche im ArXiv-Atom-Feed.
func (f *Fetcher) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	if ref.Title == "" && ref.Unstructured == "" {
		return []models.SourceMatch{}, nil
	}
	title := ref.DisplayTitle()
	log := f.Logger.With(zap.String("title", title))
	log.Debug("Starte ArXiv-Suche.")

	params := url.Values{
		"search_query": {fmt.Sprintf("all:%s", title)},
		"start":        {"0"},
		"max_results":  {fmt.Sprintf("%d", f.Config.SourceMaxResults)},
	}
	searchURL := f.Config.ArxivBaseURL + "?" + params.Encode()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
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
		return nil, fmt.Errorf("%w: arxiv returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	var feed Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	matches := make([]models.SourceMatch, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		matches = append(matches, entryToMatch(entry))
	}
	log.Debug("ArXiv-Suche abgeschlossen", zap.Int("matches", len(matches)))
	return matches, nil
}

// entryToMatch konvertiert einen Atom-Eintrag in einen standardisierten Treffer.
func entryToMatch(entry Entry) models.SourceMatch {
	m := models.SourceMatch{
		Title: strings.TrimSpace(entry.Title),
		DOI:   entry.DOI,
		Link:  strings.TrimSpace(entry.ID),
	}
	// Atom liefert RFC3339, für die Anzeige reicht das Jahr.
	if len(entry.Published) >= 4 {
		m.Year = entry.Published[:4]
	}
	return m
}
