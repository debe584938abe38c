package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"verifai/config"
	"verifai/models"
)

const searchFields = "title,abstract,authors,externalIds,year"

// Fetcher implementiert das Source-Interface für den Semantic Scholar
// Academic Graph.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher erstellt einen neuen Semantic Scholar Fetcher.
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
	return "semantic_scholar"
}

// Lookup sucht die Referenz per Titelsuche im Academic Graph.
func (f *Fetcher) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	if ref.Title == "" && ref.Unstructured == "" {
		return []models.SourceMatch{}, nil
	}
	title := ref.DisplayTitle()
	log := f.Logger.With(zap.String("title", title))
	log.Debug("Starte Semantic-Scholar-Suche.")

	params := url.Values{
		"query":  {title},
		"limit":  {strconv.Itoa(f.Config.SourceMaxResults)},
		"fields": {searchFields},
	}
	searchURL := fmt.Sprintf("%s/paper/search?%s", f.Config.SemanticScholarBaseURL, params.Encode())

	var sr SearchResponse
	if err := f.getJSON(ctx, searchURL, &sr); err != nil {
		return nil, err
	}

	matches := make([]models.SourceMatch, 0, len(sr.Data))
	for _, paper := range sr.Data {
		matches = append(matches, paperToMatch(paper))
	}
	log.Debug("Semantic-Scholar-Suche abgeschlossen", zap.Int("matches", len(matches)))
	return matches, nil
}

// FetchByDOI holt Metadaten eines einzelnen Papers per DOI. Gibt (nil, nil)
// zurück, wenn die DOI dort unbekannt ist.
func (f *Fetcher) FetchByDOI(ctx context.Context, doi string) (*PaperResult, error) {
	fetchURL := fmt.Sprintf("%s/paper/DOI:%s?fields=%s", f.Config.SemanticScholarBaseURL, url.PathEscape(doi), searchFields)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: semantic scholar returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	var paper PaperResult
	if err := json.NewDecoder(resp.Body).Decode(&paper); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return &paper, nil
}

func (f *Fetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: semantic scholar returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return nil
}

func (f *Fetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.Config.UserAgent)
	if f.Config.SemanticScholarAPIKey != "" {
		req.Header.Set("x-api-key", f.Config.SemanticScholarAPIKey)
	}
}

// paperToMatch konvertiert ein Paper-Ergebnis in einen standardisierten Treffer.
func paperToMatch(paper PaperResult) models.SourceMatch {
	m := models.SourceMatch{
		Title: paper.Title,
		DOI:   paper.ExternalIDs.DOI,
		Link:  "https://www.semanticscholar.org/paper/" + paper.PaperID,
	}
	if paper.Year > 0 {
		m.Year = strconv.Itoa(paper.Year)
	}
	return m
}
