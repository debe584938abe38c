package retractionwatch

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

// Fetcher implementiert das Source-Interface für das Retraction-Register
// (CrossRef-Works mit filter=type:retraction, gespeist von Retraction Watch).
// Ein Treffer hier hat Vorrang vor allen positiven Treffern anderer Quellen.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher erstellt einen neuen Retraction-Fetcher.
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
	return "retracted"
}

// Lookup sucht Retraction-Einträge zum Titel der Referenz.
func (f *Fetcher) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	if ref.Title == "" && ref.Unstructured == "" {
		return []models.SourceMatch{}, nil
	}
	title := ref.DisplayTitle()
	log := f.Logger.With(zap.String("title", title))
	log.Debug("Starte Retraction-Prüfung.")

	params := url.Values{
		"query.title": {title},
		"filter":      {"type:retraction"},
		"rows":        {strconv.Itoa(f.Config.SourceMaxResults)},
	}
	if f.Config.CrossRefMailTo != "" {
		params.Set("mailto", f.Config.CrossRefMailTo)
	}
	searchURL := fmt.Sprintf("%s/works?%s", f.Config.CrossRefBaseURL, params.Encode())

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
		return nil, fmt.Errorf("%w: retraction registry returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	var wr worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	matches := make([]models.SourceMatch, 0, len(wr.Message.Items))
	for _, item := range wr.Message.Items {
		m := models.SourceMatch{DOI: item.DOI}
		if len(item.Title) > 0 {
			m.Title = item.Title[0]
		}
		if item.DOI != "" {
			m.Link = "https://doi.org/" + item.DOI
		}
		matches = append(matches, m)
	}
	if len(matches) > 0 {
		log.Info("Retraction-Einträge gefunden", zap.Int("matches", len(matches)))
	}
	return matches, nil
}

// worksResponse ist die reduzierte CrossRef-Antwort für die Retraction-Suche.
type worksResponse struct {
	Message struct {
		Items []struct {
			DOI   string   `json:"DOI"`
			Title []string `json:"title"`
		} `json:"items"`
	} `json:"message"`
}
