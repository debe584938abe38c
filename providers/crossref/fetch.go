package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"verifai/config"
	"verifai/models"
)

// Fetcher implementiert das Source-Interface für CrossRef (bibliografisches
// Register). Dient zusätzlich als Metadaten-Resolver für /works/{doi}.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher erstellt einen neuen CrossRef-Fetcher.
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
	return "crossref"
}

// Lookup sucht die Referenz auf CrossRef: per DOI-Abruf, wenn eine DOI
// vorhanden ist, sonst per bibliografischer Titelsuche.
func (f *Fetcher) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	if ref.DOI != "" {
		work, err := f.fetchWork(ctx, ref.DOI)
		if err != nil {
			return nil, err
		}
		if work == nil {
			return []models.SourceMatch{}, nil
		}
		return []models.SourceMatch{workToMatch(work)}, nil
	}

	if ref.Title == "" && ref.Unstructured == "" {
		return []models.SourceMatch{}, nil
	}
	return f.searchByTitle(ctx, ref.DisplayTitle())
}

// searchByTitle führt eine query.bibliographic-Suche aus.
func (f *Fetcher) searchByTitle(ctx context.Context, title string) ([]models.SourceMatch, error) {
	log := f.Logger.With(zap.String("title", title))
	log.Debug("Starte CrossRef-Titelsuche.")

	params := url.Values{
		"query.bibliographic": {title},
		"rows":                {strconv.Itoa(f.Config.SourceMaxResults)},
	}
	if f.Config.CrossRefMailTo != "" {
		params.Set("mailto", f.Config.CrossRefMailTo)
	}
	searchURL := fmt.Sprintf("%s/works?%s", f.Config.CrossRefBaseURL, params.Encode())

	var wr WorksResponse
	if err := f.getJSON(ctx, searchURL, &wr); err != nil {
		return nil, err
	}

	matches := make([]models.SourceMatch, 0, len(wr.Message.Items))
	for i := range wr.Message.Items {
		matches = append(matches, workToMatch(&wr.Message.Items[i]))
	}
	log.Debug("CrossRef-Titelsuche abgeschlossen", zap.Int("matches", len(matches)))
	return matches, nil
}

// fetchWork holt ein einzelnes Werk per DOI. Gibt (nil, nil) bei 404 zurück,
// da eine unbekannte DOI ein leeres Ergebnis ist, kein Quellenfehler.
func (f *Fetcher) fetchWork(ctx context.Context, doi string) (*Work, error) {
	doi = NormalizeDOI(doi)
	workURL := fmt.Sprintf("%s/works/%s", f.Config.CrossRefBaseURL, url.PathEscape(doi))

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, workURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", f.Config.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: crossref returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	var wr WorkResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return &wr.Message, nil
}

// FetchPaper löst eine DOI zu Paper-Metadaten inklusive Referenzliste auf.
func (f *Fetcher) FetchPaper(ctx context.Context, doi string) (*models.Paper, error) {
	doi = NormalizeDOI(doi)
	log := f.Logger.With(zap.String("doi", doi))
	log.Info("Löse DOI über CrossRef auf.")

	work, err := f.fetchWork(ctx, doi)
	if err != nil {
		return nil, err
	}
	if work == nil {
		return nil, models.ErrNotFound
	}

	paper := &models.Paper{
		Title:    firstOrEmpty(work.Title),
		DOI:      doi,
		Abstract: work.Abstract,
	}
	for _, a := range work.Author {
		paper.Authors = append(paper.Authors, strings.TrimSpace(a.Given+" "+a.Family))
	}
	if y := work.Published.Year(); y > 0 {
		paper.Year = strconv.Itoa(y)
	} else if y := work.Issued.Year(); y > 0 {
		paper.Year = strconv.Itoa(y)
	}
	for _, entry := range work.Reference {
		paper.References = append(paper.References, refEntryToReference(entry))
	}

	log.Info("DOI-Auflösung abgeschlossen", zap.Int("references", len(paper.References)))
	return paper, nil
}

// getJSON führt einen GET mit Rate-Limit und User-Agent aus und dekodiert JSON.
func (f *Fetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", f.Config.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: crossref returned status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return nil
}

// workToMatch konvertiert ein CrossRef-Werk in einen standardisierten Treffer.
func workToMatch(work *Work) models.SourceMatch {
	m := models.SourceMatch{
		Title:     firstOrEmpty(work.Title),
		DOI:       work.DOI,
		Publisher: work.Publisher,
	}
	if y := work.Published.Year(); y > 0 {
		m.Year = strconv.Itoa(y)
	} else if y := work.Issued.Year(); y > 0 {
		m.Year = strconv.Itoa(y)
	}
	if work.DOI != "" {
		m.Link = "https://doi.org/" + work.DOI
	}
	return m
}

// refEntryToReference konvertiert einen CrossRef-Referenzeintrag in unser
// internes Reference-Modell.
func refEntryToReference(entry RefEntry) models.Reference {
	ref := models.Reference{
		Title:        entry.ArticleTitle,
		DOI:          entry.DOI,
		Unstructured: entry.Unstructured,
	}
	if ref.Title == "" && entry.Unstructured != "" {
		ref.Title = entry.Unstructured
	}
	if entry.Author != "" {
		for _, a := range strings.Split(entry.Author, ",") {
			if a = strings.TrimSpace(a); a != "" {
				ref.Authors = append(ref.Authors, a)
			}
		}
	}
	if entry.Year != "" {
		if y, err := strconv.Atoi(strings.TrimSpace(entry.Year)); err == nil {
			ref.Year = &y
		}
	}
	return ref
}

// NormalizeDOI entfernt URL-Präfixe und Whitespace von einer DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.TrimSpace(doi)
}

// firstOrEmpty gibt das erste Element zurück, oder "" bei leerer Liste.
func firstOrEmpty(list []string) string {
	if len(list) > 0 {
		return list[0]
	}
	return ""
}
