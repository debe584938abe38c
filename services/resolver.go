package services

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verifai/models"
	"verifai/providers"
	"verifai/providers/crossref"
	"verifai/providers/semanticscholar"
)

// PaperResolver löst eine DOI parallel über CrossRef und Semantic Scholar
// auf und verschmilzt die Metadaten zu einem möglichst vollständigen Paper.
// CrossRef ist die Pflichtquelle (liefert die Referenzliste); Semantic
// Scholar ergänzt nur, ein Ausfall dort bricht die Auflösung nicht ab.
type PaperResolver struct {
	CrossRef   *crossref.Fetcher
	Semantic   *semanticscholar.Fetcher
	Retraction providers.Source
	Logger     *zap.Logger
}

// NewPaperResolver erstellt einen PaperResolver. Semantic und Retraction
// dürfen nil sein, dann entfällt der jeweilige Schritt.
func NewPaperResolver(cr *crossref.Fetcher, ss *semanticscholar.Fetcher, retraction providers.Source, logger *zap.Logger) *PaperResolver {
	return &PaperResolver{
		CrossRef:   cr,
		Semantic:   ss,
		Retraction: retraction,
		Logger:     logger,
	}
}

// Resolve holt die Metadaten beider Registries parallel ab und führt sie
// zusammen. Anschließend wird das Paper selbst gegen die Retraction-Quelle
// geprüft.
func (r *PaperResolver) Resolve(ctx context.Context, doi string) (*models.Paper, error) {
	doi = crossref.NormalizeDOI(doi)
	log := r.Logger.With(zap.String("doi", doi))

	var (
		paper    *models.Paper
		semPaper *semanticscholar.PaperResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.CrossRef.FetchPaper(gctx, doi)
		if err != nil {
			return err
		}
		paper = p
		return nil
	})
	if r.Semantic != nil {
		g.Go(func() error {
			sp, err := r.Semantic.FetchByDOI(gctx, doi)
			if err != nil {
				// Semantic Scholar ist nur Anreicherung.
				log.Warn("Semantic-Scholar-Abruf fehlgeschlagen", zap.Error(err))
				return nil
			}
			semPaper = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if semPaper != nil {
		mergeSemanticScholar(paper, semPaper)
	}

	if r.Retraction != nil {
		matches, err := r.Retraction.Lookup(ctx, models.Reference{Title: paper.Title, DOI: paper.DOI})
		if err != nil {
			log.Warn("Retraction-Prüfung fehlgeschlagen", zap.Error(err))
		} else if len(matches) > 0 {
			paper.IsRetracted = true
			paper.RetractionInfo = matches
			log.Warn("Paper ist als zurückgezogen markiert", zap.Int("notices", len(matches)))
		}
	}

	log.Info("Paper aufgelöst",
		zap.String("title", paper.Title),
		zap.Int("references", len(paper.References)),
		zap.Bool("retracted", paper.IsRetracted))
	return paper, nil
}

// mergeSemanticScholar ergänzt CrossRef-Metadaten um Semantic-Scholar-Felder:
// der längere Titel gewinnt, die vollständigere Autorenliste gewinnt,
// fehlendes Abstract und fehlendes Jahr werden aufgefüllt.
func mergeSemanticScholar(paper *models.Paper, sp *semanticscholar.PaperResult) {
	if len(sp.Title) > len(paper.Title) {
		paper.Title = sp.Title
	}
	if len(sp.Authors) >= len(paper.Authors) && len(sp.Authors) > 0 {
		authors := make([]string, 0, len(sp.Authors))
		for _, a := range sp.Authors {
			authors = append(authors, a.Name)
		}
		paper.Authors = authors
	}
	if paper.Abstract == "" {
		paper.Abstract = sp.Abstract
	}
	if paper.Year == "" && sp.Year > 0 {
		paper.Year = strconv.Itoa(sp.Year)
	}
}

// IsNotFound meldet, ob ein Resolver-Fehler eine unbekannte DOI bedeutet.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
