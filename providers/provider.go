package providers

import (
	"context"

	"verifai/models"
)

// Source ist das Interface, das jede Verifikationsquelle (z.B. CrossRef, ArXiv)
// implementieren muss.
type Source interface {
	// Lookup sucht Treffer für eine Referenz. Null Treffer sind ein gültiges
	// leeres Ergebnis, kein Fehler; echte Fehler (Netzwerk, Timeout, non-2xx)
	// wrappen models.ErrSourceUnavailable.
	Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "crossref").
	Name() string
}
