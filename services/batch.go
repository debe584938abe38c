package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"verifai/models"
)

// BatchResult ist das Aggregat eines Batch-Verifikationslaufs.
//
// Zählregel: verified → Verified; not_found, failed und retracted →
// Unverifiable (+ UnverifiableRefs); pending/in_progress zum Zeitpunkt des
// Snapshots → NotVerified. Retracted wird bewusst unter Unverifiable gezählt
// (zusätzlich separat in Retracted ausgewiesen), damit die Summe
// Verified+NotVerified+Unverifiable == Total immer gilt.
type BatchResult struct {
	Total        int `json:"total"`
	Verified     int `json:"verified"`
	NotVerified  int `json:"not_verified"`
	Unverifiable int `json:"unverifiable"`
	Retracted    int `json:"retracted"`
	// Referenzen, die nicht bestätigt werden konnten (not_found, failed,
	// retracted).
	UnverifiableRefs []models.Reference           `json:"unverifiable_refs"`
	PerReference     []*models.VerificationRecord `json:"per_reference"`
}

// Lookup findet das Ergebnis einer Referenz über ihre (title, doi)-Identität.
// Array-Positionen sind nicht stabil, da Aufrufer die Referenzliste zwischen
// Verifikation und Abfrage filtern oder umsortieren dürfen.
func (b *BatchResult) Lookup(ref models.Reference) *models.VerificationRecord {
	for _, record := range b.PerReference {
		if record.Reference.SameIdentity(ref) {
			return record
		}
	}
	return nil
}

// BatchCoordinator fächert die Referenzliste eines Papers auf nebenläufige
// Verifier-Läufe auf, begrenzt durch ein Concurrency-Limit, und aggregiert
// die terminalen Zustände.
type BatchCoordinator struct {
	Verifier *Verifier
	Logger   *zap.Logger
	// Concurrency begrenzt die gleichzeitig laufenden Verifier. Unbegrenztes
	// Fan-out provoziert Throttling auf Seiten der externen Register.
	Concurrency int
	// MaxPerBatch begrenzt optional, wie viele Referenzen eines Batches
	// überhaupt verifiziert werden; 0 = alle. Referenzen jenseits des Limits
	// bleiben pending und zählen als NotVerified.
	MaxPerBatch int
}

// NewBatchCoordinator erstellt einen Koordinator über dem gegebenen Verifier.
func NewBatchCoordinator(verifier *Verifier, concurrency, maxPerBatch int, logger *zap.Logger) *BatchCoordinator {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &BatchCoordinator{
		Verifier:    verifier,
		Logger:      logger,
		Concurrency: concurrency,
		MaxPerBatch: maxPerBatch,
	}
}

// VerifyAll verifiziert alle Referenzen und liefert ein frisches Aggregat.
// Wiederholte Aufrufe für dieselbe Liste zählen nie doppelt: jeder Aufruf
// erzeugt eigene Records. onProgress wird (falls gesetzt) nach jedem
// terminalen Verifier mit der Anzahl abgeschlossener Referenzen aufgerufen.
func (c *BatchCoordinator) VerifyAll(ctx context.Context, refs []models.Reference, onProgress func(done, total int)) *BatchResult {
	records := make([]*models.VerificationRecord, len(refs))

	limit := len(refs)
	if c.MaxPerBatch > 0 && c.MaxPerBatch < limit {
		limit = c.MaxPerBatch
	}
	c.Logger.Info("Starte Batch-Verifikation",
		zap.Int("references", len(refs)),
		zap.Int("limit", limit),
		zap.Int("concurrency", c.Concurrency))

	// Referenzen jenseits des Batch-Limits bleiben pending.
	for i := limit; i < len(refs); i++ {
		records[i] = &models.VerificationRecord{
			Reference: refs[i],
			Status:    models.StatusPending,
			Results:   map[string][]models.SourceMatch{},
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		done      int
		semaphore = make(chan struct{}, c.Concurrency)
	)
	for i := 0; i < limit; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			records[i] = c.Verifier.Verify(ctx, refs[i], nil)

			mu.Lock()
			done++
			if onProgress != nil {
				onProgress(done, limit)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	result := Summarize(records)
	c.Logger.Info("Batch-Verifikation abgeschlossen",
		zap.Int("verified", result.Verified),
		zap.Int("unverifiable", result.Unverifiable),
		zap.Int("retracted", result.Retracted))
	return result
}

// Summarize berechnet das Aggregat über einen (auch unfertigen) Satz von
// Records. Ein konsistenter Snapshot vor Abschluss aller Verifier ist gültig;
// nicht-terminale Records zählen als NotVerified.
func Summarize(records []*models.VerificationRecord) *BatchResult {
	result := &BatchResult{
		Total:            len(records),
		UnverifiableRefs: []models.Reference{},
		PerReference:     records,
	}
	for _, record := range records {
		if record == nil {
			result.NotVerified++
			continue
		}
		switch record.Status {
		case models.StatusVerified:
			result.Verified++
		case models.StatusRetracted:
			result.Retracted++
			result.Unverifiable++
			result.UnverifiableRefs = append(result.UnverifiableRefs, record.Reference)
		case models.StatusNotFound, models.StatusFailed:
			result.Unverifiable++
			result.UnverifiableRefs = append(result.UnverifiableRefs, record.Reference)
		default:
			result.NotVerified++
		}
	}
	return result
}
