package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"verifai/models"
	"verifai/providers"
)

// RetractionSourceName ist das Label der Quelle, deren Treffer eine Referenz
// als retracted klassifizieren.
const RetractionSourceName = "retracted"

// Verifier treibt genau eine Referenz durch den Verifikationsautomaten:
// pending → in_progress → {verified, not_found, failed, retracted}.
type Verifier struct {
	Sources []providers.Source
	Logger  *zap.Logger
	// Timeout für einen einzelnen Quellen-Lookup. Ein Timeout zählt als
	// SourceUnavailable nur für diese Quelle und bricht keine Geschwister ab.
	Timeout time.Duration
}

// NewVerifier erstellt einen Verifier über den gegebenen Quellen.
func NewVerifier(sources []providers.Source, timeout time.Duration, logger *zap.Logger) *Verifier {
	return &Verifier{Sources: sources, Timeout: timeout, Logger: logger}
}

// Verify führt alle konfigurierten Quellen-Lookups für die Referenz aus und
// liefert den terminalen VerificationRecord. onChange wird (falls gesetzt)
// nach jedem Zustandsübergang und jedem eingetroffenen Quellenergebnis mit
// einem konsistenten Snapshot aufgerufen, sodass Aufrufer Teilergebnisse
// rendern können. Die Callbacks laufen serialisiert, aber nie unter dem
// internen Daten-Lock; ein panickender Callback endet in failed statt in
// einer Blockade.
func (v *Verifier) Verify(ctx context.Context, ref models.Reference, onChange func(models.VerificationRecord)) (record *models.VerificationRecord) {
	record = &models.VerificationRecord{
		Reference: ref,
		Status:    models.StatusPending,
		Results:   make(map[string][]models.SourceMatch, len(v.Sources)),
	}

	log := v.Logger.With(zap.String("reference", ref.DisplayTitle()))

	var (
		mu     sync.Mutex
		cbMu   sync.Mutex
		cbDead bool
	)
	notify := func() {
		if onChange == nil {
			return
		}
		// Snapshot unter dem Daten-Lock kopieren, damit der Callback nie
		// eine halb aktualisierte Map sieht. Der Aufruf selbst passiert
		// nach der Freigabe, serialisiert über cbMu.
		mu.Lock()
		snap := models.VerificationRecord{
			Reference: record.Reference,
			Status:    record.Status,
			Results:   make(map[string][]models.SourceMatch, len(record.Results)),
		}
		for name, matches := range record.Results {
			snap.Results[name] = matches
		}
		mu.Unlock()

		cbMu.Lock()
		defer cbMu.Unlock()
		if cbDead {
			return
		}
		// Ein panickender Callback wird hier eingefangen, damit er keine
		// Lookup-Goroutine mitreißt; der Automat endet dann in failed.
		func() {
			defer func() {
				if r := recover(); r != nil {
					cbDead = true
					log.Error("Status-Callback mit internem Fehler abgebrochen", zap.Any("panic", r))
				}
			}()
			onChange(snap)
		}()
	}

	// Unerwartete interne Fehler landen direkt in failed. Hier hält
	// niemand mehr einen Lock.
	defer func() {
		if r := recover(); r != nil {
			log.Error("Verifikation mit internem Fehler abgebrochen", zap.Any("panic", r))
			mu.Lock()
			record.Status = models.StatusFailed
			mu.Unlock()
			notify()
		}
	}()

	mu.Lock()
	record.Status = models.StatusInProgress
	mu.Unlock()
	notify()

	var (
		wg       sync.WaitGroup
		errCount int
	)
	for _, source := range v.Sources {
		wg.Add(1)
		go func(source providers.Source) {
			defer wg.Done()

			lookupCtx := ctx
			if v.Timeout > 0 {
				var cancel context.CancelFunc
				lookupCtx, cancel = context.WithTimeout(ctx, v.Timeout)
				defer cancel()
			}

			matches, err := lookupGuarded(lookupCtx, source, ref)
			mu.Lock()
			if err != nil {
				log.Warn("Quellen-Lookup fehlgeschlagen",
					zap.String("source", source.Name()), zap.Error(err))
				errCount++
				record.Results[source.Name()] = []models.SourceMatch{}
			} else {
				record.Results[source.Name()] = matches
			}
			mu.Unlock()
			notify()
		}(source)
	}
	wg.Wait()

	mu.Lock()
	record.Status = v.resolve(record, errCount)
	mu.Unlock()
	notify()

	cbMu.Lock()
	dead := cbDead
	cbMu.Unlock()
	if dead {
		mu.Lock()
		record.Status = models.StatusFailed
		mu.Unlock()
	}

	log.Info("Verifikation abgeschlossen",
		zap.String("status", string(record.Status)),
		zap.Int("source_errors", errCount))
	return record
}

// lookupGuarded kapselt einen einzelnen Quellen-Lookup. Eine panickende
// Quelle zählt als fehlgeschlagener Lookup und reißt weder die
// Geschwister-Goroutinen noch den Aufrufer mit.
func lookupGuarded(ctx context.Context, source providers.Source, ref models.Reference) (matches []models.SourceMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("%w: internal error in source %s: %v", models.ErrSourceUnavailable, source.Name(), r)
		}
	}()
	return source.Lookup(ctx, ref)
}

// resolve wendet die terminale Entscheidungsregel an, sobald alle Lookups
// abgeschlossen oder ausgelaufen sind. Retraction hat Vorrang vor jedem
// anderen positiven Treffer.
func (v *Verifier) resolve(record *models.VerificationRecord, errCount int) models.VerificationStatus {
	if len(record.Results[RetractionSourceName]) > 0 {
		return models.StatusRetracted
	}
	for name, matches := range record.Results {
		if name != RetractionSourceName && len(matches) > 0 {
			return models.StatusVerified
		}
	}
	if errCount == 0 {
		return models.StatusNotFound
	}
	return models.StatusFailed
}
