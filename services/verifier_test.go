package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verifai/models"
	"verifai/providers"
)

// stubSource ist eine Verifikationsquelle mit festem Verhalten.
type stubSource struct {
	name    string
	matches []models.SourceMatch
	err     error
	delay   time.Duration
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, ctx.Err())
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

func matchFor(title string) []models.SourceMatch {
	return []models.SourceMatch{{Title: title, DOI: "10.1000/x"}}
}

func newTestVerifier(sources ...providers.Source) *Verifier {
	return NewVerifier(sources, time.Second, zap.NewNop())
}

func TestVerifyAnyMatchMeansVerified(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", matches: matchFor("Attention Is All You Need")},
		&stubSource{name: "arxiv"},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Attention Is All You Need"}, nil)
	assert.Equal(t, models.StatusVerified, record.Status)
	assert.Len(t, record.Results["crossref"], 1)
	assert.Empty(t, record.Results["arxiv"])
}

func TestVerifyRetractionBeatsOtherMatches(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", matches: matchFor("Fraudulent Study")},
		&stubSource{name: RetractionSourceName, matches: matchFor("Retraction: Fraudulent Study")},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Fraudulent Study"}, nil)
	assert.Equal(t, models.StatusRetracted, record.Status)
}

func TestVerifyAllZeroMatchesMeansNotFound(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref"},
		&stubSource{name: "arxiv"},
		&stubSource{name: "semantic_scholar"},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Nicht existent"}, nil)
	assert.Equal(t, models.StatusNotFound, record.Status)
}

func TestVerifyErrorWithoutMatchMeansFailed(t *testing.T) {
	// Eine Quelle leer, eine nicht erreichbar: nicht von not_found
	// unterscheidbar wäre falsch, also failed.
	verifier := newTestVerifier(
		&stubSource{name: "crossref"},
		&stubSource{name: "arxiv", err: errors.New("connection refused")},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Irgendwas"}, nil)
	assert.Equal(t, models.StatusFailed, record.Status)
}

func TestVerifyErrorPlusMatchStillVerified(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", matches: matchFor("Gefunden")},
		&stubSource{name: "arxiv", err: errors.New("503")},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Gefunden"}, nil)
	assert.Equal(t, models.StatusVerified, record.Status)
}

func TestVerifyAllSourcesDownMeansFailed(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", err: models.ErrSourceUnavailable},
		&stubSource{name: "arxiv", err: models.ErrSourceUnavailable},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Egal"}, nil)
	assert.Equal(t, models.StatusFailed, record.Status)
}

func TestVerifySlowSourceTimesOutLocally(t *testing.T) {
	verifier := NewVerifier([]providers.Source{
		&stubSource{name: "crossref", matches: matchFor("Schnell")},
		&stubSource{name: "arxiv", delay: 5 * time.Second},
	}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	record := verifier.Verify(context.Background(), models.Reference{Title: "Schnell"}, nil)

	// Das Timeout gilt pro Quelle und reißt die Geschwister nicht mit.
	assert.Equal(t, models.StatusVerified, record.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestVerifyEmitsStateTransitions(t *testing.T) {
	verifier := newTestVerifier(&stubSource{name: "crossref", matches: matchFor("X")})

	var (
		mu       sync.Mutex
		statuses []models.VerificationStatus
	)
	record := verifier.Verify(context.Background(), models.Reference{Title: "X"}, func(snap models.VerificationRecord) {
		mu.Lock()
		statuses = append(statuses, snap.Status)
		mu.Unlock()
	})

	require.Equal(t, models.StatusVerified, record.Status)
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.StatusInProgress, statuses[0])
	assert.Equal(t, models.StatusVerified, statuses[len(statuses)-1])
	// Kein Callback darf einen Rückfall hinter in_progress zeigen.
	for _, st := range statuses {
		assert.NotEqual(t, models.StatusPending, st)
	}
}

func TestVerifySnapshotsAreIsolated(t *testing.T) {
	verifier := newTestVerifier(&stubSource{name: "crossref", matches: matchFor("X")})

	record := verifier.Verify(context.Background(), models.Reference{Title: "X"}, func(snap models.VerificationRecord) {
		// Mutation des Snapshots darf den Record nicht beeinflussen.
		snap.Results["crossref"] = nil
	})

	assert.Len(t, record.Results["crossref"], 1)
}

// panickingSource simuliert eine Quelle mit internem Programmierfehler.
type panickingSource struct{ name string }

func (s *panickingSource) Name() string { return s.name }

func (s *panickingSource) Lookup(ctx context.Context, ref models.Reference) ([]models.SourceMatch, error) {
	panic("nil map write")
}

func TestVerifyPanickingCallbackEndsFailed(t *testing.T) {
	verifier := newTestVerifier(&stubSource{name: "crossref", matches: matchFor("X")})

	done := make(chan *models.VerificationRecord, 1)
	go func() {
		done <- verifier.Verify(context.Background(), models.Reference{Title: "X"}, func(snap models.VerificationRecord) {
			panic("broken consumer")
		})
	}()

	select {
	case record := <-done:
		// Der Automat muss terminieren, nicht blockieren, und der interne
		// Fehler darf nicht als verified durchgehen.
		assert.Equal(t, models.StatusFailed, record.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Verify returned no result after a panicking callback")
	}
}

func TestVerifyPanickingSourceCountsAsFailedLookup(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref"},
		&panickingSource{name: "arxiv"},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "X"}, nil)
	assert.Equal(t, models.StatusFailed, record.Status)
	entry, ok := record.Results["arxiv"]
	require.True(t, ok, "panicking source must still appear in results")
	assert.Empty(t, entry)
}

func TestVerifyPanickingSourceDoesNotMaskMatches(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", matches: matchFor("Gefunden")},
		&panickingSource{name: "arxiv"},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "Gefunden"}, nil)
	assert.Equal(t, models.StatusVerified, record.Status)
}

func TestResolveErroredSourceGetsEmptyResultsEntry(t *testing.T) {
	verifier := newTestVerifier(
		&stubSource{name: "crossref", err: errors.New("down")},
	)

	record := verifier.Verify(context.Background(), models.Reference{Title: "X"}, nil)
	entry, ok := record.Results["crossref"]
	require.True(t, ok, "errored source must still appear in results")
	assert.Empty(t, entry)
}
