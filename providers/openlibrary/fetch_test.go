package openlibrary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verifai/config"
	"verifai/models"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		OpenLibraryBaseURL:   baseURL,
		SourceTimeoutSeconds: 2,
		SourceRatePerSecond:  100,
		UserAgent:            "VerifAI/1.0",
	}
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "9780262033848", NormalizeISBN("978-0-262-03384-8"))
	assert.Equal(t, "9780262033848", NormalizeISBN("  978 0262 033848 "))
	assert.Equal(t, "9780262033848", NormalizeISBN("ISBN:9780262033848"))
	assert.Equal(t, "013468599X", NormalizeISBN("0-13-468599-x"))
}

func TestFetchByISBNMapsBookMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VerifAI/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "/api/books", r.URL.Path)
		assert.Equal(t, "ISBN:9780262033848", r.URL.Query().Get("bibkeys"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "data", r.URL.Query().Get("jscmd"))
		w.Write([]byte(`{"ISBN:9780262033848": {
			"title": "Introduction to Algorithms",
			"publish_date": "2009",
			"authors": [{"name": "Thomas H. Cormen"}, {"name": "Charles E. Leiserson"}],
			"publishers": [{"name": "MIT Press"}]
		}}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(testConfig(server.URL), zap.NewNop())
	book, err := fetcher.FetchByISBN(context.Background(), "978-0-262-03384-8")
	require.NoError(t, err)

	assert.Equal(t, "9780262033848", book.ISBN)
	assert.Equal(t, "Introduction to Algorithms", book.Title)
	assert.Equal(t, []string{"Thomas H. Cormen", "Charles E. Leiserson"}, book.Authors)
	assert.Equal(t, "2009", book.PublishDate)
	assert.Equal(t, "MIT Press", book.Publisher)
}

func TestFetchByISBNUnknownIsNotFound(t *testing.T) {
	// Eine unbekannte ISBN beantwortet die API mit einer leeren Map.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(testConfig(server.URL), zap.NewNop())
	_, err := fetcher.FetchByISBN(context.Background(), "9999999999999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFetchByISBNServerErrorIsSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(testConfig(server.URL), zap.NewNop())
	_, err := fetcher.FetchByISBN(context.Background(), "9780262033848")
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}
