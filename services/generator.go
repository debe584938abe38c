package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"verifai/models"
)

const citationSystemPrompt = "You are a citation assistant. Produce exactly one " +
	"IEEE-style citation for the given work metadata. Return only the citation " +
	"line, no explanation."

const answerSystemPrompt = "You are a research assistant. Answer the question " +
	"using only the provided document text. If the document does not contain " +
	"the answer, say so."

// CitationGenerator erzeugt formatierte Zitationen und beantwortet Fragen zu
// Dokumenttexten über Gemini. Ohne API-Key bleibt der Generator deaktiviert
// und beide Operationen melden ErrSourceUnavailable.
type CitationGenerator struct {
	client    *genai.Client
	modelName string
	Logger    *zap.Logger

	MaxTokens   int32
	Temperature float32
}

// NewCitationGenerator erstellt einen CitationGenerator. Ein leerer apiKey
// liefert einen deaktivierten Generator ohne Fehler.
func NewCitationGenerator(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*CitationGenerator, error) {
	if apiKey == "" {
		logger.Warn("Kein Gemini-API-Key konfiguriert, Zitationsgenerierung deaktiviert.")
		return &CitationGenerator{Logger: logger}, nil
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &CitationGenerator{
		client:      cl,
		modelName:   modelName,
		Logger:      logger,
		MaxTokens:   256,
		Temperature: 0.2,
	}, nil
}

// Enabled meldet, ob der Generator einsatzbereit ist.
func (g *CitationGenerator) Enabled() bool {
	return g.client != nil
}

// Close gibt die Gemini-Verbindung frei.
func (g *CitationGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// GenerateCitation formatiert die Paper-Metadaten als IEEE-Zitation.
func (g *CitationGenerator) GenerateCitation(ctx context.Context, paper models.Paper) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("%w: citation generator disabled", models.ErrSourceUnavailable)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", paper.Title)
	fmt.Fprintf(&b, "Authors: %s\n", strings.Join(paper.Authors, "; "))
	if paper.Year != "" {
		fmt.Fprintf(&b, "Year: %s\n", paper.Year)
	}
	if paper.DOI != "" {
		fmt.Fprintf(&b, "DOI: %s\n", paper.DOI)
	}

	citation, err := g.generate(ctx, citationSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(citation), nil
}

// GenerateBookCitation formatiert Buch-Metadaten (ISBN-Auflösung) als
// IEEE-Zitation.
func (g *CitationGenerator) GenerateBookCitation(ctx context.Context, book models.Book) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("%w: citation generator disabled", models.ErrSourceUnavailable)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", book.Title)
	fmt.Fprintf(&b, "Authors: %s\n", strings.Join(book.Authors, "; "))
	if book.Publisher != "" {
		fmt.Fprintf(&b, "Publisher: %s\n", book.Publisher)
	}
	if book.PublishDate != "" {
		fmt.Fprintf(&b, "Published: %s\n", book.PublishDate)
	}
	if book.ISBN != "" {
		fmt.Fprintf(&b, "ISBN: %s\n", book.ISBN)
	}

	citation, err := g.generate(ctx, citationSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(citation), nil
}

// Answer beantwortet eine Frage anhand des extrahierten Dokumenttexts.
func (g *CitationGenerator) Answer(ctx context.Context, documentText, question string) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("%w: citation generator disabled", models.ErrSourceUnavailable)
	}

	prompt := fmt.Sprintf("Document:\n%s\n\nQuestion: %s", documentText, question)
	answer, err := g.generate(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (g *CitationGenerator) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	if g.MaxTokens > 0 {
		m.SetMaxOutputTokens(g.MaxTokens)
	}
	m.SetTemperature(g.Temperature)

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", models.ErrSourceUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
