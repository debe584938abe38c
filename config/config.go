package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"3002"`

	// Auth: mit diesem Secret signierte Bearer-Tokens tragen die user_id.
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Verifikationsquellen
	CrossRefBaseURL        string `envconfig:"CROSSREF_BASE_URL" default:"https://api.crossref.org"`
	CrossRefMailTo         string `envconfig:"CROSSREF_MAILTO"`
	ArxivBaseURL           string `envconfig:"ARXIV_BASE_URL" default:"http://export.arxiv.org/api/query"`
	SemanticScholarBaseURL string `envconfig:"SEMANTIC_SCHOLAR_BASE_URL" default:"https://api.semanticscholar.org/graph/v1"`
	SemanticScholarAPIKey  string `envconfig:"SEMANTIC_SCHOLAR_API_KEY"`
	OpenLibraryBaseURL     string `envconfig:"OPENLIBRARY_BASE_URL" default:"https://openlibrary.org"`

	SourceTimeoutSeconds int     `envconfig:"SOURCE_TIMEOUT_SECONDS" default:"15"`
	SourceMaxResults     int     `envconfig:"SOURCE_MAX_RESULTS" default:"5"`
	SourceRatePerSecond  float64 `envconfig:"SOURCE_RATE_PER_SECOND" default:"3"`
	UserAgent            string  `envconfig:"USER_AGENT" default:"VerifAI/1.0"`

	// Batch-Verifikation
	VerifyConcurrency int `envconfig:"VERIFY_CONCURRENCY" default:"5"`
	// 0 = gesamte Referenzliste verifizieren
	VerifyMaxPerBatch int `envconfig:"VERIFY_MAX_PER_BATCH" default:"0"`

	// Textgenerierung (Zitate, Antworten)
	GeminiAPIKey   string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string  `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GenMaxTokens   int     `envconfig:"GEN_MAX_TOKENS" default:"256"`
	GenTemperature float64 `envconfig:"GEN_TEMPERATURE" default:"0.2"`

	// Nächtlicher Retraction-Audit über alle gespeicherten Citations
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// S3-Ablage für hochgeladene Dokumente
	DocsS3Key    string `envconfig:"DOCS_S3_KEY" required:"true"`
	DocsS3Secret string `envconfig:"DOCS_S3_SECRET" required:"true"`
	DocsS3URL    string `envconfig:"DOCS_S3_URL" required:"true"`
	DocsS3Region string `envconfig:"DOCS_S3_REGION" required:"true"`
	DocsS3Bucket string `envconfig:"DOCS_S3_BUCKET" required:"true"`

	// Quellen-Konfiguration
	EnabledSources string `envconfig:"ENABLED_SOURCES" default:"crossref,arxiv,semantic_scholar,retracted"`
}

// SourceTimeout gibt das Timeout für einen einzelnen Quellen-Lookup zurück.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
