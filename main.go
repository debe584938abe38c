package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"verifai/config"
	"verifai/models"
	"verifai/providers"
	"verifai/providers/arxiv"
	"verifai/providers/crossref"
	"verifai/providers/openlibrary"
	"verifai/providers/retractionwatch"
	"verifai/providers/semanticscholar"
	"verifai/services"
	"verifai/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	verificationsCounter      *prometheus.CounterVec
	citationsSavedCounter     prometheus.Counter
	retractedCitationsCounter prometheus.Counter
)

func init() {
	verificationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_verifications_total",
			Help: "Total number of reference verifications by terminal status.",
		},
		[]string{"status"},
	)
	citationsSavedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citations_saved_total",
			Help: "Total number of citations saved to the database.",
		},
	)
	retractedCitationsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "retracted_citations_found_total",
			Help: "Total number of saved citations flagged as retracted by the nightly audit.",
		},
	)
	prometheus.MustRegister(verificationsCounter, citationsSavedCounter, retractedCitationsCounter)
}

// jwtAuthMiddleware prüft das Bearer-Token und legt die user_id aus den
// Claims in den Request-Kontext.
func jwtAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID, _ := claims["user_id"].(string)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no user_id"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// abortWithError bildet die Fehlerklassen der Services auf HTTP-Status ab.
func abortWithError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrSourceUnavailable):
		log.Warn("Upstream source unavailable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification source unavailable"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.ChatSession{}, &models.Message{}, &models.Citation{})

	// Setup Verification Sources
	crossrefFetcher := crossref.NewFetcher(cfg, logging)
	arxivFetcher := arxiv.NewFetcher(cfg, logging)
	semanticFetcher := semanticscholar.NewFetcher(cfg, logging)
	retractionFetcher := retractionwatch.NewFetcher(cfg, logging)
	openlibraryFetcher := openlibrary.NewFetcher(cfg, logging)

	enabledSourceNames := strings.Split(cfg.EnabledSources, ",")
	var enabledSources []providers.Source
	for _, name := range enabledSourceNames {
		switch strings.TrimSpace(name) {
		case "crossref":
			enabledSources = append(enabledSources, crossrefFetcher)
		case "arxiv":
			enabledSources = append(enabledSources, arxivFetcher)
		case "semantic_scholar":
			enabledSources = append(enabledSources, semanticFetcher)
		case "retracted":
			enabledSources = append(enabledSources, retractionFetcher)
		default:
			logging.Warn("Unknown source in config", zap.String("source_name", name))
		}
	}
	if len(enabledSources) == 0 {
		logging.Fatal("No valid sources enabled. Check ENABLED_SOURCES in .env")
	}
	logging.Info("Active verification sources loaded", zap.Strings("sources", enabledSourceNames))

	// Setup Services
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	verifier := services.NewVerifier(enabledSources, cfg.SourceTimeout(), logging)
	coordinator := services.NewBatchCoordinator(verifier, cfg.VerifyConcurrency, cfg.VerifyMaxPerBatch, logging)
	resolver := services.NewPaperResolver(crossrefFetcher, semanticFetcher, retractionFetcher, logging)
	extractor := services.NewDocumentExtractor(logging)
	store := services.NewSessionStore(db, logging)

	generator, err := services.NewCitationGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logging)
	if err != nil {
		logging.Fatal("Citation generator creation failed", zap.Error(err))
	}
	defer generator.Close()
	generator.MaxTokens = int32(cfg.GenMaxTokens)
	generator.Temperature = float32(cfg.GenTemperature)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Setup Routes
	setupVerifyRoutes(router, verifier, coordinator, logging)
	setupPaperRoutes(router, resolver, openlibraryFetcher, generator, logging)
	setupDocumentRoutes(router, extractor, s3Client, cfg, logging)
	setupCitationGenRoutes(router, openlibraryFetcher, generator, logging)
	setupSessionRoutes(router, store, cfg, logging)

	// Setup Cron: nächtlicher Retraction-Audit über alle gespeicherten Citations
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled retraction audit...")
		count, err := runRetractionAudit(context.Background(), store, retractionFetcher, logging)
		if err != nil {
			logging.Error("Retraction audit failed", zap.Error(err))
		} else {
			logging.Info("Retraction audit completed", zap.Int("retracted_found", count))
			retractedCitationsCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupVerifyRoutes(router *gin.Engine, verifier *services.Verifier, coordinator *services.BatchCoordinator, log *zap.Logger) {
	// Verifiziert eine einzelne Referenz gegen alle aktiven Quellen.
	router.POST("/api/verify-reference", func(c *gin.Context) {
		var ref models.Reference
		if err := c.ShouldBindJSON(&ref); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if ref.Title == "" && ref.DOI == "" && ref.Unstructured == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference needs at least a title, doi or unstructured text"})
			return
		}

		record := verifier.Verify(c.Request.Context(), ref, nil)
		verificationsCounter.WithLabelValues(string(record.Status)).Inc()
		c.JSON(http.StatusOK, record)
	})

	// Verifiziert eine Referenzliste gebündelt und liefert das Aggregat.
	router.POST("/api/verify-batch", func(c *gin.Context) {
		var req struct {
			References []models.Reference `json:"references"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.References) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "references must not be empty"})
			return
		}

		result := coordinator.VerifyAll(c.Request.Context(), req.References, nil)
		for _, record := range result.PerReference {
			if record != nil && record.Status.Terminal() {
				verificationsCounter.WithLabelValues(string(record.Status)).Inc()
			}
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupPaperRoutes(router *gin.Engine, resolver *services.PaperResolver, books *openlibrary.Fetcher, generator *services.CitationGenerator, log *zap.Logger) {
	// Löst eine DOI zu vollständigen Paper-Metadaten samt Referenzliste auf.
	router.POST("/api/analyze-paper", func(c *gin.Context) {
		var req struct {
			DOI              string `json:"doi"`
			GenerateCitation bool   `json:"generate_citation"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.DOI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "doi is required"})
			return
		}

		paper, err := resolver.Resolve(c.Request.Context(), req.DOI)
		if err != nil {
			abortWithError(c, log, err)
			return
		}

		if req.GenerateCitation && generator.Enabled() {
			citation, err := generator.GenerateCitation(c.Request.Context(), *paper)
			if err != nil {
				log.Warn("Citation generation failed", zap.Error(err))
			} else {
				paper.Citation = citation
			}
		}
		c.JSON(http.StatusOK, paper)
	})

	// Löst eine ISBN zu Buch-Metadaten auf (Monographien haben keine DOI).
	router.POST("/api/analyze-book", func(c *gin.Context) {
		var req struct {
			ISBN             string `json:"isbn"`
			GenerateCitation bool   `json:"generate_citation"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.ISBN == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "isbn is required"})
			return
		}

		book, err := books.FetchByISBN(c.Request.Context(), req.ISBN)
		if err != nil {
			abortWithError(c, log, err)
			return
		}

		if req.GenerateCitation && generator.Enabled() {
			citation, err := generator.GenerateBookCitation(c.Request.Context(), *book)
			if err != nil {
				log.Warn("Citation generation failed", zap.Error(err))
			} else {
				book.Citation = citation
			}
		}
		c.JSON(http.StatusOK, book)
	})
}

func setupDocumentRoutes(router *gin.Engine, extractor *services.DocumentExtractor, s3Client *s3.Client, cfg *config.Config, log *zap.Logger) {
	// Nimmt ein PDF entgegen, extrahiert Text und Referenzliste und legt das
	// Original im S3 ab.
	router.POST("/api/upload-document", func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".pdf" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF documents are supported"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			abortWithError(c, log, err)
			return
		}

		doc, err := extractor.Extract(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			log.Warn("Document extraction failed",
				zap.String("filename", fileHeader.Filename),
				zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "document could not be parsed"})
			return
		}

		key := uuid.New().String() + ".pdf"
		link, err := storage.UploadDocument(c.Request.Context(), s3Client, cfg.DocsS3Bucket, key, data, cfg)
		if err != nil {
			log.Error("Document upload to S3 failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "document storage unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document": doc,
			"link":     link,
		})
	})
}

func setupCitationGenRoutes(router *gin.Engine, books *openlibrary.Fetcher, generator *services.CitationGenerator, log *zap.Logger) {
	// Formatiert Metadaten als IEEE-Zitation. Mit einer ISBN statt eines
	// Titels werden die Buch-Metadaten vorher über Open Library aufgelöst.
	router.POST("/api/generate-citation", func(c *gin.Context) {
		var req struct {
			Title   string   `json:"title"`
			Authors []string `json:"authors"`
			Year    string   `json:"year"`
			DOI     string   `json:"doi"`
			ISBN    string   `json:"isbn"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || (req.Title == "" && req.ISBN == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title or isbn is required"})
			return
		}

		if req.Title == "" {
			book, err := books.FetchByISBN(c.Request.Context(), req.ISBN)
			if err != nil {
				abortWithError(c, log, err)
				return
			}
			citation, err := generator.GenerateBookCitation(c.Request.Context(), *book)
			if err != nil {
				abortWithError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"citation": citation, "book": book})
			return
		}

		citation, err := generator.GenerateCitation(c.Request.Context(), models.Paper{
			Title:   req.Title,
			Authors: req.Authors,
			Year:    req.Year,
			DOI:     req.DOI,
		})
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"citation": citation})
	})

	// Beantwortet eine Frage zu einem bereits extrahierten Dokumenttext.
	router.POST("/api/ask-document", func(c *gin.Context) {
		var req struct {
			Text     string `json:"text"`
			Question string `json:"question"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" || req.Question == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text and question are required"})
			return
		}

		answer, err := generator.Answer(c.Request.Context(), req.Text, req.Question)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	})
}

func setupSessionRoutes(router *gin.Engine, store *services.SessionStore, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/api/sessions")
	rg.Use(jwtAuthMiddleware(cfg))

	rg.GET("", func(c *gin.Context) {
		sessions, err := store.ListSessions(currentUserID(c))
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, sessions)
	})

	rg.POST("", func(c *gin.Context) {
		var req struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		session, err := store.CreateSession(currentUserID(c), req.Title)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	})

	// Liefert die aktive Session und legt implizit die allererste an.
	rg.GET("/current", func(c *gin.Context) {
		session, err := store.EnsureSession(currentUserID(c))
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, session)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		var req struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := store.RenameSession(currentUserID(c), sessionID, req.Title); err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "renamed"})
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		next, err := store.DeleteSession(currentUserID(c), sessionID)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"next_active": next})
	})

	rg.GET("/:id/messages", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		msgs, err := store.ListMessages(currentUserID(c), sessionID)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	})

	rg.POST("/:id/messages", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		var req struct {
			Type string          `json:"type"`
			Text json.RawMessage `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Text) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
			return
		}
		if req.Type == "" {
			req.Type = models.MessageTypeUser
		}

		msg, err := store.AppendMessage(currentUserID(c), sessionID, services.IncomingMessage{
			Type:    req.Type,
			Content: services.ContentFromJSON(req.Text),
		})
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	})

	rg.GET("/:id/citations", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		citations, err := store.ListCitations(currentUserID(c), sessionID)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, citations)
	})

	rg.POST("/:id/citations", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		var req struct {
			Title          string               `json:"title"`
			Authors        []string             `json:"authors"`
			Year           *int                 `json:"year"`
			DOI            string               `json:"doi"`
			ResearchField  string               `json:"research_field"`
			IsRetracted    bool                 `json:"is_retracted"`
			RetractionInfo []models.SourceMatch `json:"retraction_info"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}

		citation := models.Citation{
			Title:         req.Title,
			Year:          req.Year,
			DOI:           req.DOI,
			ResearchField: req.ResearchField,
			IsRetracted:   req.IsRetracted,
		}
		if len(req.Authors) > 0 {
			if b, err := json.Marshal(req.Authors); err == nil {
				citation.Authors = datatypes.JSON(b)
			}
		}
		if len(req.RetractionInfo) > 0 {
			if b, err := json.Marshal(req.RetractionInfo); err == nil {
				citation.RetractionInfo = datatypes.JSON(b)
			}
		}

		saved, err := store.SaveCitation(currentUserID(c), sessionID, citation)
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		citationsSavedCounter.Inc()
		c.JSON(http.StatusCreated, saved)
	})

	rg.DELETE("/:id/citations/:citationId", func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		citationID, err := uuid.Parse(c.Param("citationId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid citation id"})
			return
		}
		if err := store.DeleteCitation(currentUserID(c), sessionID, citationID); err != nil {
			abortWithError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})

	// Push-Subscription: Listenänderungen der eigenen Sessions als SSE-Strom.
	rg.GET("/events", func(c *gin.Context) {
		events, cancel := store.Subscribe(currentUserID(c))
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case event, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent("session", event)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})
}

// runRetractionAudit prüft alle gespeicherten Citations erneut gegen die
// Retraction-Quelle. Citations bleiben unverändert; der Audit meldet nur.
func runRetractionAudit(ctx context.Context, store *services.SessionStore, retraction providers.Source, log *zap.Logger) (int, error) {
	citations, err := store.CitationsForAudit()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, citation := range citations {
		if citation.IsRetracted {
			continue
		}
		matches, err := retraction.Lookup(ctx, models.Reference{Title: citation.Title, DOI: citation.DOI})
		if err != nil {
			log.Warn("Audit lookup failed",
				zap.String("citation_id", citation.ID.String()),
				zap.Error(err))
			continue
		}
		if len(matches) > 0 {
			count++
			log.Warn("Saved citation appears to be retracted",
				zap.String("citation_id", citation.ID.String()),
				zap.String("title", citation.Title),
				zap.Int("notices", len(matches)))
		}
	}
	return count, nil
}
