// Package api wires together all HTTP routes for the document access service.
//
// Route grouping philosophy:
//   - Reader routes (/access, /verify-code, /logout, the protected document
//     path) are unauthenticated at the routing layer. Their handlers verify
//     the credential the request carries; there is no account login anywhere
//     in the reader flow.
//   - Admin routes (/api/v1/admin/) always require the bearer admin key and
//     answer with the strict API security headers.
//
// The protected document path is registered only as a catch-all (*token) so
// the same handler serves both the bare page fetch (cookie credential) and
// deep links carrying a token in the path.
package api

import (
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/qalampress/bookvault/internal/api/access"
	"github.com/qalampress/bookvault/internal/api/admin"
	"github.com/qalampress/bookvault/internal/api/documents"
	"github.com/qalampress/bookvault/internal/codes"
	"github.com/qalampress/bookvault/internal/config"
	"github.com/qalampress/bookvault/internal/crypto"
	"github.com/qalampress/bookvault/internal/db/repositories"
	"github.com/qalampress/bookvault/internal/mailer"
	"github.com/qalampress/bookvault/internal/middleware"
	"github.com/qalampress/bookvault/internal/storage"
	"github.com/qalampress/bookvault/internal/token"
	"github.com/qalampress/bookvault/internal/watermark"

	// Import storage backends to register them
	_ "github.com/qalampress/bookvault/internal/storage/local"
	_ "github.com/qalampress/bookvault/internal/storage/s3"
)

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible
// for calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests drain first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	storageBackend, err := storage.NewBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Initialize repositories
	codeRepo := repositories.NewAccessCodeRepository(db)
	sqlxDB := sqlx.NewDb(db, "postgres")
	logRepo := repositories.NewAccessLogRepository(sqlxDB)

	// Field cipher for access code display copies; an unusable key disables
	// encryption rather than failing startup.
	fieldCipher := crypto.NewFieldCipher(cfg.Security.EncryptionKey)

	linkIssuer := token.NewIssuer(cfg.Security.SigningSecret, cfg.Access.LinkTTL)
	registry := codes.NewRegistry(codeRepo, fieldCipher, linkIssuer, cfg.Access.SingleUse, cfg.Access.DefaultResource)

	var outboundMail *mailer.Mailer
	if cfg.Notifications.Enabled {
		outboundMail = mailer.New(&cfg.Notifications, cfg.Server.GetPublicURL())
	}

	accessHandlers := access.NewHandler(cfg, registry)
	documentHandlers := documents.NewHandler(cfg, registry, storageBackend, logRepo, watermark.Noop{})
	adminHandlers := admin.NewHandler(cfg, registry, codeRepo, logRepo, outboundMail)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.ReaderSecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// API version
	router.GET("/version", versionHandler())

	// Initialize rate limiters. The general limiter honors configured
	// overrides; the code-entry limiter stays fixed, it is the primary brake
	// on online code guessing.
	generalConfig := middleware.DefaultRateLimitConfig()
	if rl := cfg.Security.RateLimiting; rl.Enabled && rl.RequestsPerMinute > 0 {
		generalConfig.RequestsPerMinute = rl.RequestsPerMinute
		if rl.Burst > 0 {
			generalConfig.BurstSize = rl.Burst
		}
	}
	generalRateLimiter := middleware.NewRateLimiter(generalConfig)
	codeEntryRateLimiter := middleware.NewRateLimiter(middleware.CodeEntryRateLimitConfig())

	// Reader-facing access bridge
	router.GET("/access", middleware.RateLimitMiddleware(generalRateLimiter), accessHandlers.OpenLink)
	router.POST("/verify-code", middleware.RateLimitMiddleware(codeEntryRateLimiter), accessHandlers.VerifyCode)
	router.POST("/logout", accessHandlers.Logout)

	// Protected document path. Registered only as a catch-all: gin routes
	// /book/, /book/<token> and /book/?code=... all through the same handler,
	// and a sibling exact route would conflict with the wildcard.
	router.GET(cfg.Access.ProtectedPath+"/*token",
		middleware.RateLimitMiddleware(generalRateLimiter),
		documentHandlers.Serve)

	// Admin API endpoints
	apiV1 := router.Group("/api/v1")
	adminGroup := apiV1.Group("/admin")
	adminGroup.Use(middleware.AdminAuthMiddleware(cfg.Security.AdminKeyHash))
	adminGroup.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	adminGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
	{
		adminGroup.POST("/codes", adminHandlers.CreateCode)
		adminGroup.GET("/codes", adminHandlers.ListCodes)
		adminGroup.GET("/logs", adminHandlers.ListLogs)
		adminGroup.POST("/send-link", adminHandlers.SendLink)
	}

	background := &BackgroundServices{
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, codeEntryRateLimiter},
	}

	return router, background
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a Kubernetes readiness gate fails when document fetches would error.
func readinessHandler(db *sql.DB, storageBackend storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend with a known-absent sentinel path. Exists()
		// exercises authentication and network connectivity without creating
		// any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQuery(c.Request.URL.Query())

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// redactQuery strips credential material from the logged query string. Access
// links carry the signed token as ?token=, code redemption via the document
// path carries ?code=; neither may ever reach the logs.
func redactQuery(values url.Values) string {
	for _, key := range []string{"token", "code"} {
		if values.Has(key) {
			values.Set(key, "[redacted]")
		}
	}
	return values.Encode()
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the
	// global handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}
