package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/owlette/server/internal/auth"
	"github.com/owlette/server/internal/config"
	"github.com/owlette/server/internal/db"
	httphandler "github.com/owlette/server/internal/http"
	"github.com/owlette/server/internal/http/handlers"
	"github.com/owlette/server/internal/mfa"
	"github.com/owlette/server/internal/middleware"
	"github.com/owlette/server/internal/repo"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
)

const mfaIssuerName = "Owlette"

func main() {
	// Load .env from CWD so it works in local development (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration; everything credential-shaped fails fast here
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	siteRepo := repo.NewSiteRepo(database)
	regCodeRepo := repo.NewRegCodeRepo(database)
	refreshRepo := repo.NewRefreshTokenRepo(database)
	mfaSetupRepo := repo.NewMfaSetupRepo(database)

	// Initialize services
	issuer := auth.NewTokenIssuer(cfg.TokenSigningSecret)
	sessions := auth.NewSessionService(cfg.SessionSecret)
	registrationService := auth.NewRegistrationService(regCodeRepo, refreshRepo, siteRepo, issuer)
	refreshService := auth.NewRefreshService(refreshRepo, issuer)
	crypter := mfa.NewCrypter(cfg.MfaEncryptionSecret)
	mfaService := mfa.NewService(userRepo, mfaSetupRepo, crypter, mfaIssuerName)

	// Rate limiters: Redis-backed when configured, in-memory otherwise
	refreshLimiter, mfaLimiter, err := buildLimiters(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize rate limiters: %v", err)
	}

	// Initialize handlers
	registrationHandler := handlers.NewRegistrationHandler(registrationService, userRepo)
	tokenHandler := handlers.NewTokenHandler(refreshService, refreshLimiter)
	mfaHandler := handlers.NewMfaHandler(mfaService, mfaLimiter)

	// Create router
	router := httphandler.NewRouter(registrationHandler, tokenHandler, mfaHandler, sessions)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// buildLimiters selects the rate-limiter backend. Refresh: 100 requests per
// hour per IP; MFA endpoints: 20 per 10 minutes per IP.
func buildLimiters(cfg *config.Config) (refresh, mfaLimiter middleware.Limiter, err error) {
	if cfg.RedisURL == "" {
		return middleware.NewRateLimiter(time.Hour, 100),
			middleware.NewRateLimiter(10*time.Minute, 20), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Println("Rate limiting backed by Redis")
	return middleware.NewRedisRateLimiter(client, "rl:refresh", time.Hour, 100),
		middleware.NewRedisRateLimiter(client, "rl:mfa", 10*time.Minute, 20), nil
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Resolve migration dir so it works from the module root or a parent
	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
