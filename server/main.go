package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/server/internal/auth"
	"github.com/zhaobenny/picost/server/internal/database"
	"github.com/zhaobenny/picost/server/internal/handlers"
	"github.com/zhaobenny/picost/server/internal/middleware"
	"github.com/zhaobenny/picost/server/internal/templates"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

func main() {
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "./picost.db")
	level := zapcore.InfoLevel
	if getEnv("LOG_VERBOSE", "") != "" {
		level = zapcore.DebugLevel
	}

	log, err := logger.NewAtLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, port, dbPath); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(log *zap.Logger, port, dbPath string) error {
	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	sessionMgr := scs.New()
	sessionMgr.Store = sqlite3store.New(db.DB)
	sessionMgr.Lifetime = 7 * 24 * time.Hour
	sessionMgr.Cookie.Secure = getEnv("COOKIE_SECURE", "") != ""
	sessionMgr.Cookie.SameSite = http.SameSiteLaxMode

	tmpl, err := templates.Parse()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summaries := handlers.NewSummaryDebouncer(db, log, 2*time.Second)
	h := handlers.New(db, sessionMgr, tmpl, summaries)
	authMiddleware := auth.NewMiddleware(db, sessionMgr)

	// Login and register are brute-force targets; the API gets more headroom
	authLimiter := middleware.NewIPRateLimiter(rate.Every(6*time.Second), 5)
	apiLimiter := middleware.NewIPRateLimiter(rate.Every(time.Second), 20)
	go authLimiter.RunCleanup(ctx, 10*time.Minute)
	go apiLimiter.RunCleanup(ctx, 10*time.Minute)

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("/", h.Index)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/partial/auth", h.PartialAuth)
	mux.Handle("/login", authLimiter.LimitFunc(h.Login))
	mux.Handle("/register", authLimiter.LimitFunc(h.Register))

	// Session routes
	mux.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(h.Logout)))
	mux.Handle("/partial/dashboard", authMiddleware.RequireAuth(http.HandlerFunc(h.PartialDashboard)))
	mux.Handle("/partial/cost-table", authMiddleware.RequireAuth(http.HandlerFunc(h.PartialCostTable)))
	mux.Handle("/settings/reset-date", authMiddleware.RequireAuth(http.HandlerFunc(h.UpdateResetDate)))

	// API key routes
	mux.Handle("/api/sync", apiLimiter.Limit(authMiddleware.RequireAPIKey(http.HandlerFunc(h.APISync))))
	mux.Handle("/api/sync/status", apiLimiter.Limit(authMiddleware.RequireAPIKey(http.HandlerFunc(h.APISyncStatus))))

	handler := middleware.RequestLogger(log)(middleware.SecurityHeaders(sessionMgr.LoadAndSave(mux)))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting picost-server", zap.String("addr", srv.Addr), zap.String("db", dbPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	// Let pending summary rebuilds land before the database closes
	summaries.Wait()
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
