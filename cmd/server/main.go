package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"subtracker/internal/auth"
	"subtracker/internal/billing"
	"subtracker/internal/config"
	"subtracker/internal/handlers"
	"subtracker/internal/reminders"
	"subtracker/internal/storage"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.DBPath)

	if err := ensureAdmin(db, cfg.AdminUser, cfg.AdminPassword, logger); err != nil {
		return err
	}

	if count, err := db.UserCount(); err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	} else if count == 0 {
		logger.Warn("no users configured; create one with adduser or set ADMIN_USER")
	}

	rates, err := cfg.Rates()
	if err != nil {
		return err
	}
	converter := billing.NewConverter(cfg.DefaultCurrency, rates)
	if !converter.HasRates() {
		logger.Info("no exchange rates configured; amounts are reported unconverted", "currency", cfg.DefaultCurrency)
	}

	h := handlers.NewHandlers(db,
		handlers.WithLogger(logger),
		handlers.WithAlertConfig(cfg.Alerts()),
		handlers.WithConverter(converter),
		handlers.WithDefaultCurrency(cfg.DefaultCurrency),
	)
	defer h.Close()

	service := reminders.NewService(db.Subscriptions(), db, reminders.LogNotifier{Logger: logger}, logger, time.Now)
	scheduler := reminders.NewScheduler(service, logger, cfg.ReminderSchedule)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}
	defer func() { <-scheduler.Stop().Done() }()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// setupRouter mounts the API behind the shared middleware stack.
func setupRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.MasterPasswordHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Mount("/api", h.Routes())

	return r
}

// ensureAdmin creates the bootstrap user when credentials are configured and
// the user does not exist yet.
func ensureAdmin(db *storage.DB, username, password string, logger *slog.Logger) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := db.GetUserByUsername(username); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	user, err := db.CreateUser(username, hash)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	logger.Info("created admin user", "username", user.Username, "id", user.ID)
	return nil
}
