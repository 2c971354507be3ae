package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/beat-escape-backend/internal/config"
	"github.com/DoyleJ11/beat-escape-backend/internal/httpapi"
	"github.com/DoyleJ11/beat-escape-backend/internal/hub"
	"github.com/DoyleJ11/beat-escape-backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms, work, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	h := hub.NewHub(ctx,
		hub.WithRepository(rooms),
		hub.WithCodeLength(cfg.CodeLength),
		hub.WithLogger(log),
	)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(httpapi.Options{
		Rooms:          hub.NewService(h),
		Work:           work,
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		<-h.Done()
		return err
	})
	return g.Wait()
}

// openStores picks postgres when DATABASE_URL is set: gorm for room
// documents, pgx for work records. Otherwise both live in memory.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (hub.Repository, httpapi.WorkStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, rooms and work records are kept in memory")
		return storage.NewMemRoomRepo(), storage.NewMemWorkRepo(), func() {}, nil
	}

	db, err := storage.OpenGorm(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	rooms := storage.NewGormRoomRepo(db)

	work, err := storage.NewPostgresWorkRepo(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = rooms.Close()
		return nil, nil, nil, err
	}
	if err := work.EnsureSchema(ctx); err != nil {
		work.Close()
		_ = rooms.Close()
		return nil, nil, nil, err
	}

	log.Info("database connected")
	return rooms, work, func() {
		work.Close()
		_ = rooms.Close()
	}, nil
}
