package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"repotrack/internal/api"
	"repotrack/internal/config"
	"repotrack/internal/database"
	"repotrack/internal/migrate"
	"repotrack/internal/store"
	"repotrack/internal/utils"
)

const version = "v0.3.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	// .env is optional; real config comes from file and environment
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Server.LogLevel,
		Pretty:     cfg.Server.Debug,
		CallerInfo: cfg.Server.Debug,
		LogFile:    cfg.Server.LogFile,
	})
	logger.Info().Str("version", version).Msg("starting repotrack server")

	db := database.NewDatabase(cfg.Database)
	if err := db.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database connection")
		}
	}()

	if err := runMigrations(cfg, db, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repoStore := store.NewStore(db.DB(), logger)

	server, err := api.NewServer(cfg, db, repoStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

// runMigrations applies all pending migrations under an exclusive file lock
// so a second process (the migrate CLI, another server) cannot interleave.
func runMigrations(cfg *config.Config, db *database.Database, logger zerolog.Logger) error {
	lock := flock.New(cfg.Migrations.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("migration lock %s is held by another process", cfg.Migrations.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn().Err(err).Msg("failed to release migration lock")
		}
	}()

	engine := migrate.NewEngine(db.DB(), cfg.Migrations.Dir, logger)
	applied, err := engine.Migrate(context.Background(), "")
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info().Strs("versions", applied).Msg("applied pending migrations")
	}
	return nil
}
