package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"repotrack/internal/config"
	"repotrack/internal/database"
	"repotrack/internal/migrate"
	"repotrack/internal/utils"
)

var (
	configPath string
	target     string
	dependsOn  []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repotrack-migrate",
		Short: "Manage repotrack schema migrations",
		Long: `Apply, roll back and inspect schema migrations.

Migrations are SQL files with checksums and explicit dependencies; they
are applied in dependency order, each in its own transaction, and their
rollback statements are recorded so a later binary can always undo them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and drifted migrations",
		RunE:  runStatus,
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE:  runUp,
	}
	upCmd.Flags().StringVar(&target, "target", "", "Stop after applying this version (default: apply all)")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations down to and including the target",
		RunE:  runDown,
	}
	downCmd.Flags().StringVar(&target, "target", "", "Version to roll back to (required)")
	_ = downCmd.MarkFlagRequired("target")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check applied migrations against their files",
		RunE:  runValidate,
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new timestamped migration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "Versions this migration depends on")

	rootCmd.AddCommand(statusCmd, upCmd, downCmd, validateCmd, createCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, connects to the database and builds the engine.
// The returned cleanup closes the connection.
func setup() (*config.Config, *migrate.Engine, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := utils.NewLogger(utils.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Pretty: true,
	})

	db := database.NewDatabase(cfg.Database)
	if err := db.Connect(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close database connection")
		}
	}
	return cfg, migrate.NewEngine(db.DB(), cfg.Migrations.Dir, logger), cleanup, nil
}

// withLock runs fn while holding the exclusive migration lock.
func withLock(cfg *config.Config, fn func() error) error {
	lock := flock.New(cfg.Migrations.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("migration lock %s is held by another process", cfg.Migrations.LockFile)
	}
	defer lock.Unlock()

	return fn()
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, engine, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := engine.Status()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No migrations found.")
		return nil
	}

	fmt.Printf("%-16s %-32s %-10s %s\n", "VERSION", "NAME", "STATE", "APPLIED AT")
	for _, e := range entries {
		state := "pending"
		appliedAt := "-"
		if e.Applied {
			state = "applied"
			if e.AppliedAt != nil {
				appliedAt = e.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		if e.Drifted {
			state = "DRIFTED"
		}
		fmt.Printf("%-16s %-32s %-10s %s\n", e.Version, e.Name, state, appliedAt)
	}
	return nil
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, engine, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	return withLock(cfg, func() error {
		applied, err := engine.Migrate(context.Background(), target)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("Nothing to apply.")
			return nil
		}
		for _, v := range applied {
			fmt.Printf("Applied %s\n", v)
		}
		return nil
	})
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg, engine, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	return withLock(cfg, func() error {
		reversed, err := engine.Rollback(context.Background(), target)
		if err != nil {
			return err
		}
		for _, v := range reversed {
			fmt.Printf("Rolled back %s\n", v)
		}
		return nil
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, engine, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	issues, err := engine.Validate()
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Println("All applied migrations match their files.")
		return nil
	}
	for _, issue := range issues {
		fmt.Printf("FAIL: %s\n", issue)
	}
	return fmt.Errorf("%d migration(s) failed validation", len(issues))
}

func runCreate(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	path, err := migrate.CreateFile(cfg.Migrations.Dir, args[0], dependsOn,
		"-- Write forward statements here.\n",
		"-- Write rollback statements here.\n")
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n", path)
	return nil
}
