package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dili-feedback-server/internal/database"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/feedback"
	"github.com/dili-feedback-server/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	usersCmd.AddCommand(setRoleCmd)

	feedbackCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the export to a file instead of stdout")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back PostgreSQL schema migrations",
	Long: `Apply or roll back PostgreSQL schema migrations. SQLite and MongoDB
prepare their schema when the server opens them.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd.Context(), func(ctx context.Context, mr *database.MigrationRunner) error {
			return mr.Up(ctx)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd.Context(), func(ctx context.Context, mr *database.MigrationRunner) error {
			return mr.Down(ctx)
		})
	},
}

func withMigrations(ctx context.Context, fn func(context.Context, *database.MigrationRunner) error) error {
	manager, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrations apply to the postgres driver only, configured driver is %q", cfg.Storage.Driver)
	}

	mr, err := database.NewMigrationRunner(manager.GetDatabaseURL(), logger)
	if err != nil {
		return err
	}
	defer mr.Close()
	return fn(ctx, mr)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <email> <clinician|pharmacist|admin>",
	Short: "Change the role of an existing user",
	Long: `Change the role of an existing user. Signup always grants the default
role, so pharmacists and admins are promoted with this command.

Examples:
  dili-server users set-role pharm@example.com pharmacist`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, ok := domain.ParseRole(args[1])
		if !ok {
			return fmt.Errorf("unknown role %q", args[1])
		}
		return withStores(cmd.Context(), func(ctx context.Context, stores *storage.Stores, logger *logrus.Logger) error {
			if err := stores.Users.SetRole(ctx, domain.NormalizeEmail(args[0]), role); err != nil {
				return fmt.Errorf("failed to set role for %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", domain.NormalizeEmail(args[0]), role)
			return nil
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Work with recorded feedback",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every feedback record as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStores(cmd.Context(), func(ctx context.Context, stores *storage.Stores, logger *logrus.Logger) error {
			out := cmd.OutOrStdout()
			if exportOutput != "" {
				f, err := os.Create(exportOutput)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", exportOutput, err)
				}
				defer f.Close()
				out = f
			}
			return feedback.NewRecorder(stores.Feedback, nil, logger).Export(ctx, out)
		})
	},
}

func withStores(ctx context.Context, fn func(context.Context, *storage.Stores, *logrus.Logger) error) error {
	_, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	stores, err := storage.Open(openCtx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer stores.Close(context.Background())

	return fn(ctx, stores, logger)
}
