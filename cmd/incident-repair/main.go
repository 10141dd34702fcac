// Command incident-repair runs the incident repair API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bissquit/incident-repair/internal/app"
	"github.com/bissquit/incident-repair/internal/config"
	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/identity"
	"github.com/bissquit/incident-repair/internal/pkg/postgres"
	"github.com/bissquit/incident-repair/internal/version"
	"github.com/bissquit/incident-repair/migrations"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:           "incident-repair",
		Short:         "Incident lifecycle and repair orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and metrics servers",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}
	tokenCmd = &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.Get())
		},
	}

	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleOperator), "Role claim (viewer, operator, detector, admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != config.StoragePostgres {
		return errors.New("migrate requires storage.driver=postgres")
	}
	return postgres.Migrate(migrations.FS, cfg.Database.URL)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	validator := identity.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer)
	token, err := validator.IssueToken(args[0], domain.Role(tokenRole), tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	cmd.Println(token)
	return nil
}
