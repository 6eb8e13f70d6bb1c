// @title        Health Access Ledger API
// @version      1.0
// @description  Grants de acceso temporales sobre historias clínicas, decisiones de acceso y auditoría.
// @BasePath     /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ppg "health-access-ledger/internal/adapters/principals/postgres"
	pg "health-access-ledger/internal/adapters/storage/postgres"
	"health-access-ledger/internal/config"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/tracing"
	"health-access-ledger/internal/router"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Access grant & record reference ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file (env vars override it)")

	rootCmd.AddCommand(serveCmd(&cfgPath))
	rootCmd.AddCommand(migrateCmd(&cfgPath))
	rootCmd.AddCommand(configCmd(&cfgPath))
	rootCmd.AddCommand(principalsCmd(&cfgPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, errs := config.Load(path)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	log := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.AppName,
		Environment: cfg.Env,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TracingSampleRate,
		Insecure:    !cfg.IsProduction(),
	}, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracing shutdown failed", map[string]any{"error": err})
		}
	}()

	opts, cleanup, err := router.FromConfig(ctx, cfg, log)
	defer cleanup()
	if err != nil {
		return err
	}
	if opts.DB != nil {
		applied, err := pg.Migrate(ctx, opts.DB)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", map[string]any{"versions": applied})
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{
			"addr":      srv.Addr,
			"env":       cfg.Env,
			"auth_mode": cfg.AuthMode,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := pg.Migrate(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s): %s\n", len(applied), strings.Join(applied, ", "))
			return nil
		},
	})
	return cmd
}

func configCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errs := config.Load(*cfgPath)
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), "  -", e)
				}
				return fmt.Errorf("%d configuration error(s)", len(errs))
			}

			storage := "memory"
			if cfg.DatabaseURL != "" {
				storage = "postgres"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "env:      %s\n", cfg.Env)
			fmt.Fprintf(out, "addr:     %s\n", cfg.Addr())
			fmt.Fprintf(out, "auth:     %s\n", cfg.AuthMode)
			fmt.Fprintf(out, "storage:  %s\n", storage)
			fmt.Fprintf(out, "content:  %s (encrypted=%t)\n", cfg.ContentBackend, cfg.ContentEncryptionKey != "")
			fmt.Fprintf(out, "tracing:  %t\n", cfg.TracingEnabled)
			return nil
		},
	})
	return cmd
}

func principalsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principals",
		Short: "Manage the principal directory (postgres)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <id> [id...]",
		Short: "Register principals in the directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			dir := ppg.NewDirectory(db)
			for _, id := range args {
				if strings.TrimSpace(id) == "" {
					continue
				}
				if err := dir.Add(cmd.Context(), id); err != nil {
					return fmt.Errorf("add %q: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
