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

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/doctrail/internal/app"
	"github.com/atvirokodosprendimai/doctrail/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:  "doctrail",
		Usage: "SQLite-backed JSON document API with an append-only audit trail",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("DOCTRAIL_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./doctrail.sqlite",
				Sources: cli.EnvVars("DOCTRAIL_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("DOCTRAIL_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-tenant",
				Value:   "default",
				Sources: cli.EnvVars("DOCTRAIL_BOOTSTRAP_TENANT"),
				Usage:   "Tenant for bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("DOCTRAIL_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-actor",
				Sources: cli.EnvVars("DOCTRAIL_BOOTSTRAP_ACTOR"),
				Usage:   "Actor recorded on audit entries for the bootstrap key (default apikey:<name>)",
			},
			&cli.StringFlag{
				Name:    "audit-config",
				Sources: cli.EnvVars("DOCTRAIL_AUDIT_CONFIG"),
				Usage:   "YAML file listing tracked collections and audit policies",
			},
			&cli.StringSliceFlag{
				Name:    "track",
				Sources: cli.EnvVars("DOCTRAIL_TRACK"),
				Usage:   "Collection to audit with default entity type and tombstone field (repeatable)",
			},
			&cli.StringFlag{
				Name:    "bulk-failure-mode",
				Sources: cli.EnvVars("DOCTRAIL_BULK_FAILURE_MODE"),
				Usage:   "What a failed audit write does to bulk pathways: partial or atomic (overrides the audit config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("DOCTRAIL_LOG_LEVEL"),
				Usage:   "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("DOCTRAIL_LOG_FORMAT"),
				Usage:   "Log format: text or json",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log, err := app.NewLogger(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return err
			}

			audit, err := config.LoadAudit(c.String("audit-config"))
			if err != nil {
				return err
			}
			audit.Track(c.StringSlice("track")...)
			if mode := c.String("bulk-failure-mode"); mode != "" {
				audit.BulkFailureMode = mode
			}

			cfg := app.Config{
				Addr:             c.String("addr"),
				DBPath:           c.String("db-path"),
				BootstrapAPIKey:  c.String("bootstrap-api-key"),
				BootstrapTenant:  c.String("bootstrap-tenant"),
				BootstrapKeyName: c.String("bootstrap-key-name"),
				BootstrapActorID: c.String("bootstrap-actor"),
				Audit:            audit,
				Logger:           log,
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.WithError(closeErr).Error("close resources")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Addr).Info("listening")
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.WithField("signal", sig.String()).Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}
