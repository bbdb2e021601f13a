package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodev-ai/secgate/internal/audit"
	"github.com/autodev-ai/secgate/internal/command"
	"github.com/autodev-ai/secgate/internal/config"
	"github.com/autodev-ai/secgate/internal/database"
	"github.com/autodev-ai/secgate/internal/guard"
	"github.com/autodev-ai/secgate/internal/log"
	"github.com/autodev-ai/secgate/internal/observability"
	"github.com/autodev-ai/secgate/internal/ratelimit"
	"github.com/autodev-ai/secgate/internal/sanitize"
	"github.com/autodev-ai/secgate/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "secgate",
	Short: "secgate - request validation and access control gateway",
	Long: `secgate validates command requests through a layered pipeline:
input sanitization, session checks, adaptive rate limiting, and
command authorization, with a tamper-evident audit trail.

Use the subcommands to inspect a running deployment's audit log or
to test commands against the configured whitelist.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles everything a subcommand needs after assembly.
type app struct {
	manager  *guard.Manager
	shutdown func(context.Context) error
}

// buildApp loads configuration and wires the engines together. It is the
// single assembly point shared by the subcommands that need a live
// pipeline.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.Log.Level),
		JSON:      cfg.Log.JSON,
		AddSource: cfg.Log.AddSource,
	})

	shutdown := func(context.Context) error { return nil }
	if cfg.Observability.Enabled {
		shutdown, err = observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Observability.Endpoint,
			ServiceName: cfg.Observability.ServiceName,
			Environment: cfg.Observability.Environment,
			APIKey:      cfg.Observability.APIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
	}

	defs, err := cfg.CommandDefinitions()
	if err != nil {
		return nil, fmt.Errorf("building command registry: %w", err)
	}
	registry, err := command.NewRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("building command registry: %w", err)
	}
	roles, err := command.FlattenRoles(cfg.RoleSpecs())
	if err != nil {
		return nil, fmt.Errorf("flattening roles: %w", err)
	}

	limiter := ratelimit.New(cfg.EndpointConfigs(), cfg.FallbackEndpoint(), logger)

	var store session.Store
	if cfg.Session.Persist {
		db, err := database.Open(cfg.Session.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrating session store: %w", err)
		}
		store = session.NewSQLStore(db)
	}
	sessionCfg, err := cfg.SessionSettings()
	if err != nil {
		return nil, fmt.Errorf("session settings: %w", err)
	}
	sessions, err := session.NewManager(sessionCfg, limiter, store, logger)
	if err != nil {
		return nil, fmt.Errorf("building session manager: %w", err)
	}

	auditLog, err := audit.New(cfg.AuditSettings(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	manager, err := guard.NewManager(guard.Config{
		Sanitizer: newSanitizer(cfg, logger),
		Sessions:  sessions,
		Limiter:   limiter,
		Registry:  registry,
		Roles:     roles,
		Audit:     auditLog,
		Logger:    logger,
	})
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	return &app{
		manager: manager,
		shutdown: func(ctx context.Context) error {
			err := auditLog.Close()
			if serr := shutdown(ctx); serr != nil && err == nil {
				err = serr
			}
			return err
		},
	}, nil
}

func newSanitizer(cfg *config.Config, logger log.Logger) *sanitize.Sanitizer {
	return sanitize.New(cfg.SanitizeLimits(), cfg.Sanitize.AllowedRoot, logger)
}
