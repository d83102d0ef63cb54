// Package main is the catalog seeding CLI.
//
//	seed validate -f catalog.yaml
//	seed apply -f catalog.yaml [--actor seed]
//	seed token --username alice [--roles planner,operator] [--ttl 8h]
//
// apply writes through the same services as the API, against the configured
// Postgres database and cache, so running servers see the new rows at once.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/api/middleware"
	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/config"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/infrastructure"
	"github.com/VicenzaTech/psm-backend/internal/jobs"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository/postgres"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

// env supplies what the commands need from the outside world. Tests swap
// in an in-memory seeder.
type env struct {
	loadConfig func() (*config.Config, error)
	openSeeder func(ctx context.Context, cfg *config.Config, actor string) (*Seeder, func(), error)
}

func defaultEnv() env {
	return env{loadConfig: config.Load, openSeeder: openPostgresSeeder}
}

func newRootCmd(e env) *cobra.Command {
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Seed the production catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newApplyCmd(e), newTokenCmd(e))
	return root
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog file without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := LoadCatalogFile(file)
			if err != nil {
				return err
			}
			workshops, lines, brickTypes := c.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d workshops, %d lines, %d brick types\n", workshops, lines, brickTypes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newApplyCmd(e env) *cobra.Command {
	var (
		file  string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update the workshops, lines and brick types in a catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := LoadCatalogFile(file)
			if err != nil {
				return err
			}
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			ctx := cmd.Context()
			seeder, closeFn, err := e.openSeeder(ctx, cfg, actor)
			if err != nil {
				return err
			}
			defer closeFn()

			sum, err := seeder.Apply(ctx, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed applied: %s\n", sum)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	cmd.Flags().StringVar(&actor, "actor", "seed", "actor recorded on activity logs")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTokenCmd(e env) *cobra.Command {
	var (
		username string
		roles    string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the configured key (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var roleList []string
			for _, r := range strings.Split(roles, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roleList = append(roleList, r)
				}
			}
			token, expiresAt, err := middleware.GenerateToken(middleware.JWTConfig{
				SigningKey: []byte(cfg.Security.JWTSigningKey),
				Issuer:     cfg.Security.JWTIssuer,
				ExpiresIn:  ttl,
			}, username, roleList)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().StringVar(&roles, "roles", "", "comma-separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// openPostgresSeeder connects to the configured database. Change records go
// to the durable audit queue through an insert-only River client.
func openPostgresSeeder(ctx context.Context, cfg *config.Config, actor string) (*Seeder, func(), error) {
	if cfg.Storage.Driver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("seed apply requires storage.driver=%s", config.DriverPostgres)
	}
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Cache.Driver == config.DriverPostgres {
		store = cache.NewPostgresStore(db.Pool)
	}
	deps := service.Deps{
		Repos:     postgres.New(db.Pool),
		Cache:     cache.New(store, nil),
		ListTTL:   cfg.Cache.ListTTL,
		EntityTTL: cfg.Cache.EntityTTL,
	}

	var sink audit.Sink = audit.LogSink{}
	riverClient, err := river.NewClient[pgx.Tx](riverpgxv5.New(db.Pool), &river.Config{})
	if err != nil {
		logger.Warn("River unavailable, change records go to the log only", zap.Error(err))
	} else {
		sink = jobs.NewRiverSink(riverClient)
	}

	workshops := service.NewWorkshopService(deps)
	return &Seeder{
		Workshops:  workshops,
		Lines:      service.NewProductionLineService(deps, workshops),
		BrickTypes: service.NewBrickTypeService(deps),
		Sink:       sink,
		Actor:      actor,
	}, db.Close, nil
}
