package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/cache"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
	"github.com/xkilldash9x/kepco-scraper/internal/portal"
	"github.com/xkilldash9x/kepco-scraper/internal/server"
	"github.com/xkilldash9x/kepco-scraper/internal/store"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the crawling HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := initializeServeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize server components: %w", err)
			}
			defer components.Shutdown()

			srv, err := server.New(cfg.Server(), components.Deps, logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

// serveComponents holds what the server needs plus the handles to close.
type serveComponents struct {
	Deps   server.Deps
	pool   *pgxpool.Pool
	closer func() error
	logger *zap.Logger
}

// Shutdown closes the database pool and the cache client.
func (c *serveComponents) Shutdown() {
	if c.closer != nil {
		if err := c.closer(); err != nil {
			c.logger.Warn("Failed to close cache client.", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.logger.Info("Closing database connections...")
		c.pool.Close()
	}
}

// initializeServeComponents builds the pipeline and the optional snapshot
// store and result cache. On error everything already opened is closed.
func initializeServeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (_ *serveComponents, err error) {
	c := &serveComponents{logger: logger}
	defer func() {
		if err != nil {
			c.Shutdown()
		}
	}()

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Deps.Runner = runner

	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		c.pool = pool

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		c.Deps.Snapshots = st
		logger.Info("Snapshot store enabled.")
	} else {
		logger.Info("No database configured; snapshots are disabled.")
	}

	if cc := cfg.Cache(); cc.Addr != "" {
		client, err := cache.NewRedisClient(cc.Addr, cc.Password, cc.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		c.closer = client.Close
		rc, err := cache.NewStore(client, cc.TTL, []byte(cc.KeySecret))
		if err != nil {
			return nil, err
		}
		c.Deps.Cache = rc
		logger.Info("Result cache enabled.", zap.String("addr", cc.Addr), zap.Duration("ttl", cc.TTL))
	}
	return c, nil
}

// newRunner builds the browser driver and the portal pipeline. Replaced in
// tests.
var newRunner = func(cfg config.Interface, logger *zap.Logger) (server.Runner, error) {
	driver, err := browser.NewDriver(cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser driver: %w", err)
	}
	return portal.NewPipeline(driver, cfg, logger), nil
}
