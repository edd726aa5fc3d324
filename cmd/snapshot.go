package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
	"github.com/xkilldash9x/kepco-scraper/internal/store"
)

// snapshotReader is the subset of *store.Store the snapshot command uses.
type snapshotReader interface {
	LatestSnapshot(ctx context.Context, portal, account string) (store.Snapshot, error)
}

// openSnapshots connects to the configured database. Replaced in tests.
var openSnapshots = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (snapshotReader, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		return nil, nil, errors.New("database.url is not configured")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

// newSnapshotCmd creates the `snapshot` command, which prints the most
// recently stored records for an account without launching a browser.
func newSnapshotCmd() *cobra.Command {
	var portalName, userNum string
	var paid bool

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Prints the last stored extraction for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if userNum == "" {
				return errors.New("--user-num is required")
			}

			reader, closeFn, err := openSnapshots(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			snap, err := reader.LatestSnapshot(ctx, portalName, userNum)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no snapshot stored for %s account %s", portalName, userNum)
			}
			if err != nil {
				return err
			}
			logger.Info("Snapshot loaded.",
				zap.Stringer("snapshot_id", snap.ID),
				zap.String("mode", snap.Mode),
				zap.Time("captured_at", snap.CapturedAt),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if paid {
				out := make([]schemas.PaidRecord, 0, len(snap.Records))
				for _, rec := range snap.Records {
					out = append(out, rec.ToPaid())
				}
				return enc.Encode(schemas.DataResponse[schemas.PaidRecord]{Data: out})
			}
			records := snap.Records
			if records == nil {
				records = []schemas.BillingRecord{}
			}
			return enc.Encode(schemas.DataResponse[schemas.BillingRecord]{Data: records})
		},
	}

	snapshotCmd.Flags().StringVarP(&portalName, "portal", "p", "pp", "portal the snapshot was taken from")
	snapshotCmd.Flags().StringVar(&userNum, "user-num", "", "customer number")
	snapshotCmd.Flags().BoolVar(&paid, "paid", false, "print only claim_date, usage and paid")
	return snapshotCmd
}
