package cmd

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
	"github.com/xkilldash9x/kepco-scraper/internal/portal"
)

// passwordEnv is read when --password is not given, to keep it out of shell
// history.
const passwordEnv = "KEPCO_USER_PW"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fetchOptions struct {
	portal   string
	mode     string
	limit    int
	userID   string
	password string
	userNum  string
	testMode bool
	paid     bool
}

// newFetchCmd creates the `fetch` command, a one-shot extraction that prints
// the response envelope to stdout.
func newFetchCmd() *cobra.Command {
	var opts fetchOptions

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Runs one portal extraction and prints the records as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			mode, err := parseMode(opts.mode, opts.limit)
			if err != nil {
				return err
			}
			if opts.password == "" {
				opts.password = os.Getenv(passwordEnv)
			}
			req := schemas.FetchRequest{
				UserID:   opts.userID,
				UserPw:   opts.password,
				UserNum:  opts.userNum,
				TestMode: opts.testMode,
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid credentials: %w", err)
			}

			runner, err := newRunner(cfg, logger)
			if err != nil {
				return err
			}
			records, err := runner.Run(ctx, opts.portal, req, mode)
			if err != nil {
				return fmt.Errorf("%s extraction failed at %s: %w", opts.portal, portal.StageOf(err), err)
			}
			logger.Info("Fetch complete.", zap.String("portal", opts.portal), zap.Int("records", len(records)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if opts.paid {
				paid := make([]schemas.PaidRecord, 0, len(records))
				for _, rec := range records {
					paid = append(paid, rec.ToPaid())
				}
				return enc.Encode(schemas.DataResponse[schemas.PaidRecord]{Data: paid})
			}
			if records == nil {
				records = []schemas.BillingRecord{}
			}
			return enc.Encode(schemas.DataResponse[schemas.BillingRecord]{Data: records})
		},
	}

	fetchCmd.Flags().StringVarP(&opts.portal, "portal", "p", "pp", "portal flow to run (pp, kepco-on)")
	fetchCmd.Flags().StringVarP(&opts.mode, "mode", "m", "all-periods", "history to collect: all-periods, latest or current")
	fetchCmd.Flags().IntVar(&opts.limit, "limit", 3, "number of records kept in latest mode")
	fetchCmd.Flags().StringVar(&opts.userID, "user-id", "", "portal login id")
	fetchCmd.Flags().StringVar(&opts.password, "password", "", "portal password (default $"+passwordEnv+")")
	fetchCmd.Flags().StringVar(&opts.userNum, "user-num", "", "customer number")
	fetchCmd.Flags().BoolVar(&opts.testMode, "test-mode", false, "use the test browser binary")
	fetchCmd.Flags().BoolVar(&opts.paid, "paid", false, "print only claim_date, usage and paid")
	return fetchCmd
}

func parseMode(name string, limit int) (portal.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "all-periods", "all":
		return portal.AllPeriods, nil
	case "latest":
		if limit <= 0 {
			return portal.Mode{}, fmt.Errorf("--limit must be positive in latest mode, got %d", limit)
		}
		return portal.Latest(limit), nil
	case "current":
		return portal.Mode{}, nil
	default:
		return portal.Mode{}, fmt.Errorf("unknown mode %q (want all-periods, latest or current)", name)
	}
}
