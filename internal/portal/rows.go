// internal/portal/rows.go
package portal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
	"github.com/xkilldash9x/kepco-scraper/internal/parse"
)

// DiscoverRows returns the distinct, non-empty identifiers of the rows under
// the layout's container. With Self the container is the only row.
func DiscoverRows(ctx context.Context, page browser.PageWithChildren, layout RowLayout) ([]string, error) {
	if layout.Self {
		if _, err := page.FindElement(ctx, layout.Container); err != nil {
			return nil, err
		}
		return []string{layout.Container.Value}, nil
	}

	ids, err := page.QueryChildIdentifiers(ctx, layout.Container)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}
	return keys, nil
}

// Extractor reads billing records from the rows of one page state.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract discovers the rows and reads them concurrently. A row that fails is
// logged and left out; only a discovery failure fails the batch.
func (e *Extractor) Extract(ctx context.Context, page browser.PageWithChildren, layout RowLayout) ([]schemas.BillingRecord, error) {
	keys, err := DiscoverRows(ctx, page, layout)
	if err != nil {
		return nil, faults.Wrap("rows.discover", err)
	}

	results := make([]*schemas.BillingRecord, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	if layout.Concurrency > 0 {
		g.SetLimit(layout.Concurrency)
	}
	for i, key := range keys {
		g.Go(func() error {
			rec, err := readRow(gctx, page, layout.Fields, key)
			if err != nil {
				e.logger.Warn("Dropping row.", zap.String("row", key), zap.Error(err))
				return nil
			}
			results[i] = &rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]schemas.BillingRecord, 0, len(keys))
	for _, rec := range results {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	e.logger.Debug("Rows extracted.", zap.Int("rows", len(keys)), zap.Int("records", len(out)))
	return out, nil
}

func readRow(ctx context.Context, page browser.Page, fields []Field, key string) (schemas.BillingRecord, error) {
	var rec schemas.BillingRecord
	for _, f := range fields {
		text, found, err := readField(ctx, page, f, key)
		if err != nil {
			return rec, err
		}
		if !found {
			if f.Required {
				return rec, faults.Newf(faults.ElementNotFound, "row.field", "required field %s missing", f.Name)
			}
			continue
		}
		if err := apply(&rec, f.Name, text); err != nil {
			return rec, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return rec, nil
}

func readField(ctx context.Context, page browser.Page, f Field, key string) (string, bool, error) {
	refs, err := page.FindAll(ctx, f.Locator.Expand(config.PlaceholderRow, key))
	if err != nil {
		return "", false, err
	}
	if f.Index >= len(refs) {
		return "", false, nil
	}
	text, err := page.Text(ctx, refs[f.Index])
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func apply(rec *schemas.BillingRecord, field, text string) error {
	switch field {
	case config.FieldClaimDate:
		d, err := parse.ParseDate(text)
		if err != nil {
			return err
		}
		rec.ClaimDate = d.Ptr()
	case config.FieldDateRange:
		rec.StartDate, rec.EndDate = parse.ParseDateRange(text)
	case config.FieldUsage:
		v, err := parse.ParseUsage(text)
		if err != nil {
			return err
		}
		rec.Usage = v
	case config.FieldAmount, config.FieldPaid, config.FieldUnpaid:
		v, err := parse.ParseAmount(text)
		if err != nil {
			return err
		}
		switch field {
		case config.FieldAmount:
			rec.Amount = v
		case config.FieldPaid:
			rec.Paid = v
		default:
			rec.Unpaid = v
		}
	case config.FieldPayment:
		rec.PaymentMethod, rec.PaymentDate = parse.ParsePaymentMethodAndDate(text)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}
