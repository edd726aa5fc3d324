// internal/portal/periods.go
package portal

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

// Option is one entry of the period selector. It is read fresh on every
// iteration; element handles do not survive a search.
type Option struct {
	Index int
	Label string
}

// PeriodIterator walks the historical period selector one option at a time.
type PeriodIterator struct {
	r         *runner
	extractor *Extractor
}

func NewPeriodIterator(flow *Flow, page browser.Page, req schemas.FetchRequest, extractor *Extractor, logger *zap.Logger) *PeriodIterator {
	return &PeriodIterator{
		r:         &runner{flow: flow, page: page, vars: vars(req), logger: logger},
		extractor: extractor,
	}
}

// Run selects each remaining period in turn and extracts its rows. current is
// the batch already read from the landing page; after_oldest starts at the
// option following its oldest claim period.
//
// A failing period ends the walk: the batches gathered so far are returned
// and the failure is logged. Only context cancellation is returned as an error.
func (p *PeriodIterator) Run(ctx context.Context, page browser.PageWithChildren, current []schemas.BillingRecord) ([][]schemas.BillingRecord, error) {
	r, ps := p.r, p.r.flow.Periods
	if !ps.Enabled() {
		return nil, nil
	}

	if err := r.run(ctx, ps.Prepare); err != nil {
		return nil, p.abandon(ctx, "", err)
	}

	start, err := p.startIndex(ctx, current)
	if err != nil {
		return nil, p.abandon(ctx, "", err)
	}

	var batches [][]schemas.BillingRecord
	for i := start; ; i++ {
		opt, ref, ok, err := p.option(ctx, i)
		if err != nil {
			return batches, p.abandon(ctx, "", err)
		}
		if !ok {
			break
		}
		batch, err := p.visit(ctx, page, ref)
		if err != nil {
			return batches, p.abandon(ctx, opt.Label, err)
		}
		r.logger.Debug("Period extracted.", zap.String("period", opt.Label), zap.Int("records", len(batch)))
		batches = append(batches, batch)
	}
	return batches, nil
}

func (p *PeriodIterator) visit(ctx context.Context, page browser.PageWithChildren, option browser.ElementRef) ([]schemas.BillingRecord, error) {
	r, ps := p.r, p.r.flow.Periods
	if err := r.page.Select(ctx, option); err != nil {
		return nil, err
	}
	if err := r.run(ctx, ps.Search); err != nil {
		return nil, err
	}
	if err := r.waitOverlay(ctx, ps.Timeout); err != nil {
		return nil, err
	}
	return p.extractor.Extract(ctx, page, ps.Rows)
}

// abandon logs a period failure. It returns an error only when the request
// itself is gone.
func (p *PeriodIterator) abandon(ctx context.Context, label string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	p.r.logger.Warn("Abandoning remaining periods.", zap.String("period", label), zap.Error(err))
	return nil
}

func (p *PeriodIterator) options(ctx context.Context) ([]browser.ElementRef, error) {
	return p.r.page.FindAll(ctx, optionsOf(p.r.flow.Periods.Select))
}

// option reads the i-th option of the selector. ok is false past the end.
func (p *PeriodIterator) option(ctx context.Context, i int) (Option, browser.ElementRef, bool, error) {
	refs, err := p.options(ctx)
	if err != nil {
		return Option{}, 0, false, err
	}
	if i >= len(refs) {
		return Option{}, 0, false, nil
	}
	label, err := p.r.page.Text(ctx, refs[i])
	if err != nil {
		return Option{}, 0, false, err
	}
	return Option{Index: i, Label: strings.TrimSpace(label)}, refs[i], true, nil
}

func (p *PeriodIterator) startIndex(ctx context.Context, current []schemas.BillingRecord) (int, error) {
	ps := p.r.flow.Periods
	if ps.StartMode != config.StartAfterOldest {
		return ps.StartIndex, nil
	}

	oldest, ok := oldestClaim(current)
	if !ok {
		return 0, faults.Newf(faults.OptionNotFound, "periods.start", "no claim period on the landing page to continue from")
	}
	label := oldest.Format(ps.LabelLayout)

	refs, err := p.options(ctx)
	if err != nil {
		return 0, err
	}
	for i, ref := range refs {
		text, err := p.r.page.Text(ctx, ref)
		if err != nil {
			return 0, err
		}
		if strings.TrimSpace(text) == label {
			return i + 1, nil
		}
	}
	return 0, faults.Newf(faults.OptionNotFound, "periods.start", "no option labelled %q", label)
}

func oldestClaim(records []schemas.BillingRecord) (schemas.Date, bool) {
	var oldest schemas.Date
	found := false
	for _, rec := range records {
		k, ok := rec.ClaimKey()
		if !ok {
			continue
		}
		if !found || k.Before(oldest) {
			oldest, found = k, true
		}
	}
	return oldest, found
}

// optionsOf locates the option elements of a select control.
func optionsOf(sel browser.Locator) browser.Locator {
	switch sel.By {
	case browser.ByID:
		return browser.XPath("//*[@id='" + sel.Value + "']//option")
	case browser.ByCSS:
		return browser.CSS(sel.Value + " option")
	}
	return browser.XPath(sel.Value + "//option")
}
