// internal/portal/pipeline.go
package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
)

// Stage names the part of the pipeline an error came from.
type Stage string

const (
	StageSession    Stage = "session"
	StageLogin      Stage = "login"
	StageNavigation Stage = "navigation"
	StageExtraction Stage = "extraction"
)

// StageError attributes a fatal failure to a pipeline stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage that produced err, defaulting to StageSession for
// failures raised before a page was handed over.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageSession
}

// ErrUnknownPortal is returned by Run for a portal name with no flow.
var ErrUnknownPortal = errors.New("unknown portal")

// Mode selects how much history a run collects.
type Mode struct {
	// Periods walks the historical selector after the landing page.
	Periods bool
	// Limit keeps only the newest records when positive.
	Limit int
}

// String renders the mode for logs and cache keys.
func (m Mode) String() string {
	if m.Periods {
		return "all-periods"
	}
	if m.Limit > 0 {
		return fmt.Sprintf("latest-%d", m.Limit)
	}
	return "current"
}

// AllPeriods collects every period the portal offers.
var AllPeriods = Mode{Periods: true}

// Latest collects the landing page only and keeps the newest n records.
func Latest(n int) Mode { return Mode{Limit: n} }

// SessionProvider hands out a scoped browser session. browser.Driver is the
// production implementation.
type SessionProvider interface {
	Acquire(ctx context.Context, testMode bool, fn browser.SessionFunc) error
}

// Pipeline runs a portal flow end to end on a fresh session.
type Pipeline struct {
	sessions SessionProvider
	cfg      config.Interface
	logger   *zap.Logger
}

func NewPipeline(sessions SessionProvider, cfg config.Interface, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		cfg:      cfg,
		logger:   observability.Component(logger, "Pipeline"),
	}
}

// Flow compiles the named portal description.
func (p *Pipeline) Flow(portal string) (*Flow, error) {
	fc, ok := p.cfg.Portal(portal)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPortal, portal)
	}
	return Compile(portal, fc)
}

// Run logs in, navigates to the report, extracts the landing page and, in
// AllPeriods mode, every historical period. The result is deduplicated and
// sorted newest first.
func (p *Pipeline) Run(ctx context.Context, portal string, req schemas.FetchRequest, mode Mode) ([]schemas.BillingRecord, error) {
	flow, err := p.Flow(portal)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("portal", portal),
		zap.Stringer("mode", mode),
	)
	logger.Info("Starting extraction.")

	var batches [][]schemas.BillingRecord
	err = p.sessions.Acquire(ctx, req.TestMode, func(ctx context.Context, page browser.PageWithChildren) error {
		var err error
		batches, err = p.extract(ctx, flow, page, req, mode, logger)
		return err
	})
	if err != nil {
		logger.Error("Extraction failed.", zap.String("stage", string(StageOf(err))), zap.Error(err))
		return nil, err
	}

	records := Aggregate(batches...)
	if mode.Limit > 0 && len(records) > mode.Limit {
		records = records[:mode.Limit]
	}
	logger.Info("Extraction finished.", zap.Int("batches", len(batches)), zap.Int("records", len(records)))
	return records, nil
}

func (p *Pipeline) extract(ctx context.Context, flow *Flow, page browser.PageWithChildren, req schemas.FetchRequest, mode Mode, logger *zap.Logger) ([][]schemas.BillingRecord, error) {
	if err := NewLoginFlow(flow, page, req, logger.Named("Login")).Run(ctx, req.UserPw); err != nil {
		return nil, &StageError{Stage: StageLogin, Err: err}
	}
	if err := NewNavigationFlow(flow, page, req, logger.Named("Navigation")).Run(ctx); err != nil {
		return nil, &StageError{Stage: StageNavigation, Err: err}
	}

	extractor := NewExtractor(logger.Named("Extractor"))
	current, err := extractor.Extract(ctx, page, flow.Rows)
	if err != nil {
		return nil, &StageError{Stage: StageExtraction, Err: err}
	}
	batches := [][]schemas.BillingRecord{current}

	if mode.Periods && flow.Periods.Enabled() {
		more, err := NewPeriodIterator(flow, page, req, extractor, logger.Named("Periods")).Run(ctx, page, current)
		if err != nil {
			return nil, &StageError{Stage: StageExtraction, Err: err}
		}
		batches = append(batches, more...)
	}
	return batches, nil
}
