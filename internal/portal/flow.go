// internal/portal/flow.go
package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

// retryInterval separates attempts of a step configured with retries.
var retryInterval = time.Second

// Overlay is the loading indicator of a portal and the predicate that tells
// it has gone away.
type Overlay struct {
	Locator  browser.Locator
	Hidden   browser.Predicate
	Timeout  time.Duration
	Interval time.Duration
}

// Step is one compiled browser action.
type Step struct {
	Action  string
	Locator browser.Locator
	Value   string
	Retries int
}

// Field locates one cell of a row. The locator still carries {row}.
type Field struct {
	Name     string
	Locator  browser.Locator
	Index    int
	Required bool
}

// RowLayout says where records are rendered and how to read them.
type RowLayout struct {
	Container   browser.Locator
	Self        bool
	Fields      []Field
	Concurrency int
}

// Login holds the compiled authentication locators.
type Login struct {
	Notice        browser.Locator
	NoticeDismiss browser.Locator
	Openers       []browser.Locator
	Identifier    browser.Locator
	Secret        browser.Locator
	Submit        browser.Locator
	AccountMenu   browser.Locator
	AccountEntry  browser.Locator
	WaitTimeout   time.Duration
	WaitInterval  time.Duration
}

// Periods describes the historical period selector.
type Periods struct {
	Select      browser.Locator
	StartMode   string
	StartIndex  int
	LabelLayout string
	Prepare     []Step
	Search      []Step
	Timeout     time.Duration
	Rows        RowLayout
}

// Enabled reports whether the portal pages through periods.
func (p Periods) Enabled() bool { return !p.Select.IsZero() }

// Flow is the compiled, ready-to-run description of one portal.
type Flow struct {
	Name     string
	BaseURL  string
	EntryURL string
	Overlay  Overlay
	Login    Login
	NavLink  browser.Locator
	NavSteps []Step
	Rows     RowLayout
	Periods  Periods
}

// Compile validates cfg and resolves every locator.
func Compile(name string, cfg config.FlowConfig) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("portal %s: %w", name, err)
	}
	c := compiler{}
	f := &Flow{
		Name:     name,
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		EntryURL: joinURL(cfg.BaseURL, cfg.EntryPath),
		Overlay: Overlay{
			Locator:  c.locator(cfg.Overlay.Locator),
			Hidden:   browser.HiddenBy(cfg.Overlay.Attribute, cfg.Overlay.Marker, matchMode(cfg.Overlay.Match)),
			Timeout:  cfg.Overlay.Timeout,
			Interval: cfg.Overlay.Interval,
		},
		Login: Login{
			Notice:        c.locator(cfg.Login.Notice),
			NoticeDismiss: c.locator(cfg.Login.NoticeDismiss),
			Identifier:    c.locator(cfg.Login.Identifier),
			Secret:        c.locator(cfg.Login.Secret),
			Submit:        c.locator(cfg.Login.Submit),
			AccountMenu:   c.locator(cfg.Login.AccountMenu),
			AccountEntry:  c.locator(cfg.Login.AccountEntry),
			WaitTimeout:   cfg.Login.WaitTimeout,
			WaitInterval:  cfg.Login.WaitInterval,
		},
		NavLink:  c.locator(cfg.Navigation.Link),
		NavSteps: c.steps(cfg.Navigation.Steps),
		Rows:     c.rows(cfg.Rows),
		Periods: Periods{
			Select:      c.locator(cfg.Periods.Select),
			StartMode:   cfg.Periods.StartMode,
			StartIndex:  cfg.Periods.StartIndex,
			LabelLayout: cfg.Periods.LabelLayout,
			Prepare:     c.steps(cfg.Periods.Prepare),
			Search:      c.steps(cfg.Periods.Search),
			Timeout:     cfg.Periods.Timeout,
		},
	}
	for _, o := range cfg.Login.Openers {
		f.Login.Openers = append(f.Login.Openers, c.locator(o))
	}
	if cfg.Periods.Rows != nil {
		f.Periods.Rows = c.rows(*cfg.Periods.Rows)
	} else {
		f.Periods.Rows = f.Rows
	}
	if f.Overlay.Timeout <= 0 {
		f.Overlay.Timeout = 20 * time.Second
	}
	if f.Login.WaitTimeout <= 0 {
		f.Login.WaitTimeout = f.Overlay.Timeout
	}
	if f.Periods.Timeout <= 0 {
		f.Periods.Timeout = f.Overlay.Timeout
	}
	if c.err != nil {
		return nil, fmt.Errorf("portal %s: %w", name, c.err)
	}
	return f, nil
}

// compiler keeps the first locator error so Compile reads straight through.
type compiler struct{ err error }

func (c *compiler) locator(lc config.LocatorConfig) browser.Locator {
	if lc.IsZero() {
		return browser.Locator{}
	}
	l, err := browser.FromConfig(lc)
	if err != nil && c.err == nil {
		c.err = err
	}
	return l
}

func (c *compiler) steps(in []config.StepConfig) []Step {
	out := make([]Step, 0, len(in))
	for _, s := range in {
		out = append(out, Step{Action: s.Action, Locator: c.locator(s.Locator), Value: s.Value, Retries: s.Retries})
	}
	return out
}

func (c *compiler) rows(in config.RowsConfig) RowLayout {
	r := RowLayout{Container: c.locator(in.Container), Self: in.Self, Concurrency: in.Concurrency}
	for _, f := range in.Fields {
		r.Fields = append(r.Fields, Field{Name: f.Name, Locator: c.locator(f.Locator), Index: f.Index, Required: f.Required})
	}
	return r
}

func matchMode(m string) browser.MatchMode {
	if m == config.MatchEquals {
		return browser.MatchEquals
	}
	return browser.MatchContains
}

// joinURL appends a path or a relative href to base. Absolute hrefs win.
func joinURL(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	base = strings.TrimRight(base, "/")
	if ref == "" {
		return base
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}

// vars returns the placeholder substitutions for a request. The password is
// deliberately absent.
func vars(req schemas.FetchRequest) []string {
	return []string{
		config.PlaceholderUserID, req.UserID,
		config.PlaceholderUserNum, req.UserNum,
		config.PlaceholderAccount, req.UserNum,
	}
}

// runner executes steps against one page with the flow's waits.
type runner struct {
	flow   *Flow
	page   browser.Page
	vars   []string
	logger *zap.Logger
}

func (r *runner) waitOverlay(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = r.flow.Overlay.Timeout
	}
	o := r.flow.Overlay
	_, err := browser.WaitUntil(ctx, r.page, o.Locator, o.Hidden, timeout, o.Interval)
	return err
}

func (r *runner) waitPresent(ctx context.Context, loc browser.Locator) (browser.ElementRef, error) {
	return browser.WaitUntil(ctx, r.page, loc, browser.Present(), r.flow.Login.WaitTimeout, r.flow.Login.WaitInterval)
}

func (r *runner) click(ctx context.Context, loc browser.Locator) error {
	ref, err := r.page.FindElement(ctx, loc)
	if err != nil {
		return err
	}
	return r.page.Click(ctx, ref)
}

func (r *runner) typeInto(ctx context.Context, loc browser.Locator, text string) error {
	ref, err := r.page.FindElement(ctx, loc)
	if err != nil {
		return err
	}
	return r.page.Type(ctx, ref, text)
}

func (r *runner) run(ctx context.Context, steps []Step) error {
	for i, s := range steps {
		if err := r.step(ctx, s); err != nil {
			return fmt.Errorf("step %d (%s %s): %w", i, s.Action, s.Locator, err)
		}
	}
	return nil
}

func (r *runner) step(ctx context.Context, s Step) error {
	loc := s.Locator.Expand(r.vars...)
	value := r.valueOf(s.Value)
	r.logger.Debug("Running step.", zap.String("action", s.Action), zap.Stringer("locator", loc))

	switch s.Action {
	case config.ActionClick:
		return r.retry(ctx, s.Retries, func() error { return r.click(ctx, loc) })
	case config.ActionSelect:
		return r.retry(ctx, s.Retries, func() error {
			ref, err := r.page.FindElement(ctx, loc)
			if err != nil {
				return faults.New(faults.OptionNotFound, "select", err)
			}
			return r.page.Select(ctx, ref)
		})
	case config.ActionType:
		return r.typeInto(ctx, loc, value)
	case config.ActionWait:
		_, err := r.waitPresent(ctx, loc)
		return err
	case config.ActionOverlay:
		return r.waitOverlay(ctx, 0)
	case config.ActionScript:
		return r.page.Evaluate(ctx, value, nil)
	case config.ActionBack:
		return r.page.Back(ctx)
	}
	return fmt.Errorf("unknown action %q", s.Action)
}

// valueOf expands request placeholders in s.
func (r *runner) valueOf(s string) string {
	return strings.NewReplacer(r.vars...).Replace(s)
}

// retry runs fn up to retries+1 times, retryInterval apart.
func (r *runner) retry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		r.logger.Debug("Step failed, retrying.", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
