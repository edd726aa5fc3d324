// internal/portal/navigation.go
package portal

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

// NavigationFlow moves a logged-in page to the billing report.
type NavigationFlow struct {
	r *runner
}

func NewNavigationFlow(flow *Flow, page browser.Page, req schemas.FetchRequest, logger *zap.Logger) *NavigationFlow {
	return &NavigationFlow{r: &runner{flow: flow, page: page, vars: vars(req), logger: logger}}
}

// Run follows the configured link, if any, then the step list. Every failure
// is fatal.
func (n *NavigationFlow) Run(ctx context.Context) error {
	r := n.r
	if !r.flow.NavLink.IsZero() {
		ref, err := r.page.FindElement(ctx, r.flow.NavLink)
		if err != nil {
			return faults.Wrap("navigate.link", err)
		}
		href, ok, err := r.page.Attribute(ctx, ref, "href")
		if err != nil {
			return faults.Wrap("navigate.link", err)
		}
		if !ok {
			r.logger.Warn("Report link has no href, falling back to the base URL.", zap.Stringer("locator", r.flow.NavLink))
		}
		target := joinURL(r.flow.BaseURL, href)
		r.logger.Debug("Following report link.", zap.String("url", target))
		if err := r.page.Navigate(ctx, target); err != nil {
			return err
		}
		if err := r.waitOverlay(ctx, 0); err != nil {
			return faults.Wrap("navigate.overlay", err)
		}
	}
	return r.run(ctx, r.flow.NavSteps)
}
