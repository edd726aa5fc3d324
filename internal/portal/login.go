// internal/portal/login.go
package portal

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

// LoginState is a step of the authentication state machine.
type LoginState int

const (
	StateStart LoginState = iota
	StateNoticeDismissed
	StateCredentialsFormReady
	StateCredentialsSubmitted
	StateOverlayCleared
	StateAccountMenuOpen
	StateAccountSelected
	StateLoggedIn
	StateFailed
)

var loginStateNames = [...]string{
	"Start",
	"NoticeDismissed",
	"CredentialsFormReady",
	"CredentialsSubmitted",
	"OverlayCleared",
	"AccountMenuOpen",
	"AccountSelected",
	"LoggedIn",
	"Failed",
}

func (s LoginState) String() string {
	if int(s) < len(loginStateNames) {
		return loginStateNames[s]
	}
	return "Unknown"
}

// LoginFlow authenticates against a portal. It is single use.
type LoginFlow struct {
	r     *runner
	state LoginState
}

// NewLoginFlow binds a flow description to a page.
func NewLoginFlow(flow *Flow, page browser.Page, req schemas.FetchRequest, logger *zap.Logger) *LoginFlow {
	return &LoginFlow{r: &runner{flow: flow, page: page, vars: vars(req), logger: logger}}
}

// State returns the last state reached.
func (l *LoginFlow) State() LoginState { return l.state }

func (l *LoginFlow) enter(s LoginState) {
	l.state = s
	l.r.logger.Debug("Login state.", zap.Stringer("state", s))
}

func (l *LoginFlow) fail(err error) error {
	from := l.state
	l.enter(StateFailed)
	l.r.logger.Debug("Login failed.", zap.Stringer("from", from), zap.Error(err))
	return err
}

// Run walks the state machine to LoggedIn. secret is typed but never logged.
func (l *LoginFlow) Run(ctx context.Context, secret string) error {
	r, lc := l.r, l.r.flow.Login
	l.enter(StateStart)

	if err := r.page.Navigate(ctx, r.flow.EntryURL); err != nil {
		return l.fail(err)
	}

	if !lc.Notice.IsZero() {
		if err := l.dismissNotice(ctx); err != nil {
			if ctx.Err() != nil {
				return l.fail(ctx.Err())
			}
			r.logger.Debug("Notice popup not dismissed.", zap.Error(err))
		}
	}
	l.enter(StateNoticeDismissed)

	for _, opener := range lc.Openers {
		if err := r.click(ctx, opener); err != nil {
			return l.fail(faults.Wrap("login.open", err))
		}
	}
	if _, err := r.waitPresent(ctx, lc.Identifier); err != nil {
		return l.fail(faults.Wrap("login.form", err))
	}
	l.enter(StateCredentialsFormReady)

	if err := r.typeInto(ctx, lc.Identifier, r.valueOf(config.PlaceholderUserID)); err != nil {
		return l.fail(faults.Wrap("login.identifier", err))
	}
	if err := r.typeInto(ctx, lc.Secret, secret); err != nil {
		return l.fail(faults.Wrap("login.secret", err))
	}
	if err := r.click(ctx, lc.Submit); err != nil {
		return l.fail(faults.Wrap("login.submit", err))
	}
	l.enter(StateCredentialsSubmitted)

	if err := r.waitOverlay(ctx, lc.WaitTimeout); err != nil {
		return l.fail(faults.Wrap("login.overlay", err))
	}
	l.enter(StateOverlayCleared)

	if !lc.AccountMenu.IsZero() {
		if err := r.click(ctx, lc.AccountMenu); err != nil {
			return l.fail(faults.Wrap("login.account_menu", err))
		}
		l.enter(StateAccountMenuOpen)

		entry := lc.AccountEntry.Expand(r.vars...)
		if err := r.click(ctx, entry); err != nil {
			if errors.Is(err, faults.Sentinel(faults.ElementNotFound)) {
				err = faults.Newf(faults.OptionNotFound, "login.account", "no account entry matches the requested account")
			}
			return l.fail(err)
		}
		l.enter(StateAccountSelected)

		if err := r.waitOverlay(ctx, lc.WaitTimeout); err != nil {
			return l.fail(faults.Wrap("login.account_overlay", err))
		}
	}

	l.enter(StateLoggedIn)
	return nil
}

func (l *LoginFlow) dismissNotice(ctx context.Context) error {
	r, lc := l.r, l.r.flow.Login
	if _, err := r.waitPresent(ctx, lc.Notice); err != nil {
		return err
	}
	if lc.NoticeDismiss.IsZero() {
		return nil
	}
	return r.click(ctx, lc.NoticeDismiss)
}

