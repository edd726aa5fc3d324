package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/browser/browsertest"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

func loginStates(logs *observer.ObservedLogs) []string {
	var states []string
	for _, e := range logs.FilterMessage("Login state.").All() {
		states = append(states, e.ContextMap()["state"].(string))
	}
	return states
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("pp walks every state", func(t *testing.T) {
		site := newPPSite([]string{"2024"}, nil)
		core, logs := observer.New(zapcore.DebugLevel)
		login := NewLoginFlow(compileFast(t, "pp"), site, testRequest, zap.New(core))

		require.NoError(t, login.Run(ctx, testRequest.UserPw))
		assert.Equal(t, StateLoggedIn, login.State())
		assert.Equal(t, []string{
			"Start", "NoticeDismissed", "CredentialsFormReady", "CredentialsSubmitted",
			"OverlayCleared", "AccountMenuOpen", "AccountSelected", "LoggedIn",
		}, loginStates(logs))

		assert.Equal(t, "alice", site.Value(browser.ID("RSA_USER_ID")))
		assert.Equal(t, "s3cret!", site.Value(browser.ID("RSA_USER_PWD")))
		assert.Equal(t, []string{
			"navigate https://pp.kepco.co.kr/intro.do",
			"click #notice_close",
			"type #RSA_USER_ID",
			"type #RSA_USER_PWD",
			"click input()",
			"click #account_menu",
			"click a(0123456789)",
		}, site.Actions())

		for _, e := range logs.All() {
			assert.NotContains(t, e.Message, testRequest.UserPw)
			for _, v := range e.ContextMap() {
				assert.NotEqual(t, testRequest.UserPw, v)
			}
		}
	})

	t.Run("missing notice is not fatal", func(t *testing.T) {
		site := newPPSite([]string{"2024"}, nil)
		site.noNotice = true
		login := NewLoginFlow(compileFast(t, "pp"), site, testRequest, zap.NewNop())
		require.NoError(t, login.Run(ctx, testRequest.UserPw))
		assert.Equal(t, StateLoggedIn, login.State())
	})

	t.Run("unknown account", func(t *testing.T) {
		site := newPPSite([]string{"2024"}, nil)
		site.accounts = []string{"9999999999"}
		login := NewLoginFlow(compileFast(t, "pp"), site, testRequest, zap.NewNop())

		err := login.Run(ctx, testRequest.UserPw)
		require.Error(t, err)
		assert.Equal(t, faults.OptionNotFound, faults.KindOf(err))
		assert.Equal(t, StateFailed, login.State())
	})

	t.Run("overlay never clears", func(t *testing.T) {
		site := newPPSite([]string{"2024"}, nil)
		site.OnClick(browser.CSS("input.intro_btn"), func(p *browsertest.Page) {
			p.SetAttr(browser.ID("backgroundLayer"), "style", "display: block;")
		})
		login := NewLoginFlow(compileFast(t, "pp"), site, testRequest, zap.NewNop())

		err := login.Run(ctx, testRequest.UserPw)
		assert.Equal(t, faults.WaitTimeout, faults.KindOf(err))
		assert.Equal(t, StateFailed, login.State())
	})

	t.Run("overlay clears after a while", func(t *testing.T) {
		site := newPPSite([]string{"2024"}, nil)
		site.OnClick(browser.CSS("input.intro_btn"), func(p *browsertest.Page) {
			p.SetAttr(browser.ID("backgroundLayer"), "style", "display: block;")
			p.SetAttrAfter(20*time.Millisecond, browser.ID("backgroundLayer"), "style", "display: none;")
		})
		login := NewLoginFlow(compileFast(t, "pp"), site, testRequest, zap.NewNop())
		require.NoError(t, login.Run(ctx, testRequest.UserPw))
	})

	t.Run("entry page unreachable", func(t *testing.T) {
		login := NewLoginFlow(compileFast(t, "pp"), browsertest.New(), testRequest, zap.NewNop())
		err := login.Run(ctx, testRequest.UserPw)
		assert.Equal(t, faults.NavigationFailed, faults.KindOf(err))
		assert.Equal(t, StateFailed, login.State())
	})

	t.Run("kepco-on opens the form and skips the account menu", func(t *testing.T) {
		site := newKOSite(nil, nil, nil)
		core, logs := observer.New(zapcore.DebugLevel)
		login := NewLoginFlow(compileFast(t, "kepco-on"), site, testRequest, zap.New(core))

		require.NoError(t, login.Run(ctx, testRequest.UserPw))
		assert.Equal(t, []string{
			"Start", "NoticeDismissed", "CredentialsFormReady", "CredentialsSubmitted", "OverlayCleared", "LoggedIn",
		}, loginStates(logs))
		assert.Equal(t, "alice", site.Value(browser.ID("mf_wfm_header_gnb_login_popup_wframe_ui_id")))
	})
}

func TestLoginStateString(t *testing.T) {
	assert.Equal(t, "CredentialsFormReady", StateCredentialsFormReady.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "Unknown", LoginState(42).String())
}
