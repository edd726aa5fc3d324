package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/browser/browsertest"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
)

const (
	ppBase     = "https://pp.kepco.co.kr"
	ppClaimURL = ppBase + "/ex/claim.do"
	account    = "0123456789"
)

var testRequest = schemas.FetchRequest{UserID: "alice", UserPw: "s3cret!", UserNum: account}

func init() {
	retryInterval = 5 * time.Millisecond
}

// fastFlow shortens every wait of a built-in flow.
func fastFlow(t *testing.T, name string) config.FlowConfig {
	t.Helper()
	fc, ok := config.DefaultFlows()[name]
	if !ok {
		t.Fatalf("no built-in flow %q", name)
	}
	fc.Overlay.Timeout = 200 * time.Millisecond
	fc.Overlay.Interval = 5 * time.Millisecond
	fc.Login.WaitTimeout = 100 * time.Millisecond
	fc.Login.WaitInterval = 5 * time.Millisecond
	fc.Periods.Timeout = 200 * time.Millisecond
	return fc
}

func compileFast(t *testing.T, name string) *Flow {
	t.Helper()
	f, err := Compile(name, fastFlow(t, name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return f
}

// -- pp portal --

type ppRow struct {
	id, claim, usage, paid string
}

type ppSite struct {
	*browsertest.Page

	mu       sync.Mutex
	year     string
	years    []string
	rows     map[string][]ppRow
	noNotice bool
	accounts []string
}

func (s *ppSite) login() string {
	notice := `<div id="notice_auto_popup">notice</div>`
	if s.noNotice {
		notice = ""
	}
	var entries strings.Builder
	for _, a := range s.accounts {
		fmt.Fprintf(&entries, `<a>%s</a>`, a)
	}
	return `<html><body>
<div>
  <div><div><div><a>home</a><a id="account_menu">accounts</a><ul><li>` + entries.String() + `</li></ul></div></div></div>
  <div><div><ul></ul><ul></ul><ul></ul><ul><li></li><li></li><li></li><li></li><li><a id="claim_link" href="/ex/claim.do">monthly claims</a></li></ul></div></div>
  <div id="intro_form"><form><fieldset><input id="RSA_USER_ID"><input id="RSA_USER_PWD"><input class="intro_btn" type="submit" value="login"></fieldset></form></div>
</div>
<div><div></div><div></div><div><label id="notice_close">close</label></div></div>
` + notice + `
<div id="backgroundLayer" style="display: none;"></div>
</body></html>`
}

func (s *ppSite) claims() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var opts, rows strings.Builder
	for _, y := range s.years {
		sel := ""
		if y == s.year {
			sel = " selected"
		}
		fmt.Fprintf(&opts, `<option%s>%s</option>`, sel, y)
	}
	grid := ""
	if list, ok := s.rows[s.year]; ok {
		for _, r := range list {
			fmt.Fprintf(&rows, `<tr id="%s"><td><a><span>%s</span></a></td><td></td><td></td><td>%s</td><td></td><td></td><td></td><td>%s</td></tr>`,
				r.id, r.claim, r.usage, r.paid)
		}
		grid = `<table id="grid"><tbody>` + rows.String() + `</tbody></table>`
	}
	return `<html><body>
<select id="year">` + opts.String() + `</select>
<div id="txt"><div></div><div><p><span><a id="search">search</a></span></p></div></div>
` + grid + `
<div id="backgroundLayer" style="display: none;"></div>
</body></html>`
}

// newPPSite serves the pp login and claim pages. rows is keyed by the year
// option label; the first year is the landing page.
func newPPSite(years []string, rows map[string][]ppRow) *ppSite {
	s := &ppSite{
		Page:     browsertest.New(),
		year:     years[0],
		years:    years,
		rows:     rows,
		accounts: []string{account},
	}
	s.RouteFunc(ppBase+"/intro.do", s.login)
	s.RouteFunc(ppClaimURL, s.claims)
	s.OnClick(browser.XPath("//*[@id='txt']/div[2]/p/span[1]/a"), func(p *browsertest.Page) {
		label := p.SelectedLabel(browser.ID("year"))
		s.mu.Lock()
		s.year = label
		s.mu.Unlock()
		_ = p.Load(ppClaimURL)
	})
	return s
}

// -- kepco-on portal --

const (
	koBase      = "https://online.kepco.co.kr"
	koEntry     = koBase + "/"
	koSearchURL = koBase + "/bill"
	koListURL   = koBase + "/bill/list"
	koMonthURL  = koBase + "/bill/month"
	koOverlay   = `<div id="mf_wq_uuid_1_wq_processMsgComp" aria-hidden="true"></div>`
)

type koMonth struct {
	claim, gigan, kwh, monthPay, pay, payAmt, payment string
}

func (m koMonth) spans(prefix string, paymentSuffix string) string {
	return fmt.Sprintf(`<span id="%[1]s_txt_payYm">%[2]s</span>`+
		`<span id="%[1]s_txt_pay">%[6]s</span>`+
		`<span id="%[1]s_txt_gigan">%[3]s</span>`+
		`<span id="%[1]s_txt_useKwh">%[4]s</span>`+
		`<span id="%[1]s_txt_monthPay">%[5]s</span>`+
		`<span id="%[1]s_txt_payAmt">%[7]s</span>`+
		`<span id="%[1]s%[9]s">%[8]s</span>`,
		prefix, m.claim, m.gigan, m.kwh, m.monthPay, m.pay, m.payAmt, m.payment, paymentSuffix)
}

type koSite struct {
	*browsertest.Page

	mu      sync.Mutex
	month   string
	options []string
	list    []koMonth
	months  map[string]koMonth
}

func (s *koSite) searchForm(selected string) string {
	var opts strings.Builder
	for _, o := range s.options {
		sel := ""
		if o == selected {
			sel = " selected"
		}
		fmt.Fprintf(&opts, `<option%s>%s</option>`, sel, o)
	}
	return `<select id="mf_wfm_layout_slb_searchYm_input_0">` + opts.String() + `</select>
<input id="mf_wfm_layout_inp_searchCustNo"><a id="mf_wfm_layout_btn_search">search</a>`
}

func (s *koSite) entry() string {
	return `<html><body>
<div></div>
<div>
  <div></div><div></div>
  <div><div><div><div></div><div></div><div></div>
    <div><div><div></div><div><div><a></a><a></a><a id="bill_menu">bills</a></div></div></div></div>
  </div></div></div>
</div>
<a id="mf_wfm_header_gnb_btnSiteMap">menu</a>
<a id="mf_wfm_header_gnb_mobileGoLogin">login</a>
<input id="mf_wfm_header_gnb_login_popup_wframe_ui_id">
<input id="mf_wfm_header_gnb_login_popup_wframe_ui_pw">
<a id="mf_wfm_header_gnb_login_popup_wframe_btn_login">go</a>
` + koOverlay + `
</body></html>`
}

func (s *koSite) search() string {
	return `<html><body>` + s.searchForm("") + koOverlay + `</body></html>`
}

func (s *koSite) listPage() string {
	var rows strings.Builder
	for i, m := range s.list {
		prefix := fmt.Sprintf("mf_wfm_layout_ui_generator_%d", i)
		fmt.Fprintf(&rows, `<div id="%s">%s</div>`, prefix, m.spans(prefix, "_txt_payGubnNDay"))
	}
	return `<html><body>
<a id="mf_wfm_layout_ui_generator_0_btn_moveDetail">detail</a>
<select><option>6개월</option><option>1년</option></select>
<div id="mf_wfm_layout_ui_generator">` + rows.String() + `</div>
` + koOverlay + `
</body></html>`
}

func (s *koSite) monthPage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := s.searchForm(s.month)
	if m, ok := s.months[s.month]; ok {
		body += `<div id="mf_wfm_layout_ui_generator">` + m.spans("mf_wfm_layout_ui_generator_m", "_txt_payGubn") + `</div>`
	}
	return `<html><body>` + body + koOverlay + `</body></html>`
}

// newKOSite serves the kepco-on flow: entry, customer search, the one-year
// list and the per-month search results.
func newKOSite(options []string, list []koMonth, months map[string]koMonth) *koSite {
	s := &koSite{Page: browsertest.New(), options: options, list: list, months: months}
	s.RouteFunc(koEntry, s.entry)
	s.RouteFunc(koSearchURL, s.search)
	s.RouteFunc(koListURL, s.listPage)
	s.RouteFunc(koMonthURL, s.monthPage)
	s.OnClick(browser.ID("bill_menu"), func(p *browsertest.Page) { _ = p.Load(koSearchURL) })
	s.OnClick(browser.ID("mf_wfm_layout_btn_search"), func(p *browsertest.Page) {
		if p.URL() == koSearchURL && p.SelectedLabel(browser.ID("mf_wfm_layout_slb_searchYm_input_0")) == "" {
			_ = p.Load(koListURL)
			return
		}
		label := p.SelectedLabel(browser.ID("mf_wfm_layout_slb_searchYm_input_0"))
		s.mu.Lock()
		s.month = label
		s.mu.Unlock()
		_ = p.Load(koMonthURL)
	})
	return s
}

// -- session provider --

type fakeSessions struct {
	page     browser.PageWithChildren
	err      error
	acquired int
	testMode bool
}

func (f *fakeSessions) Acquire(ctx context.Context, testMode bool, fn browser.SessionFunc) error {
	f.acquired++
	f.testMode = testMode
	if f.err != nil {
		return f.err
	}
	defer func() {
		_ = f.page.DeleteCookies(context.Background())
		_ = f.page.Close()
	}()
	return fn(ctx, f.page)
}

func date(y int, m time.Month, d int) *schemas.Date {
	return schemas.NewDate(y, m, d).Ptr()
}

func strPtr(s string) *string { return &s }
