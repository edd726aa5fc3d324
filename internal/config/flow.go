// File: internal/config/flow.go
package config

import (
	"fmt"
	"time"
)

// Locator strategies understood by the browser layer.
const (
	ByID    = "id"
	ByXPath = "xpath"
	ByCSS   = "css"
)

// Placeholders expanded inside locator values and step values.
const (
	PlaceholderRow     = "{row}"
	PlaceholderAccount = "{account}"
	PlaceholderUserID  = "{userId}"
	PlaceholderUserNum = "{userNum}"
)

// Step actions available to navigation and period search sequences.
const (
	ActionClick   = "click"
	ActionSelect  = "select"
	ActionType    = "type"
	ActionWait    = "wait"
	ActionOverlay = "overlay"
	ActionScript  = "script"
	ActionBack    = "back"
)

// Overlay match modes.
const (
	MatchContains = "contains"
	MatchEquals   = "equals"
)

// Period start modes.
const (
	StartAtIndex     = "index"
	StartAfterOldest = "after_oldest"
)

// LocatorConfig names an element by strategy and expression.
type LocatorConfig struct {
	By    string `mapstructure:"by" yaml:"by"`
	Value string `mapstructure:"value" yaml:"value"`
}

// IsZero reports whether the locator is unset.
func (l LocatorConfig) IsZero() bool { return l.Value == "" }

// ID, XPath and CSS are shorthands for building locators.
func ID(v string) LocatorConfig    { return LocatorConfig{By: ByID, Value: v} }
func XPath(v string) LocatorConfig { return LocatorConfig{By: ByXPath, Value: v} }
func CSS(v string) LocatorConfig   { return LocatorConfig{By: ByCSS, Value: v} }

// FlowConfig is the full description of one portal: where to log in, how to
// reach the report, where the rows live and how to page through periods.
type FlowConfig struct {
	BaseURL    string           `mapstructure:"base_url" yaml:"base_url"`
	EntryPath  string           `mapstructure:"entry_path" yaml:"entry_path"`
	Overlay    OverlayConfig    `mapstructure:"overlay" yaml:"overlay"`
	Login      LoginConfig      `mapstructure:"login" yaml:"login"`
	Navigation NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	Rows       RowsConfig       `mapstructure:"rows" yaml:"rows"`
	Periods    PeriodsConfig    `mapstructure:"periods" yaml:"periods"`
}

// OverlayConfig describes the loading indicator and its hidden signal.
type OverlayConfig struct {
	Locator   LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Attribute string        `mapstructure:"attribute" yaml:"attribute"`
	Marker    string        `mapstructure:"marker" yaml:"marker"`
	Match     string        `mapstructure:"match" yaml:"match"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LoginConfig holds the locators of the authentication form.
type LoginConfig struct {
	Notice        LocatorConfig   `mapstructure:"notice" yaml:"notice"`
	NoticeDismiss LocatorConfig   `mapstructure:"notice_dismiss" yaml:"notice_dismiss"`
	Openers       []LocatorConfig `mapstructure:"openers" yaml:"openers"`
	Identifier    LocatorConfig   `mapstructure:"identifier" yaml:"identifier"`
	Secret        LocatorConfig   `mapstructure:"secret" yaml:"secret"`
	Submit        LocatorConfig   `mapstructure:"submit" yaml:"submit"`
	AccountMenu   LocatorConfig   `mapstructure:"account_menu" yaml:"account_menu"`
	// AccountEntry is expanded with {account}.
	AccountEntry LocatorConfig `mapstructure:"account_entry" yaml:"account_entry"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	WaitInterval time.Duration `mapstructure:"wait_interval" yaml:"wait_interval"`
}

// StepConfig is one browser action in a scripted sequence.
type StepConfig struct {
	Action  string        `mapstructure:"action" yaml:"action"`
	Locator LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Value   string        `mapstructure:"value" yaml:"value"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
}

// NavigationConfig describes how to reach the report page after login.
type NavigationConfig struct {
	// Link, when set, is an href-bearing element whose target is appended to
	// the base URL.
	Link  LocatorConfig `mapstructure:"link" yaml:"link"`
	Steps []StepConfig  `mapstructure:"steps" yaml:"steps"`
}

// FieldConfig locates one cell of a row. Locator values are expanded with {row}.
type FieldConfig struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Locator  LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Index    int           `mapstructure:"index" yaml:"index"`
	Required bool          `mapstructure:"required" yaml:"required"`
}

// RowsConfig describes where records are rendered.
type RowsConfig struct {
	Container LocatorConfig `mapstructure:"container" yaml:"container"`
	// Self treats the container as the only row, keyed by its id.
	Self        bool          `mapstructure:"self" yaml:"self"`
	Fields      []FieldConfig `mapstructure:"fields" yaml:"fields"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// PeriodsConfig describes the historical period selector.
type PeriodsConfig struct {
	Select     LocatorConfig `mapstructure:"select" yaml:"select"`
	StartMode  string        `mapstructure:"start_mode" yaml:"start_mode"`
	StartIndex int           `mapstructure:"start_index" yaml:"start_index"`
	// LabelLayout formats a claim date into an option label for after_oldest.
	LabelLayout string        `mapstructure:"label_layout" yaml:"label_layout"`
	Prepare     []StepConfig  `mapstructure:"prepare" yaml:"prepare"`
	Search      []StepConfig  `mapstructure:"search" yaml:"search"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Rows overrides the row layout on period pages when it differs.
	Rows *RowsConfig `mapstructure:"rows" yaml:"rows"`
}

// Enabled reports whether the flow pages through historical periods.
func (p PeriodsConfig) Enabled() bool { return !p.Select.IsZero() }

// Validate checks that a flow has everything the pipeline dereferences.
func (f *FlowConfig) Validate() error {
	if f.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if f.Overlay.Locator.IsZero() || f.Overlay.Attribute == "" {
		return fmt.Errorf("overlay.locator and overlay.attribute are required")
	}
	switch f.Overlay.Match {
	case "", MatchContains, MatchEquals:
	default:
		return fmt.Errorf("overlay.match %q is not one of contains, equals", f.Overlay.Match)
	}
	if f.Login.Identifier.IsZero() || f.Login.Secret.IsZero() || f.Login.Submit.IsZero() {
		return fmt.Errorf("login.identifier, login.secret and login.submit are required")
	}
	if f.Login.AccountMenu.IsZero() != f.Login.AccountEntry.IsZero() {
		return fmt.Errorf("login.account_menu and login.account_entry must be set together")
	}
	if err := f.Rows.validate("rows"); err != nil {
		return err
	}
	if f.Periods.Rows != nil {
		if err := f.Periods.Rows.validate("periods.rows"); err != nil {
			return err
		}
	}
	for _, steps := range [][]StepConfig{f.Navigation.Steps, f.Periods.Prepare, f.Periods.Search} {
		for i, s := range steps {
			if err := s.validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

func (r *RowsConfig) validate(prefix string) error {
	if r.Container.IsZero() {
		return fmt.Errorf("%s.container is required", prefix)
	}
	if r.Self && r.Container.By != ByID {
		return fmt.Errorf("%s.self requires an id container", prefix)
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("%s.fields must not be empty", prefix)
	}
	if r.Concurrency < 0 {
		return fmt.Errorf("%s.concurrency must not be negative", prefix)
	}
	for _, f := range r.Fields {
		switch f.Name {
		case FieldClaimDate, FieldDateRange, FieldUsage, FieldAmount, FieldPaid, FieldUnpaid, FieldPayment:
		default:
			return fmt.Errorf("%s.fields: unknown field %q", prefix, f.Name)
		}
		if f.Locator.IsZero() || f.Index < 0 {
			return fmt.Errorf("%s.fields.%s needs a locator and a non-negative index", prefix, f.Name)
		}
	}
	return nil
}

func (s StepConfig) validate() error {
	switch s.Action {
	case ActionClick, ActionSelect, ActionType, ActionWait:
		if s.Locator.IsZero() {
			return fmt.Errorf("%s needs a locator", s.Action)
		}
	case ActionScript:
		if s.Value == "" {
			return fmt.Errorf("script needs a value")
		}
	case ActionOverlay, ActionBack:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// DefaultFlows returns the built-in portal descriptions.
func DefaultFlows() map[string]FlowConfig {
	return map[string]FlowConfig{
		"pp":       ppFlow(),
		"kepco-on": kepcoOnFlow(),
	}
}

func ppFlow() FlowConfig {
	return FlowConfig{
		BaseURL:   "https://pp.kepco.co.kr",
		EntryPath: "/intro.do",
		Overlay: OverlayConfig{
			Locator:   ID("backgroundLayer"),
			Attribute: "style",
			Marker:    "display: none",
			Match:     MatchContains,
			Timeout:   20 * time.Second,
			Interval:  500 * time.Millisecond,
		},
		Login: LoginConfig{
			Notice:        ID("notice_auto_popup"),
			NoticeDismiss: XPath("/html/body/div[2]/div[3]/label"),
			Identifier:    ID("RSA_USER_ID"),
			Secret:        ID("RSA_USER_PWD"),
			Submit:        CSS("#intro_form > form > fieldset > input.intro_btn"),
			AccountMenu:   XPath("/html/body/div[1]/div[1]/div/div/a[2]"),
			AccountEntry:  XPath("/html/body/div[1]/div[1]/div/div/ul/li[1]/a[text()='{account}']"),
			WaitTimeout:   20 * time.Second,
			WaitInterval:  500 * time.Millisecond,
		},
		Navigation: NavigationConfig{
			Link: XPath("/html/body/div[1]/div[2]/div[1]/ul[4]/li[5]/a"),
		},
		Rows: RowsConfig{
			Container: XPath("//*[@id='grid']/tbody"),
			Fields: []FieldConfig{
				{Name: FieldClaimDate, Locator: XPath("//*[@id='{row}']/td[1]/a/span"), Required: true},
				{Name: FieldUsage, Locator: XPath("//*[@id='{row}']/td[4]"), Required: true},
				{Name: FieldPaid, Locator: XPath("//*[@id='{row}']/td[8]"), Required: true},
			},
		},
		Periods: PeriodsConfig{
			Select:     ID("year"),
			StartMode:  StartAtIndex,
			StartIndex: 1,
			Search: []StepConfig{
				{Action: ActionClick, Locator: XPath("//*[@id='txt']/div[2]/p/span[1]/a")},
			},
			Timeout: 10 * time.Second,
		},
	}
}

func kepcoOnFlow() FlowConfig {
	const (
		overlayID = "mf_wq_uuid_1_wq_processMsgComp"
		custNo    = "mf_wfm_layout_inp_searchCustNo"
		search    = "mf_wfm_layout_btn_search"
		detail    = "mf_wfm_layout_ui_generator_0_btn_moveDetail"
		generator = "mf_wfm_layout_ui_generator"
		yearMonth = "mf_wfm_layout_slb_searchYm_input_0"
	)
	span := func(suffix string) LocatorConfig {
		return XPath("//*[@id='{row}']//span[contains(@id, '" + suffix + "')]")
	}
	return FlowConfig{
		BaseURL:   "https://online.kepco.co.kr",
		EntryPath: "/",
		Overlay: OverlayConfig{
			Locator:   ID(overlayID),
			Attribute: "aria-hidden",
			Marker:    "true",
			Match:     MatchEquals,
			Timeout:   20 * time.Second,
			Interval:  time.Second,
		},
		Login: LoginConfig{
			Openers: []LocatorConfig{
				ID("mf_wfm_header_gnb_btnSiteMap"),
				ID("mf_wfm_header_gnb_mobileGoLogin"),
			},
			Identifier:   ID("mf_wfm_header_gnb_login_popup_wframe_ui_id"),
			Secret:       ID("mf_wfm_header_gnb_login_popup_wframe_ui_pw"),
			Submit:       ID("mf_wfm_header_gnb_login_popup_wframe_btn_login"),
			WaitTimeout:  20 * time.Second,
			WaitInterval: time.Second,
		},
		Navigation: NavigationConfig{
			Steps: []StepConfig{
				{Action: ActionClick, Locator: XPath("/html/body/div[2]/div[3]/div/div/div[4]/div/div[2]/div[1]/a[3]"), Retries: 10},
				{Action: ActionWait, Locator: ID(custNo)},
				{Action: ActionOverlay},
				{Action: ActionType, Locator: ID(custNo), Value: PlaceholderUserNum},
				{Action: ActionClick, Locator: ID(search)},
				{Action: ActionWait, Locator: ID(detail)},
				{Action: ActionScript, Value: "window.scrollTo(0, document.body.scrollHeight);"},
				{Action: ActionClick, Locator: ID(detail)},
				{Action: ActionSelect, Locator: XPath("//option[text()='1년']"), Retries: 10},
				{Action: ActionOverlay},
			},
		},
		Rows: RowsConfig{
			Container: ID(generator),
			Fields: []FieldConfig{
				{Name: FieldClaimDate, Locator: span("_txt_payYm"), Required: true},
				{Name: FieldDateRange, Locator: span("_txt_gigan")},
				{Name: FieldUsage, Locator: span("_txt_useKwh")},
				{Name: FieldAmount, Locator: span("_txt_monthPay")},
				{Name: FieldPaid, Locator: span("_txt_pay"), Index: 1},
				{Name: FieldUnpaid, Locator: span("_txt_payAmt")},
				{Name: FieldPayment, Locator: span("_txt_payGubnNDay")},
			},
		},
		Periods: PeriodsConfig{
			Select:      ID(yearMonth),
			StartMode:   StartAfterOldest,
			LabelLayout: "2006년 01월",
			Prepare: []StepConfig{
				{Action: ActionBack},
				{Action: ActionWait, Locator: ID(yearMonth)},
				{Action: ActionOverlay},
			},
			Search: []StepConfig{
				{Action: ActionOverlay},
				{Action: ActionType, Locator: ID(custNo), Value: PlaceholderUserNum},
				{Action: ActionClick, Locator: ID(search)},
				{Action: ActionWait, Locator: ID(generator)},
			},
			Timeout: 20 * time.Second,
			Rows: &RowsConfig{
				Container: ID(generator),
				Self:      true,
				Fields: []FieldConfig{
					{Name: FieldClaimDate, Locator: span("_txt_payYm"), Required: true},
					{Name: FieldUsage, Locator: span("_txt_useKwh")},
					{Name: FieldAmount, Locator: span("_txt_monthPay")},
					{Name: FieldPaid, Locator: span("_txt_pay"), Index: 1},
					{Name: FieldUnpaid, Locator: span("_txt_payAmt")},
					{Name: FieldPayment, Locator: span("_txt_payGubn")},
				},
			},
		},
	}
}

// Field names recognised by the row extractor.
const (
	FieldClaimDate = "claim_date"
	FieldDateRange = "date_range"
	FieldUsage     = "usage"
	FieldAmount    = "amount"
	FieldPaid      = "paid"
	FieldUnpaid    = "unpaid"
	FieldPayment   = "payment"
)
