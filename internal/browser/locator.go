// internal/browser/locator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/kepco-scraper/internal/config"
)

// Strategy selects how a locator expression is interpreted.
type Strategy string

const (
	ByID    Strategy = config.ByID
	ByXPath Strategy = config.ByXPath
	ByCSS   Strategy = config.ByCSS
)

// Locator identifies an element within the rendered page.
type Locator struct {
	By    Strategy
	Value string
}

func ID(v string) Locator    { return Locator{By: ByID, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }
func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }

func (l Locator) String() string { return string(l.By) + "=" + l.Value }

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Value == "" }

// Expand substitutes each placeholder in the locator value. Pairs are given as
// placeholder, replacement, placeholder, replacement...
func (l Locator) Expand(pairs ...string) Locator {
	if len(pairs) == 0 {
		return l
	}
	l.Value = strings.NewReplacer(pairs...).Replace(l.Value)
	return l
}

// FromConfig converts a configured locator, defaulting the strategy to XPath
// when it is omitted.
func FromConfig(c config.LocatorConfig) (Locator, error) {
	switch Strategy(strings.ToLower(c.By)) {
	case ByID:
		return ID(c.Value), nil
	case ByCSS:
		return CSS(c.Value), nil
	case ByXPath, "":
		return XPath(c.Value), nil
	}
	return Locator{}, fmt.Errorf("unknown locator strategy %q", c.By)
}

// queryOption maps the strategy onto chromedp's selector options.
func (l Locator) queryOption() chromedp.QueryOption {
	switch l.By {
	case ByID:
		return chromedp.ByID
	case ByCSS:
		return chromedp.ByQuery
	default:
		return chromedp.BySearch
	}
}

// jsLookup returns a JS expression that evaluates to the element or null.
func (l Locator) jsLookup() string {
	v := jsString(l.Value)
	switch l.By {
	case ByID:
		return "document.getElementById(" + v + ")"
	case ByCSS:
		return "document.querySelector(" + v + ")"
	default:
		return "document.evaluate(" + v + ", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue"
	}
}
