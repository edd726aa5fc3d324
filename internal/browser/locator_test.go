// internal/browser/locator_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kepco-scraper/internal/config"
)

func TestFromConfig(t *testing.T) {
	testCases := []struct {
		in   config.LocatorConfig
		want Locator
	}{
		{config.ID("year"), ID("year")},
		{config.CSS("#intro_form input"), CSS("#intro_form input")},
		{config.XPath("//a"), XPath("//a")},
		{config.LocatorConfig{By: "XPATH", Value: "//td"}, XPath("//td")},
		{config.LocatorConfig{Value: "//td"}, XPath("//td")},
	}
	for _, tc := range testCases {
		got, err := FromConfig(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := FromConfig(config.LocatorConfig{By: "link-text", Value: "x"})
	assert.Error(t, err)
}

func TestLocatorExpand(t *testing.T) {
	loc := XPath("//*[@id='{row}']/td[1]/a[text()='{account}']")
	got := loc.Expand(config.PlaceholderRow, "r7", config.PlaceholderAccount, "0123")
	assert.Equal(t, "//*[@id='r7']/td[1]/a[text()='0123']", got.Value)
	assert.Equal(t, ByXPath, got.By)
	assert.Equal(t, loc, loc.Expand(), "no pairs leaves the locator unchanged")
}

func TestJSLookupQuotesValues(t *testing.T) {
	assert.Equal(t, `document.getElementById("grid")`, ID("grid").jsLookup())
	assert.Equal(t, `document.querySelector("a[title=\"x\"]")`, CSS(`a[title="x"]`).jsLookup())
	assert.Contains(t, XPath("//*[@id='grid']/tbody").jsLookup(), `document.evaluate("//*[@id='grid']/tbody"`)
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, "id=year", ID("year").String())
	assert.True(t, Locator{}.IsZero())
}
