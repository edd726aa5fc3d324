// internal/browser/options.go
package browser

import (
	"fmt"
	"strconv"

	"github.com/xkilldash9x/kepco-scraper/internal/config"
)

// baseFlags keep a throwaway profile quiet: no translate bar, no first-run
// UI, no background throttling of the single tab in use.
var baseFlags = []string{
	"--disable-translate",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-client-side-phishing-detection",
	"--disable-default-apps",
	"--disable-features=TranslateUI",
	"--disable-popup-blocking",
	"--no-first-run",
	"--no-default-browser-check",
	"--mute-audio",
}

// LaunchArgs builds the command line for a Chrome process serving DevTools
// on the loopback port.
func LaunchArgs(cfg config.BrowserConfig, port int, userDataDir string) []string {
	args := []string{
		"--remote-debugging-address=127.0.0.1",
		"--remote-debugging-port=" + strconv.Itoa(port),
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.DisableGPU {
		args = append(args, "--disable-gpu")
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight))
	}
	if userDataDir != "" {
		args = append(args, "--user-data-dir="+userDataDir)
	}
	args = append(args, baseFlags...)
	args = append(args, cfg.Args...)
	// A blank first tab keeps Chrome from loading its new-tab page.
	return append(args, "about:blank")
}
