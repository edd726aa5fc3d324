// internal/browser/context.go
package browser

import "context"

// CombineContext derives a context from primary that is also cancelled when
// secondary is done. Values come from primary only: for chromedp, primary
// carries the tab and secondary carries the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
