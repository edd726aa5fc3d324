// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// selectOptionJS runs with `this` bound to an <option>.
const selectOptionJS = `function() {
	const sel = this.closest('select');
	this.selected = true;
	if (sel) {
		sel.value = this.value;
		sel.dispatchEvent(new Event('input', { bubbles: true }));
		sel.dispatchEvent(new Event('change', { bubbles: true }));
	}
	return true;
}`

// Session is a chromedp browser tab implementing PageWithChildren.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// actionTimeout bounds a single call when the caller's context has no
	// deadline of its own.
	actionTimeout time.Duration

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ PageWithChildren = (*Session)(nil)

// NewSession wraps an attached chromedp context. cancel releases the tab and
// onClose, if set, runs once after it.
func NewSession(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, actionTimeout time.Duration, onClose func()) *Session {
	id := uuid.New().String()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:            id,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.With(zap.String("session_id", id)),
		actionTimeout: actionTimeout,
		onClose:       onClose,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return faults.New(faults.NavigationFailed, "navigate "+url, err)
	}
	return nil
}

// Back goes one entry back in the tab history.
func (s *Session) Back(ctx context.Context) error {
	if err := s.run(ctx, chromedp.NavigateBack()); err != nil {
		return faults.New(faults.NavigationFailed, "back", err)
	}
	return nil
}

// FindElement returns the first node matching loc, or an ElementNotFound error.
func (s *Session) FindElement(ctx context.Context, loc Locator) (ElementRef, error) {
	refs, err := s.FindAll(ctx, loc)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, faults.Newf(faults.ElementNotFound, "find", "no element matches %s", loc)
	}
	return refs[0], nil
}

// FindAll returns every node matching loc in document order. No match is an
// empty slice, not an error.
func (s *Session) FindAll(ctx context.Context, loc Locator) ([]ElementRef, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(loc.Value, &nodes, loc.queryOption(), chromedp.AtLeast(0))); err != nil {
		return nil, faults.New(faults.ElementNotFound, "find "+loc.String(), err)
	}
	refs := make([]ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, ElementRef(n.NodeID))
	}
	return refs, nil
}

// Click dispatches a mouse click at the centre of the node.
func (s *Session) Click(ctx context.Context, ref ElementRef) error {
	if err := s.run(ctx, chromedp.Click(nodeIDs(ref), chromedp.ByNodeID)); err != nil {
		return faults.New(faults.ClickFailed, "click", err)
	}
	return nil
}

// Type clears the field and sends text as key events.
func (s *Session) Type(ctx context.Context, ref ElementRef, text string) error {
	err := s.run(ctx,
		chromedp.Clear(nodeIDs(ref), chromedp.ByNodeID),
		chromedp.SendKeys(nodeIDs(ref), text, chromedp.ByNodeID),
	)
	if err != nil {
		return faults.New(faults.ElementNotFound, "type", err)
	}
	return nil
}

// Text returns the rendered text of the node.
func (s *Session) Text(ctx context.Context, ref ElementRef) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(nodeIDs(ref), &text, chromedp.ByNodeID)); err != nil {
		return "", faults.New(faults.ElementNotFound, "text", err)
	}
	return text, nil
}

// Attribute reads an attribute. ok is false when the node does not carry it.
func (s *Session) Attribute(ctx context.Context, ref ElementRef, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := s.run(ctx, chromedp.AttributeValue(nodeIDs(ref), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, faults.New(faults.ElementNotFound, "attribute "+name, err)
	}
	return value, ok, nil
}

// Select marks an <option> selected and fires change on its <select>.
func (s *Session) Select(ctx context.Context, option ElementRef) error {
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(cdp.NodeID(option)).Do(c)
		if err != nil {
			return err
		}
		_, exc, err := runtime.CallFunctionOn(selectOptionJS).WithObjectID(obj.ObjectID).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return nil
	}))
	if err != nil {
		return faults.New(faults.OptionNotFound, "select", err)
	}
	return nil
}

// Evaluate runs script in the page and decodes its result into res, which
// may be nil.
func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, res)); err != nil {
		return faults.New(faults.ScriptExecutionFailed, "evaluate", err)
	}
	return nil
}

// childIDsResult distinguishes a missing container from an empty one.
type childIDsResult struct {
	Found bool     `json:"found"`
	IDs   []string `json:"ids"`
}

// QueryChildIdentifiers evaluates a DOM query returning the id attribute of
// every direct child of the container.
func (s *Session) QueryChildIdentifiers(ctx context.Context, container Locator) ([]string, error) {
	script := fmt.Sprintf(`(function() {
	const el = %s;
	if (!el) { return { found: false, ids: [] }; }
	return { found: true, ids: Array.from(el.children, c => c.id || "") };
})()`, container.jsLookup())

	var res childIDsResult
	if err := s.Evaluate(ctx, script, &res); err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, faults.Newf(faults.ElementNotFound, "children", "container %s not found", container)
	}
	return res.IDs, nil
}

// DeleteCookies clears every cookie in the browser.
func (s *Session) DeleteCookies(ctx context.Context) error {
	return s.run(ctx, network.ClearBrowserCookies())
}

// Close cancels the tab context. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// run executes actions bound to both the tab lifetime and the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if _, ok := ctx.Deadline(); !ok && s.actionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, s.actionTimeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("Browser action timed out.", zap.Error(err))
	}
	return err
}

func nodeIDs(ref ElementRef) []cdp.NodeID { return []cdp.NodeID{cdp.NodeID(ref)} }

// jsString renders v as a JavaScript string literal.
func jsString(v string) string {
	out, err := json.MarshalToString(v)
	if err != nil {
		return `""`
	}
	return out
}
