// Package browsertest provides an in-memory browser.Page over static HTML so
// portal flows can be exercised without Chrome.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/kepco-scraper/internal/browser"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

// Hook runs after a click or select on a matching element. It may mutate the
// page through the methods that take the lock themselves.
type Hook func(p *Page)

type hook struct {
	loc browser.Locator
	fn  Hook
}

// Page is a fake browser tab. Routes map URLs to HTML documents.
type Page struct {
	mu sync.Mutex

	routes  map[string]func() string
	hooks   []hook
	doc     *html.Node
	url     string
	history []string

	refs   map[browser.ElementRef]*html.Node
	byNode map[*html.Node]browser.ElementRef
	next   browser.ElementRef

	// ReadDelay slows every Text call, widening race windows in tests.
	ReadDelay time.Duration
	// EvalErr, when set, fails every Evaluate call.
	EvalErr error

	actions        []string
	scripts        []string
	cookiesCleared bool
	closed         bool
}

var _ browser.PageWithChildren = (*Page)(nil)

// New returns an empty page with no routes.
func New() *Page {
	return &Page{routes: map[string]func() string{}}
}

// Route serves body at url.
func (p *Page) Route(url, body string) *Page {
	return p.RouteFunc(url, func() string { return body })
}

// RouteFunc serves the result of render at url, evaluated on each load.
func (p *Page) RouteFunc(url string, render func() string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[url] = render
	return p
}

// OnClick registers fn to run after any click or select on the element loc
// resolves to.
func (p *Page) OnClick(loc browser.Locator, fn Hook) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook{loc: loc, fn: fn})
	return p
}

// Load replaces the current document with the route at url, as a navigation
// triggered from page script would.
func (p *Page) Load(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(url, true)
}

// SetAttr sets an attribute on the first element loc resolves to.
func (p *Page) SetAttr(loc browser.Locator, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.resolveLocked(loc)
	if err != nil || len(nodes) == 0 {
		return
	}
	setAttr(nodes[0], name, value)
}

// SetAttrAfter sets the attribute once d has elapsed.
func (p *Page) SetAttrAfter(d time.Duration, loc browser.Locator, name, value string) {
	time.AfterFunc(d, func() { p.SetAttr(loc, name, value) })
}

// SelectedLabel returns the text of the selected option inside the select
// element loc resolves to.
func (p *Page) SelectedLabel(loc browser.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.resolveLocked(loc)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	for _, opt := range elementChildren(nodes[0]) {
		if _, ok := attr(opt, "selected"); ok {
			return strings.TrimSpace(htmlquery.InnerText(opt))
		}
	}
	return ""
}

// Value returns the value attribute of the first element loc resolves to.
func (p *Page) Value(loc browser.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.resolveLocked(loc)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	v, _ := attr(nodes[0], "value")
	return v
}

// URL returns the current document URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Actions returns the state-changing calls in the order they were issued.
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// Scripts returns every script passed to Evaluate.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// CookiesCleared reports whether DeleteCookies ran.
func (p *Page) CookiesCleared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookiesCleared
}

// Closed reports whether Close ran.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// -- browser.Page --

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "navigate "+url)
	return p.loadLocked(url, true)
}

func (p *Page) Back(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "back")
	if len(p.history) < 2 {
		return faults.Newf(faults.NavigationFailed, "back", "no history")
	}
	prev := p.history[len(p.history)-2]
	p.history = p.history[:len(p.history)-2]
	return p.loadLocked(prev, true)
}

func (p *Page) FindElement(ctx context.Context, loc browser.Locator) (browser.ElementRef, error) {
	refs, err := p.FindAll(ctx, loc)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, faults.Newf(faults.ElementNotFound, "find", "no element matches %s", loc)
	}
	return refs[0], nil
}

func (p *Page) FindAll(ctx context.Context, loc browser.Locator) ([]browser.ElementRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.resolveLocked(loc)
	if err != nil {
		return nil, faults.New(faults.ElementNotFound, "find "+loc.String(), err)
	}
	refs := make([]browser.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, p.refLocked(n))
	}
	return refs, nil
}

func (p *Page) Click(ctx context.Context, ref browser.ElementRef) error {
	n, err := p.node(ref)
	if err != nil {
		return faults.New(faults.ClickFailed, "click", err)
	}
	p.mu.Lock()
	p.actions = append(p.actions, "click "+describe(n))
	p.mu.Unlock()
	p.fire(n)
	return nil
}

func (p *Page) Type(ctx context.Context, ref browser.ElementRef, text string) error {
	n, err := p.node(ref)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "type "+describe(n))
	setAttr(n, "value", text)
	return nil
}

func (p *Page) Text(ctx context.Context, ref browser.ElementRef) (string, error) {
	if p.ReadDelay > 0 {
		select {
		case <-time.After(p.ReadDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n, err := p.node(ref)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(htmlquery.InnerText(n)), nil
}

func (p *Page) Attribute(ctx context.Context, ref browser.ElementRef, name string) (string, bool, error) {
	n, err := p.node(ref)
	if err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := attr(n, name)
	return v, ok, nil
}

func (p *Page) Select(ctx context.Context, option browser.ElementRef) error {
	n, err := p.node(option)
	if err != nil {
		return faults.New(faults.OptionNotFound, "select", err)
	}
	p.mu.Lock()
	if n.Parent == nil || n.Data != "option" {
		p.mu.Unlock()
		return faults.Newf(faults.OptionNotFound, "select", "%s is not an option", describe(n))
	}
	for _, sib := range elementChildren(n.Parent) {
		removeAttr(sib, "selected")
	}
	setAttr(n, "selected", "selected")
	p.actions = append(p.actions, "select "+strings.TrimSpace(htmlquery.InnerText(n)))
	p.mu.Unlock()
	p.fire(n)
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	if p.EvalErr != nil {
		return faults.New(faults.ScriptExecutionFailed, "evaluate", p.EvalErr)
	}
	return nil
}

func (p *Page) QueryChildIdentifiers(ctx context.Context, container browser.Locator) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EvalErr != nil {
		return nil, faults.New(faults.ScriptExecutionFailed, "children", p.EvalErr)
	}
	nodes, err := p.resolveLocked(container)
	if err != nil || len(nodes) == 0 {
		return nil, faults.Newf(faults.ElementNotFound, "children", "container %s not found", container)
	}
	var ids []string
	for _, c := range elementChildren(nodes[0]) {
		id, _ := attr(c, "id")
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Page) DeleteCookies(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookiesCleared = true
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// -- internals --

func (p *Page) loadLocked(url string, record bool) error {
	render, ok := p.routes[url]
	if !ok {
		return faults.Newf(faults.NavigationFailed, "navigate", "no route for %s", url)
	}
	doc, err := html.Parse(strings.NewReader(render()))
	if err != nil {
		return faults.New(faults.NavigationFailed, "navigate", err)
	}
	p.doc = doc
	p.url = url
	if record {
		p.history = append(p.history, url)
	}
	// Element handles do not survive navigation.
	p.refs = map[browser.ElementRef]*html.Node{}
	p.byNode = map[*html.Node]browser.ElementRef{}
	return nil
}

func (p *Page) resolveLocked(loc browser.Locator) ([]*html.Node, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	switch loc.By {
	case browser.ByID:
		var found []*html.Node
		walk(p.doc, func(n *html.Node) {
			if id, ok := attr(n, "id"); ok && id == loc.Value {
				found = append(found, n)
			}
		})
		return found, nil
	case browser.ByCSS:
		return goquery.NewDocumentFromNode(p.doc).Find(loc.Value).Nodes, nil
	default:
		return htmlquery.QueryAll(p.doc, loc.Value)
	}
}

func (p *Page) refLocked(n *html.Node) browser.ElementRef {
	if ref, ok := p.byNode[n]; ok {
		return ref
	}
	p.next++
	p.refs[p.next] = n
	p.byNode[n] = p.next
	return p.next
}

func (p *Page) node(ref browser.ElementRef) (*html.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.refs[ref]
	if !ok {
		return nil, faults.Newf(faults.ElementNotFound, "ref", "stale element reference %d", ref)
	}
	return n, nil
}

// fire runs the hooks whose locator resolves to n. Hooks run without the lock.
func (p *Page) fire(n *html.Node) {
	p.mu.Lock()
	var matched []Hook
	for _, h := range p.hooks {
		nodes, err := p.resolveLocked(h.loc)
		if err != nil {
			continue
		}
		for _, m := range nodes {
			if m == n {
				matched = append(matched, h.fn)
				break
			}
		}
	}
	p.mu.Unlock()
	for _, fn := range matched {
		fn(p)
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func describe(n *html.Node) string {
	if id, ok := attr(n, "id"); ok && id != "" {
		return "#" + id
	}
	return n.Data + "(" + strings.TrimSpace(htmlquery.InnerText(n)) + ")"
}
