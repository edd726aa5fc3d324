// internal/browser/page.go
package browser

import "context"

// ElementRef is an opaque handle to an element of the current document. It is
// invalidated by the next navigation.
type ElementRef int64

// Page is the set of browser operations the portal flows rely on. Each call is
// a remote round trip and may fail independently.
//
// Calls that change page state (Navigate, Click, Select, Back) must be issued
// one at a time by the caller. Reads (FindElement, FindAll, Text, Attribute)
// against an already rendered subtree may run concurrently.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	FindElement(ctx context.Context, loc Locator) (ElementRef, error)
	FindAll(ctx context.Context, loc Locator) ([]ElementRef, error)
	Click(ctx context.Context, ref ElementRef) error
	Type(ctx context.Context, ref ElementRef, text string) error
	Text(ctx context.Context, ref ElementRef) (string, error)
	Attribute(ctx context.Context, ref ElementRef, name string) (string, bool, error)
	// Select marks an <option> as selected and fires change on its <select>.
	Select(ctx context.Context, option ElementRef) error
	Evaluate(ctx context.Context, script string, res any) error
	DeleteCookies(ctx context.Context) error
	Close() error
}

// ChildIdentifierQuerier lists the id attributes of a container's direct
// children. Row discovery depends only on this capability.
type ChildIdentifierQuerier interface {
	QueryChildIdentifiers(ctx context.Context, container Locator) ([]string, error)
}

// PageWithChildren is the full capability set a portal pipeline needs.
type PageWithChildren interface {
	Page
	ChildIdentifierQuerier
}
