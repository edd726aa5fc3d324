// internal/browser/wait.go
package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

const defaultPollInterval = 250 * time.Millisecond

// Predicate inspects a located element and reports whether the wait is over.
// An error from a predicate is treated as "not yet".
type Predicate interface {
	Satisfied(ctx context.Context, page Page, ref ElementRef) (bool, error)
	String() string
}

type presentPredicate struct{}

// Present is satisfied as soon as the element can be located.
func Present() Predicate { return presentPredicate{} }

func (presentPredicate) Satisfied(context.Context, Page, ElementRef) (bool, error) { return true, nil }
func (presentPredicate) String() string                                           { return "present" }

// MatchMode controls how HiddenBy compares the attribute value.
type MatchMode int

const (
	MatchContains MatchMode = iota
	MatchEquals
)

type hiddenPredicate struct {
	attr   string
	marker string
	mode   MatchMode
}

// HiddenBy is satisfied when the element's attr carries marker, e.g. a style
// containing "display: none" or aria-hidden equal to "true".
func HiddenBy(attr, marker string, mode MatchMode) Predicate {
	return hiddenPredicate{attr: attr, marker: marker, mode: mode}
}

func (p hiddenPredicate) Satisfied(ctx context.Context, page Page, ref ElementRef) (bool, error) {
	v, ok, err := page.Attribute(ctx, ref, p.attr)
	if err != nil || !ok {
		return false, err
	}
	if p.mode == MatchEquals {
		return strings.TrimSpace(v) == p.marker, nil
	}
	return strings.Contains(v, p.marker), nil
}

func (p hiddenPredicate) String() string {
	op := "~="
	if p.mode == MatchEquals {
		op = "=="
	}
	return "hidden(" + p.attr + op + p.marker + ")"
}

// WaitUntil polls until the element located by loc satisfies pred and returns
// it. It fails with WaitTimeout when timeout elapses first, and with the
// context's error when ctx is cancelled.
func WaitUntil(ctx context.Context, page Page, loc Locator, pred Predicate, timeout, interval time.Duration) (ElementRef, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if ref, ok, err := probe(ctx, page, loc, pred); ok {
			return ref, nil
		} else if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			err := faults.Newf(faults.WaitTimeout, "wait", "%s not %s after %v", loc, pred, timeout)
			if lastErr != nil && !errors.Is(lastErr, faults.Sentinel(faults.ElementNotFound)) {
				err.Err = errors.Join(err.Err, lastErr)
			}
			return 0, err
		case <-ticker.C:
		}
	}
}

func probe(ctx context.Context, page Page, loc Locator, pred Predicate) (ElementRef, bool, error) {
	ref, err := page.FindElement(ctx, loc)
	if err != nil {
		return 0, false, err
	}
	ok, err := pred.Satisfied(ctx, page, ref)
	return ref, ok && err == nil, err
}
