// Package faults defines the error taxonomy shared by the browser layer, the
// portal flows and the field parsers. Callers match on Kind rather than on
// message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	DriverUnavailable
	SessionConnectFailed
	NavigationFailed
	ElementNotFound
	WaitTimeout
	ClickFailed
	ScriptExecutionFailed
	OptionNotFound
	DateParseError
	AmountParseError
	UsageParseError
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	DriverUnavailable:     "DriverUnavailable",
	SessionConnectFailed:  "SessionConnectFailed",
	NavigationFailed:      "NavigationFailed",
	ElementNotFound:       "ElementNotFound",
	WaitTimeout:           "WaitTimeout",
	ClickFailed:           "ClickFailed",
	ScriptExecutionFailed: "ScriptExecutionFailed",
	OptionNotFound:        "OptionNotFound",
	DateParseError:        "DateParseError",
	AmountParseError:      "AmountParseError",
	UsageParseError:       "UsageParseError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified failure. Op names the operation that failed, e.g.
// "click" or "login.submit".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: WaitTimeout})
// works without comparing Op or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Sentinel returns a bare error of kind k, suitable for errors.Is.
func Sentinel(k Kind) error { return &Error{Kind: k} }

// KindOf returns the Kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap annotates err with op while keeping its kind. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
