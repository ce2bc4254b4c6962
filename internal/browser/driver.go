// Package browser is the narrow browser-driving surface the bot depends on,
// plus a registry of sessions keyed by role.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrNoAlert         = errors.New("no alert present")
)

// Strategy selects how a Locator's value is interpreted.
type Strategy int

const (
	ByID Strategy = iota
	ByClass
	ByTag
	ByName
	ByXPath
	ByCSS
)

func (s Strategy) String() string {
	switch s {
	case ByID:
		return "id"
	case ByClass:
		return "class"
	case ByTag:
		return "tag"
	case ByName:
		return "name"
	case ByXPath:
		return "xpath"
	case ByCSS:
		return "css"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

type Locator struct {
	By    Strategy
	Value string
}

func ID(v string) Locator    { return Locator{ByID, v} }
func Class(v string) Locator { return Locator{ByClass, v} }
func Tag(v string) Locator   { return Locator{ByTag, v} }
func Name(v string) Locator  { return Locator{ByName, v} }
func XPath(v string) Locator { return Locator{ByXPath, v} }
func CSS(v string) Locator   { return Locator{ByCSS, v} }

func (l Locator) String() string {
	return l.By.String() + "=" + l.Value
}

// Selector renders the locator as a CSS selector. XPath locators have no CSS
// form and return ok=false.
func (l Locator) Selector() (sel string, ok bool) {
	switch l.By {
	case ByID:
		return fmt.Sprintf("[id=%q]", l.Value), true
	case ByClass:
		return "." + l.Value, true
	case ByTag, ByCSS:
		return l.Value, true
	case ByName:
		return fmt.Sprintf("[name=%q]", l.Value), true
	}
	return "", false
}

// NotFound wraps ErrElementNotFound with the locator that missed.
func NotFound(l Locator) error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, l)
}

type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
	Expires  time.Time
}

// Element is a handle to a node on the current page.
type Element interface {
	Text() (string, error)
	// Attribute returns ok=false when the attribute is absent.
	Attribute(name string) (value string, ok bool, err error)
	Click() error
	// ClickScript dispatches the click through page script rather than the
	// mouse, for nodes that are covered or zero-sized.
	ClickScript() error
	Input(text string) error
	PressEnter() error
	// SelectText picks the option whose visible text equals text.
	SelectText(text string) error
	ScrollIntoView() error
	Screenshot() ([]byte, error)
	Find(l Locator) (Element, error)
	FindAll(l Locator) ([]Element, error)
}

// Driver controls one browser page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() (string, error)

	// Find returns ErrElementNotFound immediately when nothing matches.
	Find(l Locator) (Element, error)
	FindAll(l Locator) ([]Element, error)
	Exists(l Locator) (bool, error)
	// WaitVisible blocks until a matching element is visible or the timeout
	// elapses.
	WaitVisible(ctx context.Context, l Locator, timeout time.Duration) (Element, error)

	Cookies() ([]Cookie, error)
	SetCookie(c Cookie) error
	DeleteCookie(name, domain string) error

	Exec(js string) error
	Screenshot() ([]byte, error)
	HTML() (string, error)

	// AlertText returns ErrNoAlert when no dialog is open.
	AlertText() (string, error)
	AcceptAlert() error

	Close() error
}
