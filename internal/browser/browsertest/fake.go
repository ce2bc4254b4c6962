// Package browsertest provides a scriptable in-memory browser.Driver.
//
// A Fake holds the "current page" as a map from locator to elements. Tests
// seed it, attach hooks that mutate it when the bot clicks or navigates, and
// inspect the recorded call log afterwards.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tixbot/internal/browser"
)

type Fake struct {
	mu       sync.Mutex
	url      string
	elements map[browser.Locator][]*Element
	cookies  []browser.Cookie
	alert    *string
	calls    []string
	closed   bool

	// OnNavigate runs after the URL changes. It usually re-seeds elements for
	// the new page.
	OnNavigate func(f *Fake, url string)
	OnReload   func(f *Fake)
	// OnExec, when set, replaces the default no-op script evaluation.
	OnExec func(js string) error

	PageShot []byte
	PageHTML string
	CloseErr error
}

func New() *Fake {
	return &Fake{
		elements: make(map[browser.Locator][]*Element),
		PageShot: []byte("page-png"),
		PageHTML: "<html><body></body></html>",
	}
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Calls returns the recorded interactions in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Called reports whether any recorded call starts with prefix.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Count returns how many recorded calls equal call.
func (f *Fake) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Set replaces the elements matched by l.
func (f *Fake) Set(l browser.Locator, els ...*Element) {
	for _, el := range els {
		el.attach(f)
	}
	f.mu.Lock()
	f.elements[l] = els
	f.mu.Unlock()
}

func (f *Fake) Remove(l browser.Locator) {
	f.mu.Lock()
	delete(f.elements, l)
	f.mu.Unlock()
}

// Clear drops every element on the page.
func (f *Fake) Clear() {
	f.mu.Lock()
	f.elements = make(map[browser.Locator][]*Element)
	f.mu.Unlock()
}

func (f *Fake) SetURL(u string) {
	f.mu.Lock()
	f.url = u
	f.mu.Unlock()
}

// SetAlert opens a dialog with text.
func (f *Fake) SetAlert(text string) {
	f.mu.Lock()
	f.alert = &text
	f.mu.Unlock()
}

func (f *Fake) AlertOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alert != nil
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CookieList returns the cookies currently set.
func (f *Fake) CookieList() []browser.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Cookie(nil), f.cookies...)
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("navigate %s", url)
	f.SetURL(url)
	if f.OnNavigate != nil {
		f.OnNavigate(f, url)
	}
	return nil
}

func (f *Fake) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("reload")
	if f.OnReload != nil {
		f.OnReload(f)
	}
	return nil
}

func (f *Fake) URL() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) Find(l browser.Locator) (browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	els := f.elements[l]
	if len(els) == 0 {
		return nil, browser.NotFound(l)
	}
	return els[0], nil
}

func (f *Fake) FindAll(l browser.Locator) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return toElements(f.elements[l]), nil
}

func (f *Fake) Exists(l browser.Locator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.elements[l]) > 0, nil
}

// WaitVisible never blocks: the element is either on the page or not.
func (f *Fake) WaitVisible(ctx context.Context, l browser.Locator, timeout time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.record("wait %s", l)
	return f.Find(l)
}

func (f *Fake) Cookies() ([]browser.Cookie, error) {
	return f.CookieList(), nil
}

func (f *Fake) SetCookie(c browser.Cookie) error {
	f.record("set-cookie %s", c.Name)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.cookies {
		if existing.Name == c.Name && existing.Domain == c.Domain {
			f.cookies[i] = c
			return nil
		}
	}
	f.cookies = append(f.cookies, c)
	return nil
}

func (f *Fake) DeleteCookie(name, domain string) error {
	f.record("delete-cookie %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.cookies[:0]
	for _, c := range f.cookies {
		if c.Name == name && (domain == "" || c.Domain == domain) {
			continue
		}
		kept = append(kept, c)
	}
	f.cookies = kept
	return nil
}

func (f *Fake) Exec(js string) error {
	f.record("exec %s", js)
	if f.OnExec != nil {
		return f.OnExec(js)
	}
	return nil
}

func (f *Fake) Screenshot() ([]byte, error) {
	return f.PageShot, nil
}

func (f *Fake) HTML() (string, error) {
	return f.PageHTML, nil
}

func (f *Fake) AlertText() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alert == nil {
		return "", browser.ErrNoAlert
	}
	return *f.alert, nil
}

func (f *Fake) AcceptAlert() error {
	f.mu.Lock()
	if f.alert == nil {
		f.mu.Unlock()
		return browser.ErrNoAlert
	}
	f.alert = nil
	f.mu.Unlock()
	f.record("accept-alert")
	return nil
}

func (f *Fake) Close() error {
	f.record("close")
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.CloseErr
}

// Element is a scripted page node. Zero values are usable; hooks run without
// any lock held so they may freely mutate the owning Fake.
type Element struct {
	Name  string
	Label string
	Attrs map[string]string
	// Options lists the visible texts a select element accepts. Empty means
	// any text is accepted.
	Options []string
	Shot    []byte

	OnClick func() error
	OnInput func(text string) error
	OnEnter func() error

	mu       sync.Mutex
	owner    *Fake
	children map[browser.Locator][]*Element
	inputs   []string
	selected string
	clicks   int
}

// El builds a named element with the given visible text.
func El(name, text string) *Element {
	return &Element{Name: name, Label: text}
}

// WithAttr sets an attribute and returns e for chaining.
func (e *Element) WithAttr(name, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
	return e
}

// Add attaches child elements reachable through e.Find(l).
func (e *Element) Add(l browser.Locator, children ...*Element) *Element {
	e.mu.Lock()
	if e.children == nil {
		e.children = make(map[browser.Locator][]*Element)
	}
	e.children[l] = append(e.children[l], children...)
	owner := e.owner
	e.mu.Unlock()
	if owner != nil {
		for _, c := range children {
			c.attach(owner)
		}
	}
	return e
}

func (e *Element) attach(f *Fake) {
	e.mu.Lock()
	e.owner = f
	var kids []*Element
	for _, cs := range e.children {
		kids = append(kids, cs...)
	}
	e.mu.Unlock()
	for _, c := range kids {
		c.attach(f)
	}
}

func (e *Element) record(format string, args ...any) {
	e.mu.Lock()
	owner := e.owner
	e.mu.Unlock()
	if owner != nil {
		owner.record(format, args...)
	}
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Inputs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inputs...)
}

func (e *Element) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *Element) Text() (string, error) {
	return e.Label, nil
}

func (e *Element) Attribute(name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Click() error {
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	e.record("click %s", e.Name)
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) ClickScript() error {
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	e.record("script-click %s", e.Name)
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) Input(text string) error {
	e.mu.Lock()
	e.inputs = append(e.inputs, text)
	e.mu.Unlock()
	e.record("input %s", e.Name)
	if e.OnInput != nil {
		return e.OnInput(text)
	}
	return nil
}

func (e *Element) PressEnter() error {
	e.record("enter %s", e.Name)
	if e.OnEnter != nil {
		return e.OnEnter()
	}
	return nil
}

func (e *Element) SelectText(text string) error {
	if len(e.Options) > 0 {
		found := false
		for _, o := range e.Options {
			if o == text {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: option %q", browser.ErrElementNotFound, text)
		}
	}
	e.mu.Lock()
	e.selected = text
	e.mu.Unlock()
	e.record("select %s %s", e.Name, text)
	return nil
}

func (e *Element) ScrollIntoView() error {
	return nil
}

func (e *Element) Screenshot() ([]byte, error) {
	e.record("screenshot %s", e.Name)
	if e.Shot != nil {
		return e.Shot, nil
	}
	return []byte("png:" + e.Name), nil
}

func (e *Element) Find(l browser.Locator) (browser.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := e.children[l]
	if len(cs) == 0 {
		return nil, browser.NotFound(l)
	}
	return cs[0], nil
}

func (e *Element) FindAll(l browser.Locator) ([]browser.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toElements(e.children[l]), nil
}

func toElements(els []*Element) []browser.Element {
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}
