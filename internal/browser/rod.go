package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"tixbot/internal/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// RodOptions configures how browsers are launched.
type RodOptions struct {
	Headless bool
	// ProfileDir, when set, gets one sub-directory per role so concurrent
	// sessions never fight over the Chrome profile lock.
	ProfileDir     string
	Stealth        bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// RemoteURL connects to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL string
}

// NewRodFactory returns a Factory that launches one Chrome per session.
func NewRodFactory(opts RodOptions) Factory {
	return func(ctx context.Context, role Role) (Driver, error) {
		return LaunchRod(ctx, opts, role)
	}
}

// RodDriver drives a single Chrome page through the DevTools protocol.
type RodDriver struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher

	mu     sync.Mutex
	dialog *proto.PageJavascriptDialogOpening
}

func LaunchRod(ctx context.Context, opts RodOptions, role Role) (*RodDriver, error) {
	log := logger.Get().With(zap.Stringer("role", role))
	d := &RodDriver{}

	controlURL := opts.RemoteURL
	if controlURL == "" {
		// Leakless deadlocks on Windows: https://github.com/go-rod/rod/issues/853
		useLeakless := runtime.GOOS != "windows"

		d.launcher = launcher.New().
			Context(ctx).
			Leakless(useLeakless).
			Headless(opts.Headless)

		if opts.ProfileDir != "" {
			d.launcher = d.launcher.UserDataDir(filepath.Join(opts.ProfileDir, role.String()))
		}

		if chromePath, ok := launcher.LookPath(); ok {
			d.launcher = d.launcher.Bin(chromePath)
			log.Debug("using system chrome", zap.String("path", chromePath))
		} else {
			log.Info("system chrome not found, using downloaded chromium")
		}

		u, err := d.launcher.Launch()
		if err != nil {
			errMsg := err.Error()
			if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
				return nil, fmt.Errorf("chrome profile is locked by another running browser: %w", err)
			}
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	d.browser = rod.New().ControlURL(controlURL)
	if err := d.browser.Connect(); err != nil {
		d.cleanupLauncher()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	var err error
	if opts.Stealth {
		d.page, err = stealth.Page(d.browser)
	} else {
		d.page, err = d.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if err := d.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		log.Debug("failed to set user agent", zap.Error(err))
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err := d.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		})
		if err != nil {
			log.Debug("failed to set viewport", zap.Error(err))
		}
	}

	go d.page.EachEvent(
		func(e *proto.PageJavascriptDialogOpening) {
			d.mu.Lock()
			d.dialog = e
			d.mu.Unlock()
		},
		func(e *proto.PageJavascriptDialogClosed) {
			d.mu.Lock()
			d.dialog = nil
			d.mu.Unlock()
		},
	)()

	log.Info("browser launched")
	return d, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}
	return nil
}

func (d *RodDriver) Reload(ctx context.Context) error {
	p := d.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return p.WaitLoad()
}

func (d *RodDriver) URL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *RodDriver) Find(l Locator) (Element, error) {
	var (
		ok  bool
		el  *rod.Element
		err error
	)
	if sel, css := l.Selector(); css {
		ok, el, err = d.page.Has(sel)
	} else {
		ok, el, err = d.page.HasX(l.Value)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFound(l)
	}
	return &rodElement{el: el}, nil
}

func (d *RodDriver) FindAll(l Locator) ([]Element, error) {
	var (
		els rod.Elements
		err error
	)
	if sel, css := l.Selector(); css {
		els, err = d.page.Elements(sel)
	} else {
		els, err = d.page.ElementsX(l.Value)
	}
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (d *RodDriver) Exists(l Locator) (bool, error) {
	_, err := d.Find(l)
	if errors.Is(err, ErrElementNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *RodDriver) WaitVisible(ctx context.Context, l Locator, timeout time.Duration) (Element, error) {
	p := d.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	var (
		el  *rod.Element
		err error
	)
	if sel, css := l.Selector(); css {
		el, err = p.Element(sel)
	} else {
		el, err = p.ElementX(l.Value)
	}
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s not visible after %s", ErrElementNotFound, l, timeout)
		}
		return nil, err
	}
	return &rodElement{el: el.Context(d.page.GetContext())}, nil
}

func (d *RodDriver) Cookies() ([]Cookie, error) {
	raw, err := d.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		var expires time.Time
		if c.Expires > 0 {
			expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
			Expires:  expires,
		})
	}
	return cookies, nil
}

func (d *RodDriver) SetCookie(c Cookie) error {
	param := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: proto.NetworkCookieSameSite(c.SameSite),
	}
	if !c.Expires.IsZero() {
		param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
	}
	if err := d.page.SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
	}
	return nil
}

func (d *RodDriver) DeleteCookie(name, domain string) error {
	return proto.NetworkDeleteCookies{Name: name, Domain: domain}.Call(d.page)
}

func (d *RodDriver) Exec(js string) error {
	_, err := d.page.Eval(fmt.Sprintf("() => { %s }", js))
	return err
}

func (d *RodDriver) Screenshot() ([]byte, error) {
	return d.page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (d *RodDriver) HTML() (string, error) {
	return d.page.HTML()
}

func (d *RodDriver) AlertText() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialog == nil {
		return "", ErrNoAlert
	}
	return d.dialog.Message, nil
}

func (d *RodDriver) AcceptAlert() error {
	d.mu.Lock()
	open := d.dialog != nil
	d.mu.Unlock()
	if !open {
		return ErrNoAlert
	}

	if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(d.page); err != nil {
		return fmt.Errorf("failed to accept alert: %w", err)
	}
	d.mu.Lock()
	d.dialog = nil
	d.mu.Unlock()
	return nil
}

// Close tears down the page, the browser and the launched process. Every
// step runs even if an earlier one fails.
func (d *RodDriver) Close() error {
	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.cleanupLauncher()
	return errors.Join(errs...)
}

func (d *RodDriver) cleanupLauncher() {
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) ClickScript() error {
	_, err := e.el.Eval(`() => this.click()`)
	return err
}

func (e *rodElement) Input(text string) error {
	return e.el.Input(text)
}

func (e *rodElement) PressEnter() error {
	return e.el.Type(input.Enter)
}

const selectByTextJS = `(text) => {
	const opt = Array.from(this.options).find(o => o.text.trim() === text);
	if (!opt) return false;
	this.value = opt.value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
}`

func (e *rodElement) SelectText(text string) error {
	res, err := e.el.Eval(selectByTextJS, text)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: option %q", ErrElementNotFound, text)
	}
	return nil
}

func (e *rodElement) ScrollIntoView() error {
	return e.el.ScrollIntoView()
}

func (e *rodElement) Screenshot() ([]byte, error) {
	return e.el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (e *rodElement) Find(l Locator) (Element, error) {
	var (
		el  *rod.Element
		err error
	)
	if sel, css := l.Selector(); css {
		el, err = e.el.Element(sel)
	} else {
		el, err = e.el.ElementX(l.Value)
	}
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, NotFound(l)
		}
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) FindAll(l Locator) ([]Element, error) {
	var (
		els rod.Elements
		err error
	)
	if sel, css := l.Selector(); css {
		els, err = e.el.Elements(sel)
	} else {
		els, err = e.el.ElementsX(l.Value)
	}
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}
