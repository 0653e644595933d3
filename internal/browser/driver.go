// Package browser drives the target through a headless Chrome controlled with rod. Every fetch
// attempt and every login runs in its own incognito context so a broken page never leaks into
// the next one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"heatbot/internal/caseid"
	"heatbot/internal/config"
	"heatbot/internal/heat"
)

var tracer = otel.Tracer("heatbot/internal/browser")

// Options configure the browser driver.
type Options struct {
	Browser    config.BrowserConfig
	BaseURL    string
	LoginPaths []string
	SearchPath string
	UserAgent  string
	Locators   heat.FormLocators
	// SettleWait is the pause after submitting a search so client-side rendering can finish.
	SettleWait time.Duration
	Logger     *zap.Logger
}

// Driver owns the Chrome connection. It implements heat.Driver.
type Driver struct {
	opts       Options
	base       *url.URL
	navTimeout time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
}

var _ heat.Driver = (*Driver)(nil)

func New(opts Options) (*Driver, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if len(opts.LoginPaths) == 0 {
		opts.LoginPaths = []string{""}
	}
	if len(opts.Locators.Password) == 0 {
		opts.Locators = heat.DefaultFormLocators()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Driver{
		opts:       opts,
		base:       base,
		navTimeout: opts.Browser.NavigationTimeout(),
		logger:     opts.Logger,
	}, nil
}

func (d *Driver) Name() string { return "browser" }

// Start connects to an existing Chrome or launches a new one. A healthy connection is reused.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.connectLocked(ctx)
	return err
}

func (d *Driver) connectLocked(ctx context.Context) (*rod.Browser, error) {
	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return d.browser, nil
		}
		d.logger.Warn("stale browser connection detected, reconnecting")
		_ = d.browser.Close()
		d.browser = nil
		d.controlURL = ""
	}

	controlURL := d.opts.Browser.DebuggerURL
	if controlURL == "" {
		l := newLauncher(d.opts.Browser)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	// The connection outlives the request that happened to open it.
	b := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = b
	d.controlURL = controlURL
	d.logger.Info("browser connected", zap.String("control_url", controlURL))
	return b, nil
}

// newLauncher builds a launcher from the configured command: the first entry is the binary, the
// rest are Chrome flags with or without values.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.IsHeadless())
	if len(cfg.Launch) == 0 {
		return l
	}
	if bin := cfg.Launch[0]; bin != "" {
		l = l.Bin(bin)
	}
	for _, f := range parseLaunchFlags(cfg.Launch[1:]) {
		l = l.Set(f.name, f.values...)
	}
	return l
}

type launchFlag struct {
	name   flags.Flag
	values []string
}

func parseLaunchFlags(raw []string) []launchFlag {
	out := make([]launchFlag, 0, len(raw))
	for _, r := range raw {
		name, val, hasVal := strings.Cut(strings.TrimLeft(strings.TrimSpace(r), "-"), "=")
		if name == "" {
			continue
		}
		f := launchFlag{name: flags.Flag(name)}
		if hasVal {
			f.values = []string{val}
		}
		out = append(out, f)
	}
	return out
}

// ControlURL returns the DevTools websocket URL of the connected browser.
func (d *Driver) ControlURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controlURL
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.browser != nil
}

// Shutdown closes the browser and kills it when this process launched it.
func (d *Driver) Shutdown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher = nil
	}
	d.controlURL = ""
	d.logger.Info("browser shutdown complete")
	return err
}

// tab is one incognito context with a single page.
type tab struct {
	ctx  *rod.Browser
	page *rod.Page
}

func (t *tab) close() error {
	var errs []error
	if t.page != nil {
		errs = append(errs, t.page.Close())
	}
	if t.ctx != nil {
		errs = append(errs, t.ctx.Close())
	}
	return errors.Join(errs...)
}

func (d *Driver) openTab(ctx context.Context, cookies []*http.Cookie) (*tab, error) {
	d.mu.Lock()
	b, err := d.connectLocked(ctx)
	d.mu.Unlock()
	if err != nil {
		return nil, heat.Transient(err)
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, heat.Transient(fmt.Errorf("incognito context: %w", err))
	}
	t := &tab{ctx: incognito}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = t.close()
		return nil, heat.Transient(fmt.Errorf("create page: %w", err))
	}
	t.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.opts.Browser.GetViewportWidth(),
		Height:            d.opts.Browser.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		d.logger.Warn("failed to set viewport", zap.Error(err))
	}
	if d.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.opts.UserAgent}); err != nil {
			d.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}
	if len(cookies) > 0 {
		if err := page.SetCookies(toCookieParams(d.base, cookies)); err != nil {
			_ = t.close()
			return nil, heat.Transient(fmt.Errorf("set cookies: %w", err))
		}
	}
	return t, nil
}

func (d *Driver) resolve(ref string) string {
	u, err := d.base.Parse(ref)
	if err != nil {
		return d.base.String() + strings.TrimPrefix(ref, "/")
	}
	return u.String()
}

func (d *Driver) navigate(ctx context.Context, page *rod.Page, target string) error {
	p := page.Context(ctx).Timeout(d.navTimeout)
	defer p.CancelTimeout()
	if err := p.Navigate(target); err != nil {
		return navigationError("navigate "+target, err)
	}
	if err := p.WaitLoad(); err != nil {
		return navigationError("wait load "+target, err)
	}
	return nil
}

// waitLoad waits for the current document to load within the navigation timeout.
func (d *Driver) waitLoad(ctx context.Context, page *rod.Page) error {
	p := page.Context(ctx).Timeout(d.navTimeout)
	defer p.CancelTimeout()
	return p.WaitLoad()
}

// findElement returns the first element matched by the locator chain, preferring visible ones.
// Label locators only make sense for extraction and are skipped here.
func findElement(page *rod.Page, locators []heat.Locator) (*rod.Element, bool) {
	for _, loc := range locators {
		sel, ok := loc.Selector()
		if !ok {
			continue
		}
		els, err := page.Elements(sel)
		if err != nil || len(els) == 0 {
			continue
		}
		for _, el := range els {
			if visible, err := el.Visible(); err == nil && visible {
				return el, true
			}
		}
		return els[0], true
	}
	return nil, false
}

func fill(el *rod.Element, value string) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

// Authenticate walks the login path variants until one shows a login form, submits the
// credentials through the target's own UI and waits for the page to move past the login form.
func (d *Driver) Authenticate(ctx context.Context, creds heat.Credentials) (_ []*http.Cookie, err error) {
	ctx, span := tracer.Start(ctx, "browser.Authenticate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
		span.End()
	}()

	t, err := d.openTab(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer t.close()
	page := t.page.Context(ctx)

	var (
		pass, user *rod.Element
		loginURL   string
		lastErr    error
	)
	for _, path := range d.opts.LoginPaths {
		target := d.resolve(path)
		if err := d.navigate(ctx, page, target); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, heat.Transient(ctx.Err())
			}
			continue
		}
		p, ok := findElement(page, d.opts.Locators.Password)
		if !ok {
			continue
		}
		u, ok := findElement(page, d.opts.Locators.Username)
		if !ok {
			continue
		}
		pass, user, loginURL = p, u, target
		span.SetAttributes(attribute.String("login.path", path))
		break
	}
	if pass == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, heat.ErrLoginSurfaceNotFound
	}

	if err := fill(user, creds.Username); err != nil {
		return nil, navigationError("fill username", err)
	}
	if err := fill(pass, creds.Password); err != nil {
		return nil, navigationError("fill password", err)
	}
	if submit, ok := findElement(page, d.opts.Locators.Submit); ok {
		err = submit.Click(proto.InputMouseButtonLeft, 1)
	} else {
		err = pass.Type(input.Enter)
	}
	if err != nil {
		return nil, navigationError("submit login", err)
	}

	if !d.waitLeftLogin(ctx, page, loginURL) {
		if ctx.Err() != nil {
			return nil, heat.Transient(ctx.Err())
		}
		return nil, fmt.Errorf("%w: still on login page", heat.ErrAuthentication)
	}

	raw, err := page.Cookies([]string{d.base.String()})
	if err != nil {
		return nil, navigationError("read cookies", err)
	}
	return toHTTPCookies(raw), nil
}

// waitLeftLogin polls until the URL changed and the password field is gone, or the navigation
// timeout elapses.
func (d *Driver) waitLeftLogin(ctx context.Context, page *rod.Page, loginURL string) bool {
	deadline := time.Now().Add(d.navTimeout)
	for {
		if err := d.waitLoad(ctx, page); err != nil {
			d.logger.Debug("login page still loading", zap.String("kind", classifyError(err)))
		}
		info, err := page.Info()
		moved := err == nil && info != nil && info.URL != loginURL
		if _, still := findElement(page, d.opts.Locators.Password); moved && !still {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := sleepWithContext(ctx, 250*time.Millisecond); err != nil {
			return false
		}
	}
}

// Open prepares an incognito page carrying the session cookies.
func (d *Driver) Open(ctx context.Context, session heat.Session) (heat.Attempt, error) {
	t, err := d.openTab(ctx, session.Cookies)
	if err != nil {
		return nil, err
	}
	return &attempt{driver: d, tab: t}, nil
}

type attempt struct {
	driver *Driver
	tab    *tab
	last   *goquery.Document
}

func (a *attempt) Search(ctx context.Context, id caseid.ID) ([]heat.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "browser.Search")
	defer span.End()

	d := a.driver
	page := a.tab.page.Context(ctx)
	if err := d.navigate(ctx, page, d.resolve(d.opts.SearchPath)); err != nil {
		return nil, err
	}
	if _, ok := findElement(page, d.opts.Locators.Password); ok {
		return nil, fmt.Errorf("%w: session expired", heat.ErrAuthentication)
	}
	box, ok := findElement(page, d.opts.Locators.Search)
	if !ok {
		return nil, heat.Transient(errors.New("search box not found"))
	}
	if err := fill(box, id.String()); err != nil {
		return nil, navigationError("fill search", err)
	}
	if err := box.Type(input.Enter); err != nil {
		return nil, navigationError("submit search", err)
	}
	if err := d.waitLoad(ctx, page); err != nil {
		// The results may still render during the settle wait.
		d.logger.Debug("results page still loading", zap.String("kind", classifyError(err)))
	}
	if err := sleepWithContext(ctx, d.opts.SettleWait); err != nil {
		return nil, heat.Transient(err)
	}

	doc, err := snapshot(page)
	if err != nil {
		return nil, err
	}
	a.last = doc
	results := heat.ParseResults(doc, d.opts.Locators.Results)
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (a *attempt) OpenRecord(ctx context.Context, result heat.SearchResult) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "browser.OpenRecord")
	defer span.End()

	href := result.Href
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		if a.last == nil {
			return nil, heat.Transient(errors.New("no page to read the record from"))
		}
		return a.last, nil
	}
	page := a.tab.page.Context(ctx)
	target := a.driver.resolve(href)
	if info, err := page.Info(); err == nil && info != nil {
		if cur, err := url.Parse(info.URL); err == nil {
			if u, err := cur.Parse(href); err == nil {
				target = u.String()
			}
		}
	}
	if err := a.driver.navigate(ctx, page, target); err != nil {
		return nil, err
	}
	if err := sleepWithContext(ctx, a.driver.opts.SettleWait); err != nil {
		return nil, heat.Transient(err)
	}
	if _, ok := findElement(page, a.driver.opts.Locators.Password); ok {
		return nil, fmt.Errorf("%w: session expired", heat.ErrAuthentication)
	}
	return snapshot(page)
}

func (a *attempt) Close() error {
	return a.tab.close()
}

// snapshot parses the rendered DOM so extraction runs without further round trips.
func snapshot(page *rod.Page) (*goquery.Document, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, navigationError("read html", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, heat.Transient(fmt.Errorf("parsing html: %w", err))
	}
	if info, err := page.Info(); err == nil && info != nil {
		doc.Url, _ = url.Parse(info.URL)
	}
	return doc, nil
}
