// Package webform drives the target through plain HTTP form posts. It mirrors what a user does
// in the browser without rendering scripts, which is enough for the classic ASP pages.
package webform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"heatbot/internal/caseid"
	"heatbot/internal/heat"
)

var tracer = otel.Tracer("heatbot/internal/webform")

// Options configure the form driver.
type Options struct {
	BaseURL     string
	LoginPaths  []string
	LoginAction string
	SearchPath  string
	SearchParam string
	UserAgent   string
	Locators    heat.FormLocators
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// SettleWait is the pause after the search response before parsing, for servers that
	// populate results asynchronously behind a refresh.
	SettleWait time.Duration
	Logger     *zap.Logger
}

// Driver implements heat.Driver with resty and a cookie jar per login or attempt.
type Driver struct {
	base *url.URL
	opts Options
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
	if opts.SearchParam == "" {
		opts.SearchParam = "search"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.Locators.Password) == 0 {
		opts.Locators = heat.DefaultFormLocators()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Driver{base: base, opts: opts}, nil
}

func (d *Driver) Name() string { return "webform" }

func (d *Driver) newClient(cookies []*http.Cookie) (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if len(cookies) > 0 {
		jar.SetCookies(d.base, cookies)
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(d.opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10), resty.DomainCheckRedirectPolicy(d.base.Hostname()))
	if d.opts.UserAgent != "" {
		client.SetHeader("User-Agent", d.opts.UserAgent)
	}
	logger := d.opts.Logger
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		logger.Debug("http response",
			zap.String("method", res.Request.Method),
			zap.String("url", res.Request.URL),
			zap.Int("status", res.StatusCode()),
			zap.Duration("took", res.Time()))
		return nil
	})
	return client, nil
}

func (d *Driver) resolve(ref string) string {
	u, err := d.base.Parse(ref)
	if err != nil {
		return d.base.String() + strings.TrimPrefix(ref, "/")
	}
	return u.String()
}

// finalURL is where the response landed after redirects.
func finalURL(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	return nil
}

func parse(res *resty.Response) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, heat.Transient(fmt.Errorf("parsing html: %w", err))
	}
	if u := finalURL(res); u != nil {
		doc.Url = u
	}
	return doc, nil
}

// checkStatus maps HTTP statuses to the error taxonomy.
func checkStatus(res *resty.Response) error {
	switch code := res.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", heat.ErrAuthentication, code)
	case code >= 400:
		return heat.Transient(fmt.Errorf("status %d from %s", code, res.Request.URL))
	}
	return nil
}

func (d *Driver) get(ctx context.Context, client *resty.Client, target string, query url.Values) (*goquery.Document, error) {
	req := client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	res, err := req.Get(target)
	if err != nil {
		return nil, heat.Transient(err)
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	return parse(res)
}

// loginForm finds the password field on doc and returns the form around it. The second result
// is false when the page is not a login page.
func (d *Driver) loginForm(doc *goquery.Document) (*goquery.Selection, bool) {
	pw := firstMatch(doc.Selection, d.opts.Locators.Password)
	if pw.Length() == 0 {
		return nil, false
	}
	form := pw.Closest("form")
	if form.Length() == 0 {
		return doc.Selection, true
	}
	return form, true
}

func firstMatch(root *goquery.Selection, locators []heat.Locator) *goquery.Selection {
	for _, loc := range locators {
		if sel := loc.Find(root); sel.Length() > 0 {
			return sel.First()
		}
	}
	return &goquery.Selection{}
}

// formValues collects the form's own fields (hidden state included) and sets the credentials on
// the fields the locators point at.
func (d *Driver) formValues(form *goquery.Selection, creds heat.Credentials) (url.Values, error) {
	values := url.Values{}
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		switch strings.ToLower(s.AttrOr("type", "")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, ok := s.Attr("checked"); !ok {
				return
			}
		}
		values.Add(name, fieldValue(s))
	})

	user := firstMatch(form, d.opts.Locators.Username)
	userName, ok := user.Attr("name")
	if !ok {
		return nil, fmt.Errorf("%w: username field has no name", heat.ErrLoginSurfaceNotFound)
	}
	pass := firstMatch(form, d.opts.Locators.Password)
	passName, ok := pass.Attr("name")
	if !ok {
		return nil, fmt.Errorf("%w: password field has no name", heat.ErrLoginSurfaceNotFound)
	}
	values.Set(userName, creds.Username)
	values.Set(passName, creds.Password)

	if submit := firstMatch(form, d.opts.Locators.Submit); submit.Length() > 0 {
		if name, ok := submit.Attr("name"); ok {
			values.Set(name, submit.AttrOr("value", ""))
		}
	}
	return values, nil
}

// fieldValue is what a browser submits for a control, which differs from what it displays.
func fieldValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return opt.Text()
	case "textarea":
		return s.Text()
	}
	return s.AttrOr("value", "")
}

func (d *Driver) formAction(form *goquery.Selection, page *url.URL) string {
	action := strings.TrimSpace(form.AttrOr("action", ""))
	if action == "" || !form.Is("form") {
		return d.resolve(d.opts.LoginAction)
	}
	if page != nil {
		if u, err := page.Parse(action); err == nil {
			return u.String()
		}
	}
	return d.resolve(action)
}

// Authenticate loads each candidate login page until one carries a login form, posts the
// credentials and confirms the response moved past the login page.
func (d *Driver) Authenticate(ctx context.Context, creds heat.Credentials) (_ []*http.Cookie, err error) {
	ctx, span := tracer.Start(ctx, "webform.Authenticate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
		span.End()
	}()

	client, err := d.newClient(nil)
	if err != nil {
		return nil, err
	}

	var (
		form    *goquery.Selection
		page    *url.URL
		lastErr error
	)
	for _, path := range d.opts.LoginPaths {
		doc, err := d.get(ctx, client, d.resolve(path), nil)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, heat.Transient(ctx.Err())
			}
			continue
		}
		if f, ok := d.loginForm(doc); ok {
			form, page = f, doc.Url
			span.SetAttributes(attribute.String("login.path", path))
			break
		}
	}
	if form == nil {
		// Unreachable pages are retried; reachable pages without a form are not.
		if lastErr != nil && !errors.Is(lastErr, heat.ErrAuthentication) {
			return nil, lastErr
		}
		return nil, heat.ErrLoginSurfaceNotFound
	}

	values, err := d.formValues(form, creds)
	if err != nil {
		return nil, err
	}
	res, err := client.R().
		SetContext(ctx).
		SetFormDataFromValues(values).
		Post(d.formAction(form, page))
	if err != nil {
		return nil, heat.Transient(err)
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	doc, err := parse(res)
	if err != nil {
		return nil, err
	}
	if _, still := d.loginForm(doc); still {
		return nil, fmt.Errorf("%w: still on login page", heat.ErrAuthentication)
	}

	cookies := client.GetClient().Jar.Cookies(d.base)
	d.opts.Logger.Debug("login accepted", zap.Int("cookies", len(cookies)))
	return cookies, nil
}

// Open prepares a client carrying the session cookies.
func (d *Driver) Open(_ context.Context, session heat.Session) (heat.Attempt, error) {
	client, err := d.newClient(session.Cookies)
	if err != nil {
		return nil, err
	}
	return &attempt{driver: d, client: client}, nil
}

type attempt struct {
	driver *Driver
	client *resty.Client
	// last is the most recent search page, used when the search lands on the record itself.
	last *goquery.Document
}

func (a *attempt) Search(ctx context.Context, id caseid.ID) ([]heat.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "webform.Search")
	defer span.End()

	d := a.driver
	doc, err := d.get(ctx, a.client, d.resolve(d.opts.SearchPath), url.Values{d.opts.SearchParam: {id.String()}})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, ok := d.loginForm(doc); ok {
		return nil, fmt.Errorf("%w: session expired", heat.ErrAuthentication)
	}
	if d.opts.SettleWait > 0 {
		select {
		case <-ctx.Done():
			return nil, heat.Transient(ctx.Err())
		case <-time.After(d.opts.SettleWait):
		}
	}
	a.last = doc

	results := heat.ParseResults(doc, d.opts.Locators.Results)
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (a *attempt) OpenRecord(ctx context.Context, result heat.SearchResult) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "webform.OpenRecord")
	defer span.End()

	if result.Href == "" || strings.HasPrefix(result.Href, "#") || strings.HasPrefix(strings.ToLower(result.Href), "javascript:") {
		if a.last == nil {
			return nil, heat.Transient(errors.New("no page to read the record from"))
		}
		return a.last, nil
	}
	target := result.Href
	if a.last != nil && a.last.Url != nil {
		if u, err := a.last.Url.Parse(result.Href); err == nil {
			target = u.String()
		}
	} else {
		target = a.driver.resolve(result.Href)
	}
	doc, err := a.driver.get(ctx, a.client, target, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, ok := a.driver.loginForm(doc); ok {
		return nil, fmt.Errorf("%w: session expired", heat.ErrAuthentication)
	}
	return doc, nil
}

func (a *attempt) Close() error {
	a.client.GetClient().CloseIdleConnections()
	a.last = nil
	return nil
}
