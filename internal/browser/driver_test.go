package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatbot/internal/config"
	"heatbot/internal/heat"
)

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "judit/HEAT"})
	require.Error(t, err)

	d, err := New(Options{BaseURL: "https://example.test/HEAT"})
	require.NoError(t, err)
	assert.Equal(t, "browser", d.Name())
	assert.Equal(t, "https://example.test/HEAT/login.asp", d.resolve("login.asp"))
	assert.Equal(t, "https://example.test/HEAT/", d.resolve(""))
	assert.False(t, d.IsConnected())
	assert.Empty(t, d.ControlURL())
}

func TestNewUsesDefaultLocators(t *testing.T) {
	d, err := New(Options{BaseURL: "https://example.test/HEAT/"})
	require.NoError(t, err)
	assert.Equal(t, heat.DefaultFormLocators().Password, d.opts.Locators.Password)
	assert.Equal(t, 20*time.Second, d.navTimeout)
}

func TestParseLaunchFlags(t *testing.T) {
	got := parseLaunchFlags([]string{"--no-sandbox", "--window-size=1366,900", "  ", "-lang=es"})
	require.Len(t, got, 3)
	assert.Equal(t, flags.Flag("no-sandbox"), got[0].name)
	assert.Empty(t, got[0].values)
	assert.Equal(t, flags.Flag("window-size"), got[1].name)
	assert.Equal(t, []string{"1366,900"}, got[1].values)
	assert.Equal(t, flags.Flag("lang"), got[2].name)
}

func TestNewLauncherHonoursHeadless(t *testing.T) {
	off := false
	l := newLauncher(config.BrowserConfig{Headless: &off, Launch: []string{"/usr/bin/chromium", "--no-sandbox"}})
	assert.False(t, l.Has(flags.Headless))
	assert.True(t, l.Has(flags.Flag("no-sandbox")))
	assert.Equal(t, "/usr/bin/chromium", l.Get(flags.Bin))

	l = newLauncher(config.BrowserConfig{})
	assert.True(t, l.Has(flags.Headless))
}

func TestShutdownWithoutBrowser(t *testing.T) {
	d, err := New(Options{BaseURL: "https://example.test/HEAT/"})
	require.NoError(t, err)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, sleepWithContext(context.Background(), 0))
	require.NoError(t, sleepWithContext(context.Background(), -time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepWithContext(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassifyError(t *testing.T) {
	cases := map[string]error{
		"":         nil,
		"timeout":  context.DeadlineExceeded,
		"canceled": context.Canceled,
		"network":  errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED"),
		"detached": errors.New("{-32000 Node is detached from document }"),
		"script":   errors.New("eval: TypeError: x is undefined"),
		"unknown":  errors.New("something odd"),
	}
	for want, err := range cases {
		assert.Equal(t, want, classifyError(err), "%v", err)
	}
}

func TestNavigationErrorIsTransient(t *testing.T) {
	err := navigationError("navigate https://example.test", context.DeadlineExceeded)
	require.ErrorIs(t, err, heat.ErrTransientNavigation)
	assert.Contains(t, err.Error(), "(timeout)")
	assert.Equal(t, heat.CategoryTimeout, heat.Categorize(err))
}

func TestCookieConversionRoundTrip(t *testing.T) {
	base, _ := url.Parse("https://example.test/HEAT/")
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := []*http.Cookie{
		{Name: "ASPSESSIONID", Value: "abc", Path: "/", HttpOnly: true},
		{Name: "pref", Value: "es", Domain: "example.test", Secure: true, Expires: expires},
		{Name: ""},
		nil,
	}

	params := toCookieParams(base, in)
	require.Len(t, params, 2)
	assert.Equal(t, "https://example.test/HEAT/", params[0].URL)
	assert.Empty(t, params[0].Domain)
	assert.Equal(t, "example.test", params[1].Domain)
	assert.Equal(t, proto.TimeSinceEpoch(expires.Unix()), params[1].Expires)

	out := toHTTPCookies([]*proto.NetworkCookie{
		{Name: "ASPSESSIONID", Value: "abc", Domain: "example.test", Path: "/", HTTPOnly: true, Session: true},
		{Name: "pref", Value: "es", Domain: "example.test", Path: "/", Secure: true, Expires: proto.TimeSinceEpoch(expires.Unix())},
	})
	require.Len(t, out, 2)
	assert.True(t, out[0].HttpOnly)
	assert.True(t, out[0].Expires.IsZero())
	assert.Equal(t, expires, out[1].Expires)
}
