package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heatbot/internal/browser"
	"heatbot/internal/config"
	"heatbot/internal/webform"
)

const cliLogin = `<html><body><form method="post" action="login.asp">
<input type="text" name="txtuserId"><input type="password" name="txtPassword">
<input type="submit" name="submit" value="Entrar"></form></body></html>`

func fakeTarget(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/HEAT/", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, cliLogin) })
	mux.HandleFunc("/HEAT/login.asp", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("txtPassword") != "hunter2" {
			fmt.Fprint(w, cliLogin)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "ASPSESSIONID", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/HEAT/Default.aspx", http.StatusFound)
	})
	mux.HandleFunc("/HEAT/Default.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") == "REQ-123456" {
			fmt.Fprint(w, `<table id="searchResults"><tr><td><a href="CaseDetail.aspx?RecId=REQ-123456">REQ-123456</a></td></tr></table>`)
			return
		}
		fmt.Fprint(w, `<table id="searchResults"></table>`)
	})
	mux.HandleFunc("/HEAT/CaseDetail.aspx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table><tr><th>Client</th><td>Jane Doe</td></tr><tr><th>Status</th><td>Open</td></tr></table>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`server:
  log_level: error
target:
  driver: webform
  base_url: %s/HEAT/
fetch:
  max_attempts: 2
  min_fields: 2
  settle_wait: 0s
retry:
  initial_interval: 1ms
  max_interval: 1ms
health:
  enabled: false
`, baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { fetchFormat, fetchOut, configPath = "", "", "" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFetchCommandPrintsTable(t *testing.T) {
	srv := fakeTarget(t)
	t.Setenv(config.EnvHeatUsername, "agent")
	t.Setenv(config.EnvHeatPassword, "hunter2")

	out, err := execute(t, "--config", writeConfig(t, srv.URL), "fetch", "req123456", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Case REQ-123456")
	assert.Contains(t, out, "Jane Doe")
}

func TestFetchCommandWritesDocument(t *testing.T) {
	srv := fakeTarget(t)
	t.Setenv(config.EnvHeatUsername, "agent")
	t.Setenv(config.EnvHeatPassword, "hunter2")
	target := filepath.Join(t.TempDir(), "report.html")

	out, err := execute(t, "--config", writeConfig(t, srv.URL), "fetch", "REQ-123456", "--format", "document", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Jane Doe")
}

func TestFetchCommandAcceptsHTMLFormat(t *testing.T) {
	srv := fakeTarget(t)
	t.Setenv(config.EnvHeatUsername, "agent")
	t.Setenv(config.EnvHeatPassword, "hunter2")
	target := filepath.Join(t.TempDir(), "report.html")

	out, err := execute(t, "--config", writeConfig(t, srv.URL), "fetch", "REQ-123456", "--format", "html", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<table")
}

func TestFetchCommandReportsNotFound(t *testing.T) {
	srv := fakeTarget(t)
	t.Setenv(config.EnvHeatUsername, "agent")
	t.Setenv(config.EnvHeatPassword, "hunter2")

	out, err := execute(t, "--config", writeConfig(t, srv.URL), "fetch", "REQ-999999", "--format", "text")
	require.ErrorIs(t, err, errFetchFailed)
	assert.Contains(t, out, "Verify the case number")
}

func TestFetchCommandNeedsCredentials(t *testing.T) {
	srv := fakeTarget(t)
	t.Setenv(config.EnvHeatUsername, "")
	t.Setenv(config.EnvHeatPassword, "")

	_, err := execute(t, "--config", writeConfig(t, srv.URL), "fetch", "REQ-123456", "--format", "text")
	var cerr *config.ConfigurationError
	require.True(t, errors.As(err, &cerr), "%v", err)
	assert.Equal(t, []string{config.EnvHeatUsername, config.EnvHeatPassword}, cerr.Missing)
}

func TestFetchCommandRejectsBadCaseID(t *testing.T) {
	_, err := execute(t, "fetch", "hello")
	require.Error(t, err)
}

func TestNewDriverSelection(t *testing.T) {
	c := config.DefaultConfig()

	d, shutdown, err := newDriver(c, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &browser.Driver{}, d)
	require.NotNil(t, shutdown)

	c.Target.Driver = "webform"
	d, _, err = newDriver(c, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &webform.Driver{}, d)

	c.Target.Driver = "carrier-pigeon"
	_, _, err = newDriver(c, zap.NewNop())
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)

	c.Target.Driver = "webform"
	c.Target.PasswordLocators = []config.LocatorConfig{{Kind: "xpath", Value: "//input"}}
	_, _, err = newDriver(c, zap.NewNop())
	require.ErrorAs(t, err, &cerr)
}

func TestBuildAppRejectsUnknownField(t *testing.T) {
	c := config.DefaultConfig()
	c.Fields = []config.FieldConfig{{Field: "mood", Label: "Mood"}}
	_, err := buildApp(c, zap.NewNop())
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}
