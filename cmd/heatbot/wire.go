package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"heatbot/internal/browser"
	"heatbot/internal/config"
	"heatbot/internal/heat"
	"heatbot/internal/recorder"
	"heatbot/internal/report"
	"heatbot/internal/retry"
	"heatbot/internal/webform"
)

// app is the wired fetch pipeline shared by serve and fetch.
type app struct {
	driver   heat.Driver
	sessions *heat.SessionManager
	fetcher  *heat.Fetcher
	renderer *report.Renderer
	format   report.Format
	shutdown func(context.Context) error
}

func retryPolicy(c config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.Fetch.GetMaxAttempts(),
		InitialInterval: c.Retry.InitialIntervalDuration(),
		MaxInterval:     c.Retry.MaxIntervalDuration(),
		Multiplier:      c.Retry.Multiplier,
	}
}

// newDriver picks the target driver from config.
func newDriver(c config.Config, log *zap.Logger) (heat.Driver, func(context.Context) error, error) {
	locators, err := heat.FormLocatorsFromConfig(c.Target)
	if err != nil {
		return nil, nil, &config.ConfigurationError{Err: err}
	}
	noop := func(context.Context) error { return nil }

	switch c.Target.Driver {
	case "webform":
		d, err := webform.New(webform.Options{
			BaseURL:     c.Target.BaseURL,
			LoginPaths:  c.Target.LoginPaths,
			LoginAction: c.Target.LoginAction,
			SearchPath:  c.Target.SearchPath,
			SearchParam: c.Target.SearchParam,
			UserAgent:   c.Target.UserAgent,
			Locators:    locators,
			Timeout:     c.Browser.NavigationTimeout(),
			SettleWait:  c.Fetch.SettleWaitDuration(),
			Logger:      log.Named("webform"),
		})
		if err != nil {
			return nil, nil, &config.ConfigurationError{Err: err}
		}
		return d, noop, nil
	case "browser", "":
		d, err := browser.New(browser.Options{
			Browser:    c.Browser,
			BaseURL:    c.Target.BaseURL,
			LoginPaths: c.Target.LoginPaths,
			SearchPath: c.Target.SearchPath,
			UserAgent:  c.Target.UserAgent,
			Locators:   locators,
			SettleWait: c.Fetch.SettleWaitDuration(),
			Logger:     log.Named("browser"),
		})
		if err != nil {
			return nil, nil, &config.ConfigurationError{Err: err}
		}
		return d, d.Shutdown, nil
	}
	return nil, nil, &config.ConfigurationError{Err: fmt.Errorf("unknown target driver %q", c.Target.Driver)}
}

func buildApp(c config.Config, log *zap.Logger) (*app, error) {
	specs, err := heat.SpecsFromConfig(c.Fields)
	if err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}
	format, err := report.ParseFormat(c.Bot.Format)
	if err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}

	var rec *recorder.Recorder
	if c.Recorder.Enabled {
		rec, err = recorder.NewRecorder(c.Recorder.Dir, c.Recorder.Keep)
		if err != nil {
			return nil, fmt.Errorf("request traces: %w", err)
		}
	}

	driver, shutdown, err := newDriver(c, log)
	if err != nil {
		return nil, err
	}

	creds := heat.Credentials{Username: c.Target.Username, Password: c.Target.Password}
	policy := retryPolicy(c)
	sessions := heat.NewSessionManager(driver, creds, heat.SessionOptions{
		Timeout:      c.Session.TimeoutDuration(),
		Retry:        policy,
		LoginTimeout: c.Fetch.AttemptTimeoutDuration(),
		Logger:       log.Named("session"),
	})
	fetcher := heat.NewFetcher(driver, sessions, heat.FetcherOptions{
		Specs:             specs,
		Retry:             policy,
		AttemptTimeout:    c.Fetch.AttemptTimeoutDuration(),
		MinFields:         c.Fetch.MinFields,
		SyntheticFallback: c.Fetch.SyntheticFallback,
		Secrets:           []string{c.Target.Password, c.Bot.Token},
		Recorder:          rec,
		Logger:            log.Named("fetch"),
	})

	return &app{
		driver:   driver,
		sessions: sessions,
		fetcher:  fetcher,
		renderer: report.NewRenderer(report.WithLabels(heat.Labels(specs))),
		format:   format,
		shutdown: shutdown,
	}, nil
}
